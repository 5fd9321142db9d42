// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alextra-lab/personal-agent-sub001/services/approval"
	"github.com/alextra-lab/personal-agent-sub001/services/engine"
	"github.com/alextra-lab/personal-agent-sub001/services/governor"
	"github.com/alextra-lab/personal-agent-sub001/services/session"
)

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.cfg.Controller.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   snap.Mode,
	})
}

type submitTaskRequest struct {
	Goal     string            `json:"goal" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

// handleSubmitTask runs the task to completion and returns the terminal
// result. Tasks are bounded by the mode's budget, so the call is too.
func (s *Server) handleSubmitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.cfg.Executor.Execute(c.Request.Context(), engine.TaskRequest{
		Goal:     req.Goal,
		Metadata: req.Metadata,
	})
	if err != nil {
		if errors.Is(err, engine.ErrTaskRejected) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if res.State == engine.StateFailed {
		c.JSON(http.StatusOK, failedTaskBody(res.TraceID))
		return
	}
	c.JSON(http.StatusOK, res)
}

// failedTaskBody is the only shape failed tasks take on the wire: the trace
// id and a generic summary. Step-level error detail stays in the logs and
// telemetry, keyed by the trace id.
func failedTaskBody(traceID string) gin.H {
	return gin.H{
		"trace_id": traceID,
		"state":    engine.StateFailed,
		"error":    "task failed",
	}
}

func (s *Server) handleListTasks(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	recs, err := s.cfg.Store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, taskRecordBody(rec))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// taskRecordBody trims failed records down to the generic summary before
// they leave the process.
func taskRecordBody(rec *engine.TaskRecord) any {
	if rec.State != engine.StateFailed {
		return rec
	}
	body := failedTaskBody(rec.TraceID)
	body["goal"] = rec.Goal
	body["started_at"] = rec.StartedAt
	body["finished_at"] = rec.FinishedAt
	return body
}

func (s *Server) handleGetTask(c *gin.Context) {
	rec, err := s.cfg.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskRecordBody(rec))
}

func (s *Server) handleGetMode(c *gin.Context) {
	snap := s.cfg.Controller.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"mode":              snap.Mode,
		"version":           snap.Version,
		"changed_at":        snap.ChangedAt,
		"sampling_interval": snap.SamplingInterval.String(),
		"concurrency_limit": snap.Constraints.ConcurrencyLimit,
		"step_timeout":      snap.Constraints.StepTimeout.String(),
		"task_budget":       snap.Constraints.TaskBudget.String(),
	})
}

type forceModeRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleForceMode(c *gin.Context) {
	var req forceModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target, err := governor.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator override"
	}

	if err := s.cfg.Controller.Force(c.Request.Context(), target, reason); err != nil {
		if errors.Is(err, governor.ErrTransitionRejected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": target})
}

func (s *Server) handleListApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"approvals": s.cfg.Approvals.Pending()})
}

type resolveApprovalRequest struct {
	Granted   *bool  `json:"granted" binding:"required"`
	DecidedBy string `json:"decided_by"`
}

func (s *Server) handleResolveApproval(c *gin.Context) {
	var req resolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "operator"
	}

	err := s.cfg.Approvals.Resolve(c.Param("id"), *req.Granted, decidedBy)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "granted": *req.Granted})
	}
}

// handleMetricWindow returns the recent sample window, the same view the
// mode controller evaluates. An optional ?since=30s narrows it to samples
// newer than that duration ago.
func (s *Server) handleMetricWindow(c *gin.Context) {
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive duration, e.g. 30s"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"samples": s.cfg.Window.Since(d)})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Window)
}
