// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the engine over HTTP: task submission, mode
// inspection and override, approval resolution, and operational endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/alextra-lab/personal-agent-sub001/services/approval"
	"github.com/alextra-lab/personal-agent-sub001/services/engine"
	"github.com/alextra-lab/personal-agent-sub001/services/governor"
	"github.com/alextra-lab/personal-agent-sub001/services/metrics"
	"github.com/alextra-lab/personal-agent-sub001/services/session"
	"github.com/alextra-lab/personal-agent-sub001/services/telemetry"
)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Executor runs submitted tasks. Required.
	Executor *engine.Executor

	// Controller is the mode controller. Required.
	Controller *governor.Controller

	// Approvals is the approval broker. Required.
	Approvals *approval.Broker

	// Store is the task archive. Required.
	Store *session.Store

	// Window is the metric sample window. Required.
	Window *metrics.Window

	// Logger for request-level events. Nil means slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP surface of the engine.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router *gin.Engine
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Executor == nil || cfg.Controller == nil || cfg.Approvals == nil ||
		cfg.Store == nil || cfg.Window == nil {
		return nil, errors.New("server requires executor, controller, approvals, store, and window")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(otelgin.Middleware("sentinel"))
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	s.router = router

	return s, nil
}

// Router returns the underlying router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", s.metricsHandler())

	v1 := router.Group("/v1")
	{
		v1.POST("/tasks", s.handleSubmitTask)
		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:id", s.handleGetTask)

		v1.GET("/mode", s.handleGetMode)
		v1.POST("/mode", s.handleForceMode)

		v1.GET("/approvals", s.handleListApprovals)
		v1.POST("/approvals/:id", s.handleResolveApproval)

		v1.GET("/metrics/window", s.handleMetricWindow)
	}
}

// metricsHandler prefers the telemetry-composed handler so OTel instruments
// and promauto counters serve from one endpoint.
func (s *Server) metricsHandler() gin.HandlerFunc {
	h := telemetry.MetricsHandler()
	if h == nil {
		h = promhttp.Handler()
	}
	return gin.WrapH(h)
}

// Run serves until the context is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
