// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/alextra-lab/personal-agent-sub001/services/approval"
	"github.com/alextra-lab/personal-agent-sub001/services/gate"
	"github.com/alextra-lab/personal-agent-sub001/services/governor"
)

var tracer = otel.Tracer("services/engine")

const (
	defaultTaskBudget      = 10 * time.Minute
	defaultStepTimeout     = 60 * time.Second
	defaultApprovalTimeout = 2 * time.Minute
	archiveTimeout         = 5 * time.Second
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_tasks_total",
		Help: "Finished tasks by terminal state.",
	}, []string{"state"})
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_steps_total",
		Help: "Executed steps by task state and gate effect.",
	}, []string{"state", "effect"})
	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_task_duration_seconds",
		Help:    "Wall-clock task duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// SnapshotSource provides the live governance snapshot.
type SnapshotSource interface {
	Snapshot() *governor.Snapshot
}

// FailureRecorder feeds the task_failures metric.
type FailureRecorder interface {
	Incr(reading string)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Handlers must cover every active task state.
	Handlers []Handler

	// Gate checks every step's capability. Required.
	Gate *gate.Gate

	// Approvals resolves RequiresApproval decisions. Required.
	Approvals *approval.Broker

	// Snapshots supplies timeouts and budgets per step. Required.
	Snapshots SnapshotSource

	// Archiver persists finished tasks. May be nil.
	Archiver Archiver

	// Failures counts failed tasks toward the feedback metrics. May be nil.
	Failures FailureRecorder

	// Logger for task lifecycle events. Nil means slog.Default().
	Logger *slog.Logger
}

// Executor drives one task at a time per call through the state machine.
//
// Description:
//
//	Each loop iteration is one step: allocate a sequence number, check the
//	step's capability against the gate, wait out any required approval,
//	run the handler under the step timeout, record the outcome, and
//	advance. Exactly one step record is written per iteration, so the
//	trace sequence is gap-free whatever the outcome. A handler panic
//	fails the task, never the engine.
//
// Thread Safety:
//
//	Safe for concurrent Execute calls; each call owns its own context.
type Executor struct {
	handlers  map[TaskState]Handler
	gate      *gate.Gate
	approvals *approval.Broker
	snapshots SnapshotSource
	archiver  Archiver
	failures  FailureRecorder
	logger    *slog.Logger
}

// NewExecutor validates the configuration and builds an executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Gate == nil || cfg.Approvals == nil || cfg.Snapshots == nil {
		return nil, errors.New("executor requires gate, approvals, and snapshots")
	}

	handlers := make(map[TaskState]Handler, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if _, dup := handlers[h.State()]; dup {
			return nil, fmt.Errorf("duplicate handler for state %s", h.State())
		}
		handlers[h.State()] = h
	}
	for _, s := range AllStates() {
		if s.IsActive() {
			if _, ok := handlers[s]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoHandler, s)
			}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		handlers:  handlers,
		gate:      cfg.Gate,
		approvals: cfg.Approvals,
		snapshots: cfg.Snapshots,
		archiver:  cfg.Archiver,
		failures:  cfg.Failures,
		logger:    logger,
	}, nil
}

// Execute runs one task to a terminal state.
//
// Outputs:
//
//	*TaskResult - The terminal outcome, including failed tasks.
//	error - Non-nil only when the task was rejected at admission and
//	        never started.
func (e *Executor) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	return e.Resume(ctx, &ExecutionContext{
		Trace:     NewTraceContext(),
		Request:   req,
		State:     StateInit,
		StartedAt: time.Now().UTC(),
	})
}

// Resume drives an execution context to a terminal state. A context already
// in a terminal state is returned as-is: no steps run, nothing is archived
// or counted again.
func (e *Executor) Resume(ctx context.Context, ec *ExecutionContext) (*TaskResult, error) {
	if ec.State.IsTerminal() {
		return &TaskResult{
			TraceID: ec.Trace.TraceID,
			State:   ec.State,
			Answer:  ec.Answer,
			Steps:   ec.Trace.Steps(),
		}, nil
	}

	if err := e.gate.AcquireSlot(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskRejected, err)
	}
	defer e.gate.ReleaseSlot()

	budget := e.snapshots.Snapshot().Constraints.TaskBudget
	if budget <= 0 {
		budget = defaultTaskBudget
	}
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	tctx, span := tracer.Start(tctx, "engine.task",
		oteltrace.WithAttributes(
			attribute.String("task.trace_id", ec.Trace.TraceID),
		))
	defer span.End()

	e.logger.Info("task admitted",
		"trace_id", ec.Trace.TraceID,
		"budget", budget,
	)

	var taskErr error
	for ec.State.IsActive() {
		if tctx.Err() != nil {
			taskErr = ErrBudgetExceeded
			ec.Trace.Record(StepRecord{
				Seq:       ec.Trace.NextSeq(),
				State:     ec.State,
				Error:     taskErr.Error(),
				StartedAt: time.Now().UTC(),
			})
			_ = ec.SetState(StateFailed)
			break
		}
		if err := e.step(tctx, ec); err != nil {
			taskErr = err
			_ = ec.SetState(StateFailed)
		}
	}

	return e.finish(ctx, ec, taskErr), nil
}

// step executes one state machine step, writing exactly one step record.
func (e *Executor) step(ctx context.Context, ec *ExecutionContext) error {
	h := e.handlers[ec.State]
	capability := h.Capability(ec)

	rec := StepRecord{
		Seq:        ec.Trace.NextSeq(),
		State:      ec.State,
		Capability: capability,
		StartedAt:  time.Now().UTC(),
	}
	defer func() {
		rec.Duration = time.Since(rec.StartedAt)
		ec.Trace.Record(rec)
		stepsTotal.WithLabelValues(string(rec.State), string(rec.Effect)).Inc()
	}()

	ctx, span := tracer.Start(ctx, "engine.step",
		oteltrace.WithAttributes(
			attribute.String("task.trace_id", ec.Trace.TraceID),
			attribute.String("task.state", string(ec.State)),
			attribute.String("task.capability", capability),
			attribute.Int64("task.seq", int64(rec.Seq)),
		))
	defer span.End()

	decision := e.gate.Check(capability)
	rec.Effect = decision.Effect
	rec.Mode = decision.Mode

	if decision.Denied() {
		rec.Error = decision.Reason
		span.SetAttributes(attribute.String("gate.reason", decision.Reason))
		return fmt.Errorf("%w: %s", ErrCapabilityDenied, decision.Reason)
	}

	if decision.Effect == gate.EffectRequiresApproval {
		decidedBy, err := e.awaitApproval(ctx, capability, decision)
		if err != nil {
			rec.Error = err.Error()
			return err
		}
		rec.Detail = "approved by " + decidedBy
	}

	next, err := e.runHandler(ctx, h, ec)
	if err != nil {
		rec.Error = err.Error()
		return err
	}
	if err := ec.SetState(next); err != nil {
		rec.Error = err.Error()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.State, next)
	}
	return nil
}

// awaitApproval blocks until an operator decides or the request expires.
func (e *Executor) awaitApproval(ctx context.Context, capability string, d gate.Decision) (string, error) {
	ttl := e.snapshots.Snapshot().Constraints.ApprovalTimeout
	if ttl <= 0 {
		ttl = defaultApprovalTimeout
	}

	req := e.approvals.Submit(approval.KindCapability, capability, d.Reason, ttl)
	decision, err := e.approvals.Await(ctx, req.ID)
	if err != nil {
		if errors.Is(err, approval.ErrExpired) {
			return "", fmt.Errorf("%w: %s", ErrApprovalExpired, capability)
		}
		return "", err
	}
	if !decision.Granted {
		return "", fmt.Errorf("%w: %s", ErrApprovalDenied, capability)
	}
	return decision.DecidedBy, nil
}

// runHandler invokes the handler under the step timeout, converting panics
// into errors.
func (e *Executor) runHandler(ctx context.Context, h Handler, ec *ExecutionContext) (next TaskState, err error) {
	stepTimeout := e.snapshots.Snapshot().Constraints.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step handler panicked",
				"trace_id", ec.Trace.TraceID,
				"state", ec.State,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			next, err = "", fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	next, err = h.Execute(sctx, ec)
	if err != nil && sctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ErrStepTimeout, err)
	}
	return next, err
}

// finish builds the result, updates feedback metrics, and archives.
func (e *Executor) finish(ctx context.Context, ec *ExecutionContext, taskErr error) *TaskResult {
	finished := time.Now().UTC()
	duration := finished.Sub(ec.StartedAt)
	taskDuration.Observe(duration.Seconds())
	tasksTotal.WithLabelValues(string(ec.State)).Inc()

	errText := ""
	if taskErr != nil {
		errText = taskErr.Error()
	}

	if ec.State == StateFailed {
		if e.failures != nil {
			e.failures.Incr("task_failures")
		}
		e.logger.Warn("task failed",
			"trace_id", ec.Trace.TraceID,
			"error", errText,
			"steps", len(ec.Trace.Steps()),
		)
	} else {
		e.logger.Info("task completed",
			"trace_id", ec.Trace.TraceID,
			"steps", len(ec.Trace.Steps()),
			"duration", duration,
		)
	}

	if e.archiver != nil {
		// Archival must survive caller cancellation and budget expiry.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		rec := &TaskRecord{
			TraceID:    ec.Trace.TraceID,
			Goal:       ec.Request.Goal,
			Metadata:   ec.Request.Metadata,
			State:      ec.State,
			Answer:     ec.Answer,
			Error:      errText,
			Steps:      ec.Trace.Steps(),
			StartedAt:  ec.StartedAt,
			FinishedAt: finished,
		}
		if err := e.archiver.Archive(actx, rec); err != nil {
			e.logger.Error("task archive failed", "trace_id", ec.Trace.TraceID, "error", err)
		}
	}

	return &TaskResult{
		TraceID:  ec.Trace.TraceID,
		State:    ec.State,
		Answer:   ec.Answer,
		Error:    errText,
		Steps:    ec.Trace.Steps(),
		Duration: duration,
	}
}
