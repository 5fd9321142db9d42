// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs governed tasks: a deterministic state machine whose
// every step is checked against the active constraint snapshot before it
// executes, and recorded in a gap-free trace afterwards.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alextra-lab/personal-agent-sub001/services/gate"
	"github.com/alextra-lab/personal-agent-sub001/services/governor"
)

// TaskState represents where a task is in its lifecycle.
type TaskState string

const (
	// StateInit validates the request and admits the task.
	StateInit TaskState = "init"

	// StatePlanning produces the plan of tool invocations.
	StatePlanning TaskState = "planning"

	// StateModelCall performs the working model call.
	StateModelCall TaskState = "model_call"

	// StateToolExecution runs one planned tool invocation per entry.
	StateToolExecution TaskState = "tool_execution"

	// StateSynthesis turns intermediate outputs into the final answer.
	StateSynthesis TaskState = "synthesis"

	// StateCompleted is the successful terminal state.
	StateCompleted TaskState = "completed"

	// StateFailed is the unsuccessful terminal state.
	StateFailed TaskState = "failed"
)

// AllStates returns every task state.
func AllStates() []TaskState {
	return []TaskState{
		StateInit, StatePlanning, StateModelCall,
		StateToolExecution, StateSynthesis,
		StateCompleted, StateFailed,
	}
}

// IsTerminal reports whether the state ends the task.
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// IsActive reports whether a task in this state still executes steps.
func (s TaskState) IsActive() bool {
	switch s {
	case StateInit, StatePlanning, StateModelCall, StateToolExecution, StateSynthesis:
		return true
	}
	return false
}

// transitions is the closed transition relation. Any active state may fail;
// tool execution may loop to drain a multi-step plan.
var transitions = map[TaskState][]TaskState{
	StateInit:          {StatePlanning, StateFailed},
	StatePlanning:      {StateModelCall, StateFailed},
	StateModelCall:     {StateToolExecution, StateSynthesis, StateFailed},
	StateToolExecution: {StateToolExecution, StateSynthesis, StateFailed},
	StateSynthesis:     {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to TaskState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskRequest is the caller's input to a task.
type TaskRequest struct {
	// Goal is the user intent, in prose. Required.
	Goal string `json:"goal"`

	// Metadata is opaque caller context carried into the archive.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StepRecord is the audit record of one executed (or refused) step.
//
// Sequence numbers are strictly increasing and gap-free within one trace;
// the record exists even when the step was denied or panicked.
type StepRecord struct {
	Seq        uint64        `json:"seq"`
	State      TaskState     `json:"state"`
	Capability string        `json:"capability,omitempty"`
	Effect     gate.Effect   `json:"effect,omitempty"`
	Mode       governor.Mode `json:"mode,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// PlanStep is one planned tool invocation.
type PlanStep struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

// ToolResult is the outcome of one executed plan step.
type ToolResult struct {
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

// TraceContext carries the identity and ordering state of one task.
//
// Thread Safety:
//
//	NextSeq is safe from any goroutine; the record slice belongs to the
//	executor goroutine.
type TraceContext struct {
	TraceID string
	seq     atomic.Uint64
	records []StepRecord
}

// NewTraceContext creates a trace with a fresh ID and sequence zero.
func NewTraceContext() *TraceContext {
	return &TraceContext{TraceID: uuid.NewString()}
}

// NextSeq returns the next sequence number, starting at 1.
func (t *TraceContext) NextSeq() uint64 {
	return t.seq.Add(1)
}

// Record appends a step record.
func (t *TraceContext) Record(r StepRecord) {
	t.records = append(t.records, r)
}

// Steps returns the recorded steps in order.
func (t *TraceContext) Steps() []StepRecord {
	return t.records
}

// ExecutionContext is the mutable working state of one running task.
//
// Owned by the executor goroutine for the task's lifetime; handlers read
// and write it only while their Execute call is in flight.
type ExecutionContext struct {
	Trace   *TraceContext
	Request TaskRequest
	State   TaskState

	// Plan is produced by planning and drained by tool execution.
	Plan []PlanStep

	// PlanCursor indexes the next plan step to run.
	PlanCursor int

	// ModelNotes accumulates intermediate model output.
	ModelNotes []string

	// ToolResults accumulates tool outputs for synthesis.
	ToolResults []ToolResult

	// Answer is the final synthesized output.
	Answer string

	StartedAt time.Time
}

// SetState advances the task state.
//
// Terminal states absorb further transitions: setting any state on a
// finished task is a no-op, so completing or failing twice is harmless.
// Illegal transitions between active states are rejected.
func (ec *ExecutionContext) SetState(to TaskState) error {
	if ec.State.IsTerminal() {
		return nil
	}
	if !CanTransition(ec.State, to) {
		return ErrInvalidTransition
	}
	ec.State = to
	return nil
}

// CurrentPlanStep returns the plan step at the cursor.
func (ec *ExecutionContext) CurrentPlanStep() (PlanStep, bool) {
	if ec.PlanCursor < len(ec.Plan) {
		return ec.Plan[ec.PlanCursor], true
	}
	return PlanStep{}, false
}

// TaskRecord is the immutable archive form of a finished task.
type TaskRecord struct {
	TraceID    string            `json:"trace_id"`
	Goal       string            `json:"goal"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	State      TaskState         `json:"state"`
	Answer     string            `json:"answer,omitempty"`
	Error      string            `json:"error,omitempty"`
	Steps      []StepRecord      `json:"steps"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// TaskResult is what Execute returns to the caller.
type TaskResult struct {
	TraceID  string        `json:"trace_id"`
	State    TaskState     `json:"state"`
	Answer   string        `json:"answer,omitempty"`
	Error    string        `json:"error,omitempty"`
	Steps    []StepRecord  `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// Handler executes the work of one active state.
type Handler interface {
	// State is the state this handler serves.
	State() TaskState

	// Capability names the capability the next Execute call will use,
	// given the current context. Checked by the gate before Execute.
	Capability(ec *ExecutionContext) string

	// Execute performs the step and returns the next state.
	Execute(ctx context.Context, ec *ExecutionContext) (TaskState, error)
}

// Archiver persists finished task records.
type Archiver interface {
	Archive(ctx context.Context, rec *TaskRecord) error
}
