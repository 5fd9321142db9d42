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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub001/services/approval"
	"github.com/alextra-lab/personal-agent-sub001/services/gate"
	"github.com/alextra-lab/personal-agent-sub001/services/governor"
)

// swapSource publishes a swappable snapshot, standing in for the controller.
type swapSource struct {
	mu   sync.Mutex
	snap *governor.Snapshot
}

func (s *swapSource) Snapshot() *governor.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *swapSource) swap(snap *governor.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

type failureCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *failureCounter) Incr(reading string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[reading]++
}

func (f *failureCounter) get(reading string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[reading]
}

// fakeHandler is a scriptable step handler.
type fakeHandler struct {
	state      TaskState
	capability string
	fn         func(ctx context.Context, ec *ExecutionContext) (TaskState, error)
}

func (f fakeHandler) State() TaskState                    { return f.state }
func (f fakeHandler) Capability(*ExecutionContext) string { return f.capability }
func (f fakeHandler) Execute(ctx context.Context, ec *ExecutionContext) (TaskState, error) {
	return f.fn(ctx, ec)
}

var testCapabilities = map[string]string{
	"task.slot":         "concurrency",
	"model.planner":     "model_call",
	"model.worker":      "model_call",
	"model.synthesizer": "model_call",
	"tool.echo":         "tool_read",
	"tool.fs_write":     "system_write",
}

func permissiveSnapshot(version uint64) *governor.Snapshot {
	return &governor.Snapshot{
		Mode: governor.ModeNormal,
		Constraints: governor.ConstraintSet{
			AllowedCategories: map[string]bool{
				"concurrency":  true,
				"model_call":   true,
				"tool_read":    true,
				"system_write": true,
			},
			ApprovalRequired: map[string]bool{},
			ConcurrencyLimit: 4,
			StepTimeout:      time.Second,
			TaskBudget:       5 * time.Second,
			ApprovalTimeout:  time.Second,
		},
		Version: version,
	}
}

func lockedSnapshot(version uint64) *governor.Snapshot {
	return &governor.Snapshot{
		Mode: governor.ModeLockdown,
		Constraints: governor.ConstraintSet{
			AllowedCategories: map[string]bool{},
			ApprovalRequired:  map[string]bool{},
			ConcurrencyLimit:  0,
			StepTimeout:       time.Second,
			TaskBudget:        5 * time.Second,
		},
		Version: version,
	}
}

// happyHandlers walks init -> planning -> model_call -> synthesis ->
// completed, with hooks to override individual states.
func happyHandlers(overrides ...Handler) []Handler {
	base := []Handler{
		fakeHandler{state: StateInit, capability: "task.slot",
			fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
				return StatePlanning, nil
			}},
		fakeHandler{state: StatePlanning, capability: "model.planner",
			fn: func(_ context.Context, ec *ExecutionContext) (TaskState, error) {
				ec.Plan = []PlanStep{{Tool: "echo", Input: "hi"}}
				return StateModelCall, nil
			}},
		fakeHandler{state: StateModelCall, capability: "model.worker",
			fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
				return StateToolExecution, nil
			}},
		fakeHandler{state: StateToolExecution, capability: "tool.echo",
			fn: func(_ context.Context, ec *ExecutionContext) (TaskState, error) {
				ec.ToolResults = append(ec.ToolResults, ToolResult{Tool: "echo", Output: "hi"})
				return StateSynthesis, nil
			}},
		fakeHandler{state: StateSynthesis, capability: "model.synthesizer",
			fn: func(_ context.Context, ec *ExecutionContext) (TaskState, error) {
				ec.Answer = "done"
				return StateCompleted, nil
			}},
	}
	byState := make(map[TaskState]Handler, len(base))
	for _, h := range base {
		byState[h.State()] = h
	}
	for _, h := range overrides {
		byState[h.State()] = h
	}
	out := make([]Handler, 0, len(byState))
	for _, h := range byState {
		out = append(out, h)
	}
	return out
}

func newTestExecutor(t *testing.T, src *swapSource, failures *failureCounter, hs []Handler) (*Executor, *approval.Broker) {
	t.Helper()
	broker := approval.NewBroker(nil)
	g := gate.New(src, testCapabilities, nil, nil)
	cfg := ExecutorConfig{
		Handlers:  hs,
		Gate:      g,
		Approvals: broker,
		Snapshots: src,
	}
	// Assign only a non-nil counter so a nil *failureCounter does not become
	// a typed-nil FailureRecorder interface.
	if failures != nil {
		cfg.Failures = failures
	}
	ex, err := NewExecutor(cfg)
	require.NoError(t, err)
	return ex, broker
}

func TestHappyPathProducesGapFreeTrace(t *testing.T) {
	src := &swapSource{snap: permissiveSnapshot(1)}
	ex, _ := newTestExecutor(t, src, nil, happyHandlers())

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "say hi"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "done", res.Answer)
	assert.Empty(t, res.Error)

	// One record per step, sequence strictly increasing with no gaps.
	require.Len(t, res.Steps, 5)
	wantStates := []TaskState{StateInit, StatePlanning, StateModelCall, StateToolExecution, StateSynthesis}
	for i, step := range res.Steps {
		assert.Equal(t, uint64(i+1), step.Seq)
		assert.Equal(t, wantStates[i], step.State)
		assert.Equal(t, gate.EffectAllowed, step.Effect)
		assert.Empty(t, step.Error)
	}
}

func TestExecutorRequiresFullHandlerCoverage(t *testing.T) {
	src := &swapSource{snap: permissiveSnapshot(1)}
	broker := approval.NewBroker(nil)
	g := gate.New(src, testCapabilities, nil, nil)

	_, err := NewExecutor(ExecutorConfig{
		Handlers:  happyHandlers()[:3],
		Gate:      g,
		Approvals: broker,
		Snapshots: src,
	})
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestLockdownRejectsNewTasks(t *testing.T) {
	src := &swapSource{snap: lockedSnapshot(1)}
	ex, _ := newTestExecutor(t, src, nil, happyHandlers())

	_, err := ex.Execute(context.Background(), TaskRequest{Goal: "anything"})
	require.ErrorIs(t, err, ErrTaskRejected)
}

func TestTransitionMidTaskFailsAtNextGateCheck(t *testing.T) {
	src := &swapSource{snap: permissiveSnapshot(1)}
	failures := &failureCounter{}

	// Planning flips the snapshot to lockdown while the task is running.
	planning := fakeHandler{state: StatePlanning, capability: "model.planner",
		fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
			src.swap(lockedSnapshot(2))
			return StateModelCall, nil
		}}
	ex, _ := newTestExecutor(t, src, failures, happyHandlers(planning))

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "goal"})
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "denied")
	assert.Equal(t, 1, failures.get("task_failures"))

	// The denied step is still recorded, against the new snapshot.
	last := res.Steps[len(res.Steps)-1]
	assert.Equal(t, StateModelCall, last.State)
	assert.Equal(t, gate.EffectDenied, last.Effect)
	assert.Equal(t, governor.ModeLockdown, last.Mode)
	assert.Equal(t, uint64(len(res.Steps)), last.Seq)
}

func TestApprovalGrantedContinuesTask(t *testing.T) {
	snap := permissiveSnapshot(1)
	snap.Constraints.ApprovalRequired = map[string]bool{"system_write": true}
	src := &swapSource{snap: snap}

	tool := fakeHandler{state: StateToolExecution, capability: "tool.fs_write",
		fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
			return StateSynthesis, nil
		}}
	ex, broker := newTestExecutor(t, src, nil, happyHandlers(tool))

	go func() {
		for i := 0; i < 100; i++ {
			if pending := broker.Pending(); len(pending) == 1 {
				_ = broker.Resolve(pending[0].ID, true, "operator@local")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "write it"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	var approved *StepRecord
	for i := range res.Steps {
		if res.Steps[i].Effect == gate.EffectRequiresApproval {
			approved = &res.Steps[i]
		}
	}
	require.NotNil(t, approved)
	assert.Equal(t, "tool.fs_write", approved.Capability)
	assert.Contains(t, approved.Detail, "operator@local")
}

func TestApprovalDeniedFailsTask(t *testing.T) {
	snap := permissiveSnapshot(1)
	snap.Constraints.ApprovalRequired = map[string]bool{"system_write": true}
	src := &swapSource{snap: snap}
	failures := &failureCounter{}

	tool := fakeHandler{state: StateToolExecution, capability: "tool.fs_write",
		fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
			return StateSynthesis, nil
		}}
	ex, broker := newTestExecutor(t, src, failures, happyHandlers(tool))

	go func() {
		for i := 0; i < 100; i++ {
			if pending := broker.Pending(); len(pending) == 1 {
				_ = broker.Resolve(pending[0].ID, false, "operator@local")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "write it"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "approval denied")
	assert.Equal(t, 1, failures.get("task_failures"))
}

func TestApprovalExpiryFailsTask(t *testing.T) {
	snap := permissiveSnapshot(1)
	snap.Constraints.ApprovalRequired = map[string]bool{"system_write": true}
	snap.Constraints.ApprovalTimeout = 30 * time.Millisecond
	src := &swapSource{snap: snap}

	tool := fakeHandler{state: StateToolExecution, capability: "tool.fs_write",
		fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
			return StateSynthesis, nil
		}}
	ex, _ := newTestExecutor(t, src, nil, happyHandlers(tool))

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "write it"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "approval expired")
}

func TestHandlerPanicFailsTaskNotEngine(t *testing.T) {
	src := &swapSource{snap: permissiveSnapshot(1)}
	failures := &failureCounter{}

	worker := fakeHandler{state: StateModelCall, capability: "model.worker",
		fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
			panic("nil map write")
		}}
	ex, _ := newTestExecutor(t, src, failures, happyHandlers(worker))

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "panicked")

	// The executor is intact and runs the next task normally.
	fresh, _ := newTestExecutor(t, src, nil, happyHandlers())
	res2, err := fresh.Execute(context.Background(), TaskRequest{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res2.State)
}

func TestStepTimeoutFailsTask(t *testing.T) {
	snap := permissiveSnapshot(1)
	snap.Constraints.StepTimeout = 20 * time.Millisecond
	src := &swapSource{snap: snap}

	slow := fakeHandler{state: StateModelCall, capability: "model.worker",
		fn: func(ctx context.Context, _ *ExecutionContext) (TaskState, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
	ex, _ := newTestExecutor(t, src, nil, happyHandlers(slow))

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "timed out")
}

func TestBudgetExceededFailsBetweenSteps(t *testing.T) {
	snap := permissiveSnapshot(1)
	snap.Constraints.TaskBudget = 50 * time.Millisecond
	snap.Constraints.StepTimeout = time.Second
	src := &swapSource{snap: snap}

	// Tool execution loops on itself until the budget runs out.
	spinner := fakeHandler{state: StateToolExecution, capability: "tool.echo",
		fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
			time.Sleep(10 * time.Millisecond)
			return StateToolExecution, nil
		}}
	ex, _ := newTestExecutor(t, src, nil, happyHandlers(spinner))

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "budget")

	// The budget failure is itself a recorded, sequenced step.
	last := res.Steps[len(res.Steps)-1]
	assert.Contains(t, last.Error, "budget")
	assert.Equal(t, uint64(len(res.Steps)), last.Seq)
}

func TestInvalidHandlerTransitionFailsTask(t *testing.T) {
	src := &swapSource{snap: permissiveSnapshot(1)}

	rogue := fakeHandler{state: StatePlanning, capability: "model.planner",
		fn: func(_ context.Context, _ *ExecutionContext) (TaskState, error) {
			return StateCompleted, nil // planning may not complete directly
		}}
	ex, _ := newTestExecutor(t, src, nil, happyHandlers(rogue))

	res, err := ex.Execute(context.Background(), TaskRequest{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "invalid task state transition")
}

func TestResumeOnTerminalContextIsNoOp(t *testing.T) {
	src := &swapSource{snap: permissiveSnapshot(1)}
	broker := approval.NewBroker(nil)
	g := gate.New(src, testCapabilities, nil, nil)
	arch := &memArchiver{}

	ex, err := NewExecutor(ExecutorConfig{
		Handlers:  happyHandlers(),
		Gate:      g,
		Approvals: broker,
		Snapshots: src,
		Archiver:  arch,
	})
	require.NoError(t, err)

	ec := &ExecutionContext{
		Trace:     NewTraceContext(),
		Request:   TaskRequest{Goal: "say hi"},
		State:     StateInit,
		StartedAt: time.Now().UTC(),
	}
	res, err := ex.Resume(context.Background(), ec)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)
	steps := len(res.Steps)
	require.Len(t, arch.recs, 1)

	// Running a finished context again changes nothing: same terminal
	// state, no new steps, no second archive record.
	again, err := ex.Resume(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, again.State)
	assert.Equal(t, res.TraceID, again.TraceID)
	assert.Equal(t, res.Answer, again.Answer)
	assert.Len(t, again.Steps, steps)
	assert.Len(t, arch.recs, 1)
}

type memArchiver struct {
	mu   sync.Mutex
	recs []*TaskRecord
}

func (m *memArchiver) Archive(_ context.Context, rec *TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func TestFinishedTasksAreArchived(t *testing.T) {
	src := &swapSource{snap: permissiveSnapshot(1)}
	broker := approval.NewBroker(nil)
	g := gate.New(src, testCapabilities, nil, nil)
	arch := &memArchiver{}

	ex, err := NewExecutor(ExecutorConfig{
		Handlers:  happyHandlers(),
		Gate:      g,
		Approvals: broker,
		Snapshots: src,
		Archiver:  arch,
	})
	require.NoError(t, err)

	res, err := ex.Execute(context.Background(), TaskRequest{
		Goal:     "say hi",
		Metadata: map[string]string{"origin": "test"},
	})
	require.NoError(t, err)

	require.Len(t, arch.recs, 1)
	rec := arch.recs[0]
	assert.Equal(t, res.TraceID, rec.TraceID)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, "say hi", rec.Goal)
	assert.Equal(t, "test", rec.Metadata["origin"])
	assert.Len(t, rec.Steps, len(res.Steps))
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
}
