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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateClassification(t *testing.T) {
	for _, s := range AllStates() {
		assert.NotEqual(t, s.IsTerminal(), s.IsActive(), s)
	}
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}

func TestEveryActiveStateCanFail(t *testing.T) {
	for _, s := range AllStates() {
		if s.IsActive() {
			assert.True(t, CanTransition(s, StateFailed), s)
		}
	}
}

func TestTransitionRelation(t *testing.T) {
	tests := []struct {
		from, to TaskState
		ok       bool
	}{
		{StateInit, StatePlanning, true},
		{StateInit, StateSynthesis, false},
		{StatePlanning, StateModelCall, true},
		{StateModelCall, StateToolExecution, true},
		{StateModelCall, StateSynthesis, true},
		{StateToolExecution, StateToolExecution, true},
		{StateToolExecution, StateSynthesis, true},
		{StateSynthesis, StateCompleted, true},
		{StateSynthesis, StateModelCall, false},
		{StateCompleted, StatePlanning, false},
		{StateFailed, StateInit, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSetStateRejectsIllegalMoves(t *testing.T) {
	ec := &ExecutionContext{State: StateInit}
	require.ErrorIs(t, ec.SetState(StateSynthesis), ErrInvalidTransition)
	assert.Equal(t, StateInit, ec.State)

	require.NoError(t, ec.SetState(StatePlanning))
	assert.Equal(t, StatePlanning, ec.State)
}

func TestTerminalStatesAbsorbTransitions(t *testing.T) {
	for _, terminal := range []TaskState{StateCompleted, StateFailed} {
		ec := &ExecutionContext{State: terminal}
		for _, to := range AllStates() {
			require.NoError(t, ec.SetState(to), "%s -> %s", terminal, to)
			assert.Equal(t, terminal, ec.State)
		}
	}
}

func TestTraceSequenceStartsAtOneAndIncrements(t *testing.T) {
	tr := NewTraceContext()
	assert.NotEmpty(t, tr.TraceID)

	for want := uint64(1); want <= 5; want++ {
		assert.Equal(t, want, tr.NextSeq())
	}
}

func TestTraceIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTraceContext().TraceID
		require.False(t, seen[id])
		seen[id] = true
	}
}
