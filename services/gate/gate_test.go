// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub001/services/governor"
)

// staticSource publishes a swappable snapshot.
type staticSource struct {
	mu   sync.Mutex
	snap *governor.Snapshot
}

func (s *staticSource) Snapshot() *governor.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *staticSource) swap(snap *governor.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) Incr(reading string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[reading]++
}

func (c *countingRecorder) get(reading string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[reading]
}

var testCapabilities = map[string]string{
	"model.worker":  "model_call",
	"tool.fs_read":  "tool_read",
	"tool.fs_write": "system_write",
}

func normalSnapshot(version uint64) *governor.Snapshot {
	return &governor.Snapshot{
		Mode: governor.ModeNormal,
		Constraints: governor.ConstraintSet{
			AllowedCategories: map[string]bool{
				"model_call":   true,
				"tool_read":    true,
				"system_write": true,
			},
			ApprovalRequired: map[string]bool{},
			ConcurrencyLimit: 2,
			StepTimeout:      time.Minute,
			TaskBudget:       10 * time.Minute,
			RateLimits: []governor.RateLimit{
				{Category: "model_call", PerMinute: 60, Burst: 2},
			},
		},
		Version: version,
	}
}

func lockdownSnapshot(version uint64) *governor.Snapshot {
	return &governor.Snapshot{
		Mode: governor.ModeLockdown,
		Constraints: governor.ConstraintSet{
			AllowedCategories: map[string]bool{},
			ApprovalRequired:  map[string]bool{},
			ConcurrencyLimit:  0,
		},
		Version: version,
	}
}

func TestAllowedCapability(t *testing.T) {
	src := &staticSource{snap: normalSnapshot(1)}
	g := New(src, testCapabilities, nil, nil)

	d := g.Check("tool.fs_read")
	assert.True(t, d.Allowed())
	assert.Equal(t, "tool_read", d.Category)
	assert.Equal(t, governor.ModeNormal, d.Mode)
	assert.Equal(t, uint64(1), d.SnapshotVersion)
}

func TestUnknownCapabilityDeniedByDefault(t *testing.T) {
	src := &staticSource{snap: normalSnapshot(1)}
	rec := &countingRecorder{}
	g := New(src, testCapabilities, rec, nil)

	d := g.Check("tool.launch_missiles")
	assert.True(t, d.Denied())
	assert.Contains(t, d.Reason, "not registered")
	assert.Equal(t, 1, rec.get("policy_violations"))
}

func TestLockdownDeniesEverything(t *testing.T) {
	src := &staticSource{snap: lockdownSnapshot(3)}
	rec := &countingRecorder{}
	g := New(src, testCapabilities, rec, nil)

	for _, capability := range []string{"model.worker", "tool.fs_read", "tool.fs_write"} {
		d := g.Check(capability)
		assert.True(t, d.Denied(), capability)
		assert.Equal(t, governor.ModeLockdown, d.Mode)
	}
	assert.Equal(t, 3, rec.get("policy_violations"))
}

func TestApprovalRequiredCategory(t *testing.T) {
	snap := normalSnapshot(1)
	snap.Constraints.ApprovalRequired = map[string]bool{"system_write": true}
	g := New(&staticSource{snap: snap}, testCapabilities, nil, nil)

	d := g.Check("tool.fs_write")
	assert.Equal(t, EffectRequiresApproval, d.Effect)
	assert.False(t, d.Allowed())
	assert.False(t, d.Denied())
}

func TestRateLimitExhaustion(t *testing.T) {
	src := &staticSource{snap: normalSnapshot(1)}
	rec := &countingRecorder{}
	g := New(src, testCapabilities, rec, nil)

	// Burst of 2 at 1/s refill: third immediate call is denied.
	require.True(t, g.Check("model.worker").Allowed())
	require.True(t, g.Check("model.worker").Allowed())

	d := g.Check("model.worker")
	assert.True(t, d.Denied())
	assert.Contains(t, d.Reason, "rate limit")
	assert.Equal(t, 1, rec.get("policy_violations"))

	// Uncapped categories are unaffected.
	assert.True(t, g.Check("tool.fs_read").Allowed())
}

func TestLimitersRebuildOnSnapshotVersionChange(t *testing.T) {
	src := &staticSource{snap: normalSnapshot(1)}
	g := New(src, testCapabilities, nil, nil)

	require.True(t, g.Check("model.worker").Allowed())
	require.True(t, g.Check("model.worker").Allowed())
	require.True(t, g.Check("model.worker").Denied())

	// New snapshot version resets the allowance.
	src.swap(normalSnapshot(2))
	assert.True(t, g.Check("model.worker").Allowed())
}

func TestConcurrencySlots(t *testing.T) {
	src := &staticSource{snap: normalSnapshot(1)} // limit 2
	g := New(src, testCapabilities, nil, nil)

	require.NoError(t, g.AcquireSlot())
	require.NoError(t, g.AcquireSlot())
	require.ErrorIs(t, g.AcquireSlot(), ErrConcurrencyExceeded)

	g.ReleaseSlot()
	require.NoError(t, g.AcquireSlot())
	assert.Equal(t, 2, g.Inflight())
}

func TestZeroConcurrencyAdmitsNothing(t *testing.T) {
	src := &staticSource{snap: lockdownSnapshot(1)}
	g := New(src, testCapabilities, nil, nil)

	require.ErrorIs(t, g.AcquireSlot(), ErrConcurrencyExceeded)
}

func TestHeldSlotsSurviveStricterMode(t *testing.T) {
	src := &staticSource{snap: normalSnapshot(1)}
	g := New(src, testCapabilities, nil, nil)

	require.NoError(t, g.AcquireSlot())
	require.NoError(t, g.AcquireSlot())

	// Transition to lockdown: held slots drain, new acquires fail.
	src.swap(lockdownSnapshot(2))
	require.ErrorIs(t, g.AcquireSlot(), ErrConcurrencyExceeded)
	assert.Equal(t, 2, g.Inflight())

	g.ReleaseSlot()
	g.ReleaseSlot()
	assert.Equal(t, 0, g.Inflight())
}
