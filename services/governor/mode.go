// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governor owns the operating mode: a single-writer control loop that
// evaluates sampled metrics against policy transition rules and publishes an
// immutable (mode, constraints) snapshot for the rest of the engine to read.
package governor

import (
	"fmt"
	"time"
)

// Mode is one of the closed set of operating modes.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeAlert    Mode = "alert"
	ModeDegraded Mode = "degraded"
	ModeLockdown Mode = "lockdown"
	ModeRecovery Mode = "recovery"
)

// AllModes returns every declared mode.
func AllModes() []Mode {
	return []Mode{ModeNormal, ModeAlert, ModeDegraded, ModeLockdown, ModeRecovery}
}

// IsValid reports whether m is in the closed mode set.
func (m Mode) IsValid() bool {
	switch m {
	case ModeNormal, ModeAlert, ModeDegraded, ModeLockdown, ModeRecovery:
		return true
	}
	return false
}

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// RateLimit is a per-category allowance.
type RateLimit struct {
	Category  string
	PerMinute float64
	Burst     int
}

// ConstraintSet is the runtime form of a mode's limits.
//
// Built once per mode at policy compile time and shared read-only through
// snapshots; never mutated after construction.
type ConstraintSet struct {
	// AllowedCategories is the set of permitted capability categories.
	AllowedCategories map[string]bool

	// ApprovalRequired marks categories needing a human decision per use.
	ApprovalRequired map[string]bool

	// ConcurrencyLimit caps in-flight tasks. Zero means none may run.
	ConcurrencyLimit int

	// StepTimeout bounds one step handler invocation.
	StepTimeout time.Duration

	// TaskBudget caps total wall-clock time for one task.
	TaskBudget time.Duration

	// ApprovalTimeout bounds the wait for a human decision.
	ApprovalTimeout time.Duration

	// RateLimits are the per-category allowances for this mode.
	RateLimits []RateLimit
}

// CategoryAllowed reports whether a capability category is permitted.
func (c ConstraintSet) CategoryAllowed(category string) bool {
	return c.AllowedCategories[category]
}

// NeedsApproval reports whether a category requires per-use approval.
func (c ConstraintSet) NeedsApproval(category string) bool {
	return c.ApprovalRequired[category]
}

// Snapshot is one immutable published state of the controller.
//
// Readers load the whole snapshot atomically, so mode and constraints are
// always mutually consistent. Version increases by one per transition.
type Snapshot struct {
	Mode             Mode
	Constraints      ConstraintSet
	SamplingInterval time.Duration
	Version          uint64
	ChangedAt        time.Time
}
