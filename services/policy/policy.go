// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy defines the declarative governance policy consumed by the
// mode controller and the governance gate.
//
// A policy document is parsed exactly once at startup into the strongly typed
// structures below, validated, and treated as immutable configuration data
// thereafter. It is never re-interpreted per call.
//
// Thread Safety:
//
//	A validated *Document is immutable and safe for concurrent reads.
package policy

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML decoding from strings like "30s".
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Document is the root of a governance policy.
type Document struct {
	// Version is the policy schema version. Only version 1 is understood.
	Version int `yaml:"version" validate:"eq=1"`

	// InitialMode is the mode the controller starts in. Must be declared
	// under Modes. A safe default is "normal".
	InitialMode string `yaml:"initial_mode" validate:"required"`

	// Capabilities maps a capability name (a tool name, a model role, a
	// concurrency slot) to its capability category. Capabilities absent
	// from this map are denied by default.
	Capabilities map[string]string `yaml:"capabilities" validate:"required,min=1"`

	// Modes declares one policy block per operating mode.
	Modes []ModePolicy `yaml:"modes" validate:"required,min=1,dive"`
}

// ModePolicy declares the constraints and outgoing transitions for one mode.
type ModePolicy struct {
	// Name is the mode name. The mode set is closed.
	Name string `yaml:"name" validate:"required,oneof=normal alert degraded lockdown recovery"`

	// SamplingInterval overrides the metric sampling interval while this
	// mode is active. Zero means use the sampler default.
	SamplingInterval Duration `yaml:"sampling_interval"`

	// Constraints are the limits derived for this mode.
	Constraints ConstraintPolicy `yaml:"constraints" validate:"required"`

	// Transitions are the outgoing transition rules, evaluated in priority
	// order (ascending).
	Transitions []TransitionPolicy `yaml:"transitions" validate:"dive"`
}

// ConstraintPolicy declares the concrete limits applied while a mode is active.
type ConstraintPolicy struct {
	// AllowedCategories lists capability categories permitted in this mode.
	AllowedCategories []string `yaml:"allowed_categories"`

	// ApprovalRequired lists categories that are permitted but need a human
	// approval before each use.
	ApprovalRequired []string `yaml:"approval_required"`

	// ConcurrencyLimit caps in-flight tasks. Zero means unlimited.
	ConcurrencyLimit int `yaml:"concurrency_limit" validate:"gte=0"`

	// StepTimeout bounds a single step handler invocation.
	StepTimeout Duration `yaml:"step_timeout" validate:"required"`

	// TaskBudget caps total wall-clock time for one task.
	TaskBudget Duration `yaml:"task_budget" validate:"required"`

	// ApprovalTimeout bounds how long a task may wait for a human decision.
	ApprovalTimeout Duration `yaml:"approval_timeout"`

	// RateLimits declares per-category sliding rate limits.
	RateLimits []RateLimitPolicy `yaml:"rate_limits" validate:"dive"`
}

// RateLimitPolicy declares a per-category rate limit.
type RateLimitPolicy struct {
	// Category is the capability category the limit applies to.
	Category string `yaml:"category" validate:"required"`

	// PerMinute is the sustained allowance per minute.
	PerMinute float64 `yaml:"per_minute" validate:"gt=0"`

	// Burst is the instantaneous burst allowance.
	Burst int `yaml:"burst" validate:"gte=1"`
}

// TransitionPolicy declares one outgoing transition rule.
type TransitionPolicy struct {
	// Target is the destination mode. Must be a declared mode.
	Target string `yaml:"target" validate:"required"`

	// Priority orders rule evaluation; lower fires first.
	Priority int `yaml:"priority"`

	// Combinator is how the condition list combines: "any" or "all".
	Combinator string `yaml:"combinator" validate:"required,oneof=any all"`

	// SustainedFor is how long the combined condition must hold
	// continuously before the rule fires (hysteresis).
	SustainedFor Duration `yaml:"sustained_for"`

	// RequiresApproval gates the transition behind a human decision.
	RequiresApproval bool `yaml:"requires_approval"`

	// When is the condition list. Must not be empty.
	When []ConditionPolicy `yaml:"when" validate:"required,min=1,dive"`
}

// ConditionPolicy is a single metric comparison.
type ConditionPolicy struct {
	// Metric is the metric reading name, e.g. "cpu_load".
	Metric string `yaml:"metric" validate:"required"`

	// Op is the comparator: gt, gte, lt, lte, or eq.
	Op string `yaml:"op" validate:"required,oneof=gt gte lt lte eq"`

	// Threshold is the comparison value.
	Threshold float64 `yaml:"threshold"`
}

// Mode returns the policy block for the named mode.
func (d *Document) Mode(name string) (*ModePolicy, bool) {
	for i := range d.Modes {
		if d.Modes[i].Name == name {
			return &d.Modes[i], true
		}
	}
	return nil, false
}

// Category resolves a capability name to its category.
//
// The second return is false for unregistered capabilities, which callers
// must treat as denied.
func (d *Document) Category(capability string) (string, bool) {
	cat, ok := d.Capabilities[capability]
	return cat, ok
}
