// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate enforces the active constraint set at every step boundary:
// capability category checks, per-category rate limits, and the task
// concurrency ceiling. The gate holds no policy opinions of its own; it
// evaluates whatever snapshot the mode controller currently publishes.
package gate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/alextra-lab/personal-agent-sub001/services/governor"
)

// Effect is the outcome of a gate check.
type Effect string

const (
	// EffectAllowed permits the capability use immediately.
	EffectAllowed Effect = "allowed"

	// EffectRequiresApproval permits the use only after a human grants it.
	EffectRequiresApproval Effect = "requires_approval"

	// EffectDenied blocks the use. Decision.Reason says why.
	EffectDenied Effect = "denied"
)

// Decision is the full result of one gate check, carried into step records
// so every governed action is attributable to a mode and snapshot version.
type Decision struct {
	Effect          Effect
	Capability      string
	Category        string
	Reason          string
	Mode            governor.Mode
	SnapshotVersion uint64
}

// Allowed reports whether the step may proceed without further action.
func (d Decision) Allowed() bool { return d.Effect == EffectAllowed }

// Denied reports whether the step must not proceed.
func (d Decision) Denied() bool { return d.Effect == EffectDenied }

var gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_gate_decisions_total",
	Help: "Gate check outcomes by effect and capability category.",
}, []string{"effect", "category"})

// SnapshotSource provides the current governance snapshot.
type SnapshotSource interface {
	Snapshot() *governor.Snapshot
}

// ViolationRecorder counts denied capability uses toward the
// policy_violations metric the transition rules watch.
type ViolationRecorder interface {
	Incr(reading string)
}

// Gate evaluates capability requests against the live snapshot.
//
// Description:
//
//	Rate limiters are keyed by category and rebuilt lazily whenever the
//	snapshot version changes, so a mode transition replaces the limits on
//	the next check without coordination. The concurrency ceiling is
//	re-read on every acquire; slots already held survive a transition to
//	a stricter mode and drain naturally.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Gate struct {
	source       SnapshotSource
	capabilities map[string]string
	violations   ViolationRecorder
	logger       *slog.Logger

	mu             sync.Mutex
	limiterVersion uint64
	limiters       map[string]*rate.Limiter
	inflight       int
}

// New creates a gate.
//
// Inputs:
//
//	source - Snapshot provider, normally the mode controller.
//	capabilities - Capability name to category map from the policy.
//	violations - Counter fed by denials; may be nil.
//	logger - Nil means slog.Default().
func New(source SnapshotSource, capabilities map[string]string, violations ViolationRecorder, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		source:       source,
		capabilities: capabilities,
		violations:   violations,
		logger:       logger,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// Check evaluates one capability use.
//
// Description:
//
//	Deny-by-default: unknown capabilities and categories outside the
//	mode's allow list are denied, approval-listed categories return
//	RequiresApproval, and rate-limited categories are denied when the
//	allowance is exhausted. Every check reads exactly one snapshot, so
//	the decision is consistent even if a transition lands mid-check.
func (g *Gate) Check(capability string) Decision {
	snap := g.source.Snapshot()

	category, known := g.capabilities[capability]
	if !known {
		return g.deny(snap, capability, "", "capability not registered")
	}

	if !snap.Constraints.CategoryAllowed(category) {
		return g.deny(snap, capability, category,
			fmt.Sprintf("category %q not allowed in mode %s", category, snap.Mode))
	}

	if snap.Constraints.NeedsApproval(category) {
		gateDecisionsTotal.WithLabelValues(string(EffectRequiresApproval), category).Inc()
		return Decision{
			Effect:          EffectRequiresApproval,
			Capability:      capability,
			Category:        category,
			Reason:          fmt.Sprintf("category %q requires approval in mode %s", category, snap.Mode),
			Mode:            snap.Mode,
			SnapshotVersion: snap.Version,
		}
	}

	if lim := g.limiter(snap, category); lim != nil && !lim.Allow() {
		return g.deny(snap, capability, category,
			fmt.Sprintf("rate limit exhausted for category %q", category))
	}

	gateDecisionsTotal.WithLabelValues(string(EffectAllowed), category).Inc()
	return Decision{
		Effect:          EffectAllowed,
		Capability:      capability,
		Category:        category,
		Mode:            snap.Mode,
		SnapshotVersion: snap.Version,
	}
}

func (g *Gate) deny(snap *governor.Snapshot, capability, category, reason string) Decision {
	gateDecisionsTotal.WithLabelValues(string(EffectDenied), category).Inc()
	if g.violations != nil {
		g.violations.Incr("policy_violations")
	}
	g.logger.Warn("capability denied",
		"capability", capability,
		"category", category,
		"mode", snap.Mode,
		"reason", reason,
	)
	return Decision{
		Effect:          EffectDenied,
		Capability:      capability,
		Category:        category,
		Reason:          reason,
		Mode:            snap.Mode,
		SnapshotVersion: snap.Version,
	}
}

// limiter returns the rate limiter for a category, rebuilding the limiter
// set when the snapshot version has moved.
func (g *Gate) limiter(snap *governor.Snapshot, category string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if snap.Version != g.limiterVersion {
		g.limiters = make(map[string]*rate.Limiter, len(snap.Constraints.RateLimits))
		for _, rl := range snap.Constraints.RateLimits {
			g.limiters[rl.Category] = rate.NewLimiter(rate.Limit(rl.PerMinute/60.0), rl.Burst)
		}
		g.limiterVersion = snap.Version
	}
	return g.limiters[category]
}

// AcquireSlot claims one task concurrency slot.
//
// Outputs:
//
//	error - ErrConcurrencyExceeded when the current mode's ceiling is
//	        reached, including a ceiling of zero.
func (g *Gate) AcquireSlot() error {
	limit := g.source.Snapshot().Constraints.ConcurrencyLimit

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight >= limit {
		return fmt.Errorf("%w: %d in flight, limit %d", ErrConcurrencyExceeded, g.inflight, limit)
	}
	g.inflight++
	return nil
}

// ReleaseSlot returns a slot claimed by AcquireSlot.
func (g *Gate) ReleaseSlot() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight > 0 {
		g.inflight--
	}
}

// Inflight returns the number of held slots.
func (g *Gate) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}
