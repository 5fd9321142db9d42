// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alextra-lab/personal-agent-sub001/services/approval"
	"github.com/alextra-lab/personal-agent-sub001/services/metrics"
	"github.com/alextra-lab/personal-agent-sub001/services/policy"
)

// DefaultSamplingInterval is used for modes without an explicit interval.
const DefaultSamplingInterval = 5 * time.Second

// defaultApprovalTTL bounds transition approvals when the mode declares no
// approval timeout.
const defaultApprovalTTL = 5 * time.Minute

// ruleEvalTick is how often sustain trackers are re-checked between samples,
// so a sustained-duration window expires on time even when no new data
// arrives.
const ruleEvalTick = time.Second

var (
	modeActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_mode_active",
		Help: "1 for the active operating mode, 0 otherwise.",
	}, []string{"mode"})
	modeTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_mode_transitions_total",
		Help: "Mode transitions by source and destination.",
	}, []string{"from", "to"})
	controllerSamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_controller_samples_dropped_total",
		Help: "Samples dropped because the controller inbox was full.",
	})
)

// TransitionEvent describes one applied mode transition. TriggerMetric and
// TriggerValue identify the reading that crossed its threshold; both are
// empty for operator-forced transitions.
type TransitionEvent struct {
	From          Mode
	To            Mode
	Reason        string
	TriggerMetric string
	TriggerValue  float64
	Version       uint64
	At            time.Time
}

// Config configures a Controller.
type Config struct {
	// Policy is the validated governance policy. Required.
	Policy *policy.Document

	// Approvals resolves approval-gated transitions. Required.
	Approvals *approval.Broker

	// OnTransition, when set, is called after each applied transition, on
	// the control loop goroutine.
	OnTransition func(TransitionEvent)

	// Logger for transition decisions. Nil means slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time

	// DefaultInterval is the sampling interval for modes without one.
	DefaultInterval time.Duration
}

// Controller is the single writer of the operating mode.
//
// Description:
//
//	All mutation happens on the Run goroutine, fed through an inbox:
//	metric samples from the sampler, forced transitions from the API, and
//	resolved approvals. Readers get an immutable snapshot through an
//	atomic pointer, so a task observes one consistent (mode, constraints)
//	pair for any single decision.
//
//	A transition that cannot be applied is logged and skipped; the
//	controller stays in its current mode and keeps evaluating. The control
//	loop never dies with the engine running.
//
// Thread Safety:
//
//	Snapshot, Mode, and SamplingInterval are safe from any goroutine.
//	OnSample and Force may be called from any goroutine.
type Controller struct {
	modes        map[Mode]*modeRuntime
	approvals    *approval.Broker
	logger       *slog.Logger
	onTransition func(TransitionEvent)
	now          func() time.Time

	snapshot atomic.Pointer[Snapshot]
	inbox    chan controllerMsg
	stopped  chan struct{}

	// Actor-owned state, touched only on the Run goroutine.
	version         uint64
	pendingApproval string // approval ID, empty when none outstanding
	pendingTarget   Mode
	pendingTrigger  trigger
	lastSample      *metrics.Sample
}

// trigger is the condition crossing that started a sustain window.
type trigger struct {
	metric string
	value  float64
}

type controllerMsg struct {
	sample   *metrics.Sample
	force    *forceRequest
	approved *approvalOutcome
}

type forceRequest struct {
	target Mode
	reason string
	reply  chan error
}

type approvalOutcome struct {
	id      string
	target  Mode
	granted bool
	err     error
}

// New compiles the policy and builds a controller in the initial mode.
func New(cfg Config) (*Controller, error) {
	defaultInterval := cfg.DefaultInterval
	if defaultInterval <= 0 {
		defaultInterval = DefaultSamplingInterval
	}

	modes, err := compilePolicy(cfg.Policy, defaultInterval)
	if err != nil {
		return nil, err
	}

	initial, err := ParseMode(cfg.Policy.InitialMode)
	if err != nil {
		return nil, err
	}
	rt, ok := modes[initial]
	if !ok {
		return nil, ErrUnknownMode
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	c := &Controller{
		modes:        modes,
		approvals:    cfg.Approvals,
		logger:       logger,
		onTransition: cfg.OnTransition,
		now:          now,
		inbox:        make(chan controllerMsg, 64),
		stopped:      make(chan struct{}),
		version:      1,
	}
	c.snapshot.Store(&Snapshot{
		Mode:             initial,
		Constraints:      rt.constraints,
		SamplingInterval: rt.samplingInterval,
		Version:          1,
		ChangedAt:        now(),
	})
	modeActive.WithLabelValues(string(initial)).Set(1)

	return c, nil
}

// Snapshot returns the current immutable state.
func (c *Controller) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	return c.snapshot.Load().Mode
}

// SamplingInterval returns the metric sampling interval for the current
// mode. Handed to the sampler so cadence follows the mode.
func (c *Controller) SamplingInterval() time.Duration {
	return c.snapshot.Load().SamplingInterval
}

// OnSample feeds a sample into the control loop. Never blocks: under inbox
// pressure the sample is dropped and counted, and the next one catches up.
func (c *Controller) OnSample(s metrics.Sample) {
	select {
	case c.inbox <- controllerMsg{sample: &s}:
	default:
		controllerSamplesDropped.Inc()
	}
}

// Force applies an operator-requested transition, bypassing transition rules
// but not mode validity.
func (c *Controller) Force(ctx context.Context, target Mode, reason string) error {
	req := &forceRequest{target: target, reason: reason, reply: make(chan error, 1)}
	select {
	case c.inbox <- controllerMsg{force: req}:
	case <-c.stopped:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.stopped:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run owns all controller state until the context ends.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.stopped)
	ticker := time.NewTicker(ruleEvalTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.handleTick(ctx)
		case msg := <-c.inbox:
			switch {
			case msg.sample != nil:
				c.handleSample(ctx, *msg.sample)
			case msg.force != nil:
				msg.force.reply <- c.applyTransition(msg.force.target, msg.force.reason, trigger{})
			case msg.approved != nil:
				c.handleApproval(*msg.approved)
			}
		}
	}
}

func (c *Controller) handleSample(ctx context.Context, s metrics.Sample) {
	c.lastSample = &s
	c.evaluate(ctx, s)
}

// handleTick re-evaluates the current mode's rules against the last sample,
// so a sustain window that filled up between samples fires without waiting
// for new data.
func (c *Controller) handleTick(ctx context.Context) {
	if c.lastSample == nil {
		return
	}
	c.evaluate(ctx, *c.lastSample)
}

func (c *Controller) evaluate(ctx context.Context, s metrics.Sample) {
	current := c.snapshot.Load().Mode
	rt := c.modes[current]
	now := c.now()

	// Every rule observes every sample so sustain trackers stay honest;
	// the lowest-priority ready rule wins.
	var fired *rule
	for _, r := range rt.rules {
		if r.observe(s, now) && fired == nil {
			fired = r
		}
	}
	if fired == nil {
		return
	}

	if fired.requiresApproval {
		c.requestTransitionApproval(ctx, fired, rt)
		return
	}

	tr := trigger{metric: fired.triggerMetric, value: fired.triggerValue}
	if err := c.applyTransition(fired.target, "transition rule", tr); err != nil {
		c.logger.Error("transition skipped, staying in current mode",
			"from", current,
			"target", fired.target,
			"error", err,
		)
		fired.reset()
	}
}

// requestTransitionApproval raises one approval per sustained rule and waits
// for the outcome off-loop. Repeat samples while a request is outstanding
// are no-ops.
func (c *Controller) requestTransitionApproval(ctx context.Context, r *rule, rt *modeRuntime) {
	if c.pendingApproval != "" {
		return
	}

	ttl := rt.constraints.ApprovalTimeout
	if ttl <= 0 {
		ttl = defaultApprovalTTL
	}
	req := c.approvals.Submit(
		approval.KindModeTransition,
		string(r.target),
		"transition conditions sustained in mode "+string(rt.name),
		ttl,
	)
	c.pendingApproval = req.ID
	c.pendingTarget = r.target
	c.pendingTrigger = trigger{metric: r.triggerMetric, value: r.triggerValue}

	go func() {
		d, err := c.approvals.Await(ctx, req.ID)
		outcome := &approvalOutcome{id: req.ID, target: r.target, granted: d.Granted, err: err}
		select {
		case c.inbox <- controllerMsg{approved: outcome}:
		case <-c.stopped:
		}
	}()
}

func (c *Controller) handleApproval(o approvalOutcome) {
	if o.id != c.pendingApproval {
		return // stale outcome from a superseded request
	}
	tr := c.pendingTrigger
	c.pendingApproval = ""
	c.pendingTarget = ""
	c.pendingTrigger = trigger{}

	if o.err != nil {
		c.logger.Warn("transition approval not granted",
			"target", o.target,
			"error", o.err,
		)
		c.resetCurrentTrackers()
		return
	}
	if !o.granted {
		c.logger.Info("transition approval denied by operator", "target", o.target)
		c.resetCurrentTrackers()
		return
	}

	if err := c.applyTransition(o.target, "approved transition rule", tr); err != nil {
		c.logger.Error("approved transition skipped", "target", o.target, "error", err)
	}
}

func (c *Controller) resetCurrentTrackers() {
	rt := c.modes[c.snapshot.Load().Mode]
	for _, r := range rt.rules {
		r.reset()
	}
}

// applyTransition publishes a new snapshot for the target mode. On any
// failure the current snapshot stays in place.
func (c *Controller) applyTransition(target Mode, reason string, tr trigger) error {
	prev := c.snapshot.Load()
	if target == prev.Mode {
		return nil
	}
	rt, ok := c.modes[target]
	if !ok {
		return ErrTransitionRejected
	}

	c.version++
	next := &Snapshot{
		Mode:             target,
		Constraints:      rt.constraints,
		SamplingInterval: rt.samplingInterval,
		Version:          c.version,
		ChangedAt:        c.now(),
	}
	c.snapshot.Store(next)

	// Evaluation restarts clean in the new mode.
	for _, r := range rt.rules {
		r.reset()
	}
	c.pendingApproval = ""
	c.pendingTarget = ""
	c.pendingTrigger = trigger{}

	modeActive.WithLabelValues(string(prev.Mode)).Set(0)
	modeActive.WithLabelValues(string(target)).Set(1)
	modeTransitionsTotal.WithLabelValues(string(prev.Mode), string(target)).Inc()

	c.logger.Info("mode transition",
		"from", prev.Mode,
		"to", target,
		"reason", reason,
		"trigger_metric", tr.metric,
		"trigger_value", tr.value,
		"version", next.Version,
	)
	if c.onTransition != nil {
		c.onTransition(TransitionEvent{
			From:          prev.Mode,
			To:            target,
			Reason:        reason,
			TriggerMetric: tr.metric,
			TriggerValue:  tr.value,
			Version:       next.Version,
			At:            next.ChangedAt,
		})
	}
	return nil
}
