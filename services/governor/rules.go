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
	"fmt"
	"sort"
	"time"

	"github.com/alextra-lab/personal-agent-sub001/services/metrics"
	"github.com/alextra-lab/personal-agent-sub001/services/policy"
)

// condition is one compiled metric comparison.
type condition struct {
	metric    string
	op        string
	threshold float64
}

// eval evaluates the condition against a sample and returns the reading
// that was compared. A missing reading makes the condition false: absent
// evidence never drives a transition.
func (c condition) eval(s metrics.Sample) (float64, bool) {
	v, ok := s.Reading(c.metric)
	if !ok {
		return 0, false
	}
	switch c.op {
	case "gt":
		return v, v > c.threshold
	case "gte":
		return v, v >= c.threshold
	case "lt":
		return v, v < c.threshold
	case "lte":
		return v, v <= c.threshold
	case "eq":
		return v, v == c.threshold
	}
	return v, false
}

// rule is one compiled transition rule with its sustain tracker.
//
// The tracker records when the combined condition last became true; it is
// reset the moment the condition goes false, so a flickering metric never
// accumulates sustain time.
type rule struct {
	target           Mode
	priority         int
	combinatorAll    bool
	sustainedFor     time.Duration
	requiresApproval bool
	conditions       []condition

	since time.Time // zero when the condition does not currently hold

	// The crossing condition behind the current sustain window, reported
	// in the transition event when the rule fires.
	triggerMetric string
	triggerValue  float64
}

// conditionHolds reports whether the combined condition holds and which
// condition crossed: the first satisfied one for ANY, the first declared
// one for ALL.
func (r *rule) conditionHolds(s metrics.Sample) (string, float64, bool) {
	if r.combinatorAll {
		var metric string
		var value float64
		for i, c := range r.conditions {
			v, ok := c.eval(s)
			if !ok {
				return "", 0, false
			}
			if i == 0 {
				metric, value = c.metric, v
			}
		}
		return metric, value, true
	}
	for _, c := range r.conditions {
		if v, ok := c.eval(s); ok {
			return c.metric, v, true
		}
	}
	return "", 0, false
}

// observe feeds one sample into the tracker and reports whether the rule is
// ready to fire: the condition has held continuously for sustainedFor.
func (r *rule) observe(s metrics.Sample, now time.Time) bool {
	metric, value, holds := r.conditionHolds(s)
	if !holds {
		r.since = time.Time{}
		return false
	}
	if r.since.IsZero() {
		r.since = now
		r.triggerMetric = metric
		r.triggerValue = value
	}
	return now.Sub(r.since) >= r.sustainedFor
}

// reset clears the sustain tracker.
func (r *rule) reset() {
	r.since = time.Time{}
	r.triggerMetric = ""
	r.triggerValue = 0
}

// modeRuntime is one mode's compiled policy: constraints plus outgoing rules
// sorted by ascending priority.
type modeRuntime struct {
	name             Mode
	samplingInterval time.Duration
	constraints      ConstraintSet
	rules            []*rule
}

func compilePolicy(doc *policy.Document, defaultInterval time.Duration) (map[Mode]*modeRuntime, error) {
	modes := make(map[Mode]*modeRuntime, len(doc.Modes))
	for i := range doc.Modes {
		rt, err := compileMode(&doc.Modes[i], defaultInterval)
		if err != nil {
			return nil, err
		}
		modes[rt.name] = rt
	}
	return modes, nil
}

func compileMode(mp *policy.ModePolicy, defaultInterval time.Duration) (*modeRuntime, error) {
	name, err := ParseMode(mp.Name)
	if err != nil {
		return nil, err
	}

	interval := mp.SamplingInterval.Std()
	if interval <= 0 {
		interval = defaultInterval
	}

	cs := ConstraintSet{
		AllowedCategories: make(map[string]bool, len(mp.Constraints.AllowedCategories)),
		ApprovalRequired:  make(map[string]bool, len(mp.Constraints.ApprovalRequired)),
		ConcurrencyLimit:  mp.Constraints.ConcurrencyLimit,
		StepTimeout:       mp.Constraints.StepTimeout.Std(),
		TaskBudget:        mp.Constraints.TaskBudget.Std(),
		ApprovalTimeout:   mp.Constraints.ApprovalTimeout.Std(),
	}
	for _, cat := range mp.Constraints.AllowedCategories {
		cs.AllowedCategories[cat] = true
	}
	for _, cat := range mp.Constraints.ApprovalRequired {
		cs.ApprovalRequired[cat] = true
	}
	for _, rl := range mp.Constraints.RateLimits {
		cs.RateLimits = append(cs.RateLimits, RateLimit{
			Category:  rl.Category,
			PerMinute: rl.PerMinute,
			Burst:     rl.Burst,
		})
	}

	rules := make([]*rule, 0, len(mp.Transitions))
	for _, tp := range mp.Transitions {
		target, err := ParseMode(tp.Target)
		if err != nil {
			return nil, fmt.Errorf("%s -> %s: %w", mp.Name, tp.Target, err)
		}
		r := &rule{
			target:           target,
			priority:         tp.Priority,
			combinatorAll:    tp.Combinator == "all",
			sustainedFor:     tp.SustainedFor.Std(),
			requiresApproval: tp.RequiresApproval,
		}
		for _, cp := range tp.When {
			r.conditions = append(r.conditions, condition{
				metric:    cp.Metric,
				op:        cp.Op,
				threshold: cp.Threshold,
			})
		}
		rules = append(rules, r)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority < rules[j].priority
	})

	return &modeRuntime{
		name:             name,
		samplingInterval: interval,
		constraints:      cs,
		rules:            rules,
	}, nil
}
