// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics provides the background metric sampler: a set of named
// collectors polled on an interval, with the recent history kept in a
// fixed-size window for the mode controller to evaluate.
package metrics

import "time"

// Sample is one point-in-time observation across all collectors.
//
// A sample with missing collectors is still valid; downstream consumers
// evaluate whatever readings are present.
type Sample struct {
	// Timestamp is when the sampling pass started.
	Timestamp time.Time `json:"timestamp"`

	// Readings maps metric name to value, e.g. "cpu_load" -> 92.4.
	Readings map[string]float64 `json:"readings"`

	// Missing lists collectors that failed or timed out this pass.
	Missing []string `json:"missing,omitempty"`
}

// Partial reports whether any collector failed to contribute.
func (s Sample) Partial() bool {
	return len(s.Missing) > 0
}

// Reading returns a named reading and whether it is present.
func (s Sample) Reading(name string) (float64, bool) {
	v, ok := s.Readings[name]
	return v, ok
}
