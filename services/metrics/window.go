// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultWindowSize is the window capacity used when none is given.
const DefaultWindowSize = 120

// Window is a fixed-capacity ring of samples, oldest overwritten first.
//
// Description:
//
//	Provides O(1) append and bounded memory. The window is the only shared
//	surface between the sampler goroutine and readers, so all access is
//	mutex-guarded.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Window struct {
	mu    sync.RWMutex
	data  []Sample
	head  int // next write position
	count int
}

// NewWindow creates a window with the given capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{data: make([]Sample, capacity)}
}

// Append adds a sample, evicting the oldest when full.
func (w *Window) Append(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.data[w.head] = s
	w.head = (w.head + 1) % len(w.data)
	if w.count < len(w.data) {
		w.count++
	}
}

// Samples returns a copy of the window contents, oldest to newest.
func (w *Window) Samples() []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.count == 0 {
		return nil
	}

	out := make([]Sample, 0, w.count)
	start := w.head - w.count
	if start < 0 {
		start += len(w.data)
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.data[(start+i)%len(w.data)])
	}
	return out
}

// Since returns the samples newer than now minus d, oldest to newest.
// Returns an empty slice when nothing in the window is that recent.
func (w *Window) Since(d time.Duration) []Sample {
	cutoff := time.Now().UTC().Add(-d)

	out := []Sample{}
	for _, s := range w.Samples() {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the newest sample.
func (w *Window) Latest() (Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.count == 0 {
		return Sample{}, false
	}
	idx := w.head - 1
	if idx < 0 {
		idx += len(w.data)
	}
	return w.data[idx], true
}

// Len returns the current number of samples.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.data)
}

// windowJSON is the serialized form: capacity plus samples in order.
type windowJSON struct {
	Capacity int      `json:"capacity"`
	Samples  []Sample `json:"samples"`
}

// MarshalJSON serializes the window with samples oldest to newest.
func (w *Window) MarshalJSON() ([]byte, error) {
	w.mu.RLock()
	capacity := len(w.data)
	w.mu.RUnlock()

	return json.Marshal(windowJSON{
		Capacity: capacity,
		Samples:  w.Samples(),
	})
}

// UnmarshalJSON restores a window; sample order and capacity survive the
// round trip. Excess samples beyond capacity keep only the newest.
func (w *Window) UnmarshalJSON(data []byte) error {
	var raw windowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	restored := NewWindow(raw.Capacity)
	for _, s := range raw.Samples {
		restored.Append(s)
	}

	w.mu.Lock()
	w.data = restored.data
	w.head = restored.head
	w.count = restored.count
	w.mu.Unlock()
	return nil
}
