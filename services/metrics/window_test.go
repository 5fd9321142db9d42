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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(sec int, cpu float64) Sample {
	return Sample{
		Timestamp: time.Date(2026, 1, 1, 0, 0, sec, 0, time.UTC),
		Readings:  map[string]float64{"cpu_load": cpu},
	}
}

func TestWindowEvictsOldestWhenFull(t *testing.T) {
	w := NewWindow(3)

	for i := 0; i < 5; i++ {
		w.Append(sampleAt(i, float64(i)))
	}

	require.Equal(t, 3, w.Len())
	samples := w.Samples()
	require.Len(t, samples, 3)

	// Samples 0 and 1 were evicted; 2, 3, 4 remain in order.
	for i, s := range samples {
		assert.Equal(t, float64(i+2), s.Readings["cpu_load"])
	}

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 4.0, latest.Readings["cpu_load"])
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(4)
	assert.Nil(t, w.Samples())
	_, ok := w.Latest()
	assert.False(t, ok)
}

func TestWindowJSONRoundTrip(t *testing.T) {
	w := NewWindow(4)
	w.Append(sampleAt(0, 10))
	w.Append(Sample{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		Readings:  map[string]float64{"cpu_load": 95.5, "memory_used": 40},
		Missing:   []string{"runtime"},
	})

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var restored Window
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, w.Cap(), restored.Cap())
	assert.Equal(t, w.Samples(), restored.Samples())

	latest, ok := restored.Latest()
	require.True(t, ok)
	assert.True(t, latest.Partial())
	assert.Equal(t, 95.5, latest.Readings["cpu_load"])
}

func TestWindowJSONRoundTripAfterWrap(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 7; i++ {
		w.Append(sampleAt(i, float64(i)))
	}

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var restored Window
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, w.Samples(), restored.Samples())
}

func TestWindowConcurrentAppendAndRead(t *testing.T) {
	w := NewWindow(16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			w.Append(sampleAt(i%60, float64(i)))
		}
	}()

	for i := 0; i < 200; i++ {
		_ = w.Samples()
		_, _ = w.Latest()
	}
	<-done

	assert.Equal(t, 16, w.Len())
}

func TestWindowSince(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow(8)
	w.Append(Sample{Timestamp: now.Add(-2 * time.Hour), Readings: map[string]float64{"cpu_load": 10}})
	w.Append(Sample{Timestamp: now.Add(-10 * time.Minute), Readings: map[string]float64{"cpu_load": 20}})
	w.Append(Sample{Timestamp: now.Add(-5 * time.Second), Readings: map[string]float64{"cpu_load": 30}})

	recent := w.Since(time.Hour)
	require.Len(t, recent, 2)
	assert.Equal(t, 20.0, recent[0].Readings["cpu_load"])
	assert.Equal(t, 30.0, recent[1].Readings["cpu_load"])

	assert.Len(t, w.Since(time.Minute), 1)

	// Nothing recent enough: empty, not nil, so JSON encodes as [].
	old := w.Since(time.Second)
	require.NotNil(t, old)
	assert.Empty(t, old)
}

func TestWindowSinceEmptyWindow(t *testing.T) {
	w := NewWindow(4)
	assert.Empty(t, w.Since(time.Hour))
}

func TestWindowDefaultCapacity(t *testing.T) {
	for _, capacity := range []int{0, -5} {
		t.Run(fmt.Sprintf("capacity_%d", capacity), func(t *testing.T) {
			w := NewWindow(capacity)
			assert.Equal(t, DefaultWindowSize, w.Cap())
		})
	}
}
