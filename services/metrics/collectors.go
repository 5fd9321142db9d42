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
	"context"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Collector produces one or more named readings per sampling pass.
//
// Implementations must honor the context deadline; the sampler enforces a
// per-collector timeout and drops readings from collectors that overrun it.
type Collector interface {
	// Name identifies the collector in logs and in Sample.Missing.
	Name() string

	// Collect returns the readings for this pass.
	Collect(ctx context.Context) (map[string]float64, error)
}

// CPUCollector reports system CPU utilization as "cpu_load" (0-100).
type CPUCollector struct{}

func (CPUCollector) Name() string { return "cpu" }

func (CPUCollector) Collect(ctx context.Context) (map[string]float64, error) {
	// Zero interval compares against the previous call instead of blocking.
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(pcts) == 0 {
		return map[string]float64{}, nil
	}
	return map[string]float64{"cpu_load": pcts[0]}, nil
}

// MemoryCollector reports system memory utilization as "memory_used" (0-100).
type MemoryCollector struct{}

func (MemoryCollector) Name() string { return "memory" }

func (MemoryCollector) Collect(ctx context.Context) (map[string]float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"memory_used": vm.UsedPercent}, nil
}

// RuntimeCollector reports process-level readings from the Go runtime.
type RuntimeCollector struct{}

func (RuntimeCollector) Name() string { return "runtime" }

func (RuntimeCollector) Collect(_ context.Context) (map[string]float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]float64{
		"goroutines": float64(runtime.NumGoroutine()),
		"heap_mb":    float64(ms.HeapAlloc) / (1024 * 1024),
	}, nil
}

// CounterCollector turns event counters into per-interval readings.
//
// Description:
//
//	The executor and the gate record discrete events (task failures, policy
//	violations) as they happen; each sampling pass reads the counts
//	accumulated since the previous pass and resets them. A reading of zero
//	therefore means "none in the last interval", which is what sustained
//	recovery conditions compare against.
//
// Thread Safety:
//
//	Safe for concurrent use.
type CounterCollector struct {
	name string

	mu     sync.Mutex
	counts map[string]float64
}

// NewCounterCollector creates a collector for the given reading names.
func NewCounterCollector(name string, readings ...string) *CounterCollector {
	counts := make(map[string]float64, len(readings))
	for _, r := range readings {
		counts[r] = 0
	}
	return &CounterCollector{name: name, counts: counts}
}

func (c *CounterCollector) Name() string { return c.name }

// Add records n occurrences of the named event. Unknown names are ignored
// so callers cannot grow the reading set at runtime.
func (c *CounterCollector) Add(reading string, n float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counts[reading]; ok {
		c.counts[reading] += n
	}
}

// Incr records one occurrence of the named event.
func (c *CounterCollector) Incr(reading string) {
	c.Add(reading, 1)
}

// Collect returns the counts since the last pass and resets them.
func (c *CounterCollector) Collect(_ context.Context) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]float64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
		c.counts[k] = 0
	}
	return out, nil
}
