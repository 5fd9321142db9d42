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
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultCollectorTimeout bounds a single collector invocation.
const DefaultCollectorTimeout = 2 * time.Second

var (
	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_metric_samples_total",
		Help: "Total sampling passes completed.",
	})
	partialSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_metric_samples_partial_total",
		Help: "Sampling passes with at least one failed collector.",
	})
	metricReading = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_metric_reading",
		Help: "Latest value per metric reading.",
	}, []string{"metric"})
)

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	// Collectors to poll each pass. Required, non-empty, unique names.
	Collectors []Collector

	// Window receives every sample. Required.
	Window *Window

	// Interval returns the current sampling interval. Called before each
	// pass so mode changes take effect on the next tick. Required.
	Interval func() time.Duration

	// CollectorTimeout bounds each collector. Zero means the default.
	CollectorTimeout time.Duration

	// Logger for collector failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Sampler polls its collectors on a loop and records samples in the window.
//
// Description:
//
//	The sampler is the sensing side of the governance loop. It never stops
//	on collector failure: a failed or slow collector yields a partial
//	sample, logged and counted, and the loop continues. Only context
//	cancellation ends the run.
//
// Thread Safety:
//
//	Run owns the loop; Notify must be called before Run.
type Sampler struct {
	collectors []Collector
	window     *Window
	interval   func() time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	subs       []func(Sample)
}

// NewSampler validates the configuration and builds a sampler.
func NewSampler(cfg SamplerConfig) (*Sampler, error) {
	if len(cfg.Collectors) == 0 {
		return nil, ErrNoCollectors
	}
	seen := make(map[string]bool, len(cfg.Collectors))
	for _, c := range cfg.Collectors {
		if seen[c.Name()] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCollector, c.Name())
		}
		seen[c.Name()] = true
	}
	if cfg.Window == nil {
		return nil, fmt.Errorf("sampler requires a window")
	}
	if cfg.Interval == nil {
		return nil, fmt.Errorf("sampler requires an interval source")
	}

	timeout := cfg.CollectorTimeout
	if timeout <= 0 {
		timeout = DefaultCollectorTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sampler{
		collectors: cfg.Collectors,
		window:     cfg.Window,
		interval:   cfg.Interval,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Notify registers a callback invoked with every sample, on the sampler
// goroutine. Must be called before Run.
func (s *Sampler) Notify(fn func(Sample)) {
	s.subs = append(s.subs, fn)
}

// Window returns the sample window.
func (s *Sampler) Window() *Window {
	return s.window
}

// Run samples until the context is canceled.
func (s *Sampler) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sample := s.sampleOnce(ctx)
		s.window.Append(sample)
		s.publish(sample)

		// Re-read the interval so a mode change reshapes the cadence.
		timer.Reset(s.interval())
	}
}

// SampleNow performs one synchronous pass, outside the loop. Used by tests
// and by the startup path to seed the window before serving.
func (s *Sampler) SampleNow(ctx context.Context) Sample {
	sample := s.sampleOnce(ctx)
	s.window.Append(sample)
	s.publish(sample)
	return sample
}

func (s *Sampler) publish(sample Sample) {
	for _, fn := range s.subs {
		fn(sample)
	}
}

type collectResult struct {
	readings map[string]float64
	err      error
}

func (s *Sampler) sampleOnce(ctx context.Context) Sample {
	sample := Sample{
		Timestamp: time.Now().UTC(),
		Readings:  make(map[string]float64),
	}

	for _, c := range s.collectors {
		readings, err := s.collect(ctx, c)
		if err != nil {
			s.logger.Warn("collector failed, continuing with partial sample",
				"collector", c.Name(),
				"error", err,
			)
			sample.Missing = append(sample.Missing, c.Name())
			continue
		}
		for name, v := range readings {
			sample.Readings[name] = v
			metricReading.WithLabelValues(name).Set(v)
		}
	}

	samplesTotal.Inc()
	if sample.Partial() {
		partialSamplesTotal.Inc()
	}
	return sample
}

// collect runs one collector in its own goroutine so a collector that
// ignores its context cannot stall the sampling loop.
func (s *Sampler) collect(ctx context.Context, c Collector) (map[string]float64, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan collectResult, 1)
	go func() {
		readings, err := c.Collect(cctx)
		done <- collectResult{readings: readings, err: err}
	}()

	select {
	case res := <-done:
		return res.readings, res.err
	case <-cctx.Done():
		return nil, fmt.Errorf("%w: %s after %s", ErrCollectorTimeout, c.Name(), s.timeout)
	}
}
