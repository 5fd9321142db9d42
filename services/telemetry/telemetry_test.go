// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithEverythingDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "sentinel-test",
		TraceExporter:  "none",
		MetricExporter: "none",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitWithStdoutTraces(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "sentinel-test",
		TraceExporter:  "stdout",
		MetricExporter: "none",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRejectsUnknownExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{
		TraceExporter:  "jaeger-classic",
		MetricExporter: "none",
	})
	require.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{
		TraceExporter:  "none",
		MetricExporter: "statsd",
	})
	require.ErrorIs(t, err, ErrUnknownExporter)
}

func TestEmitModeTransitionIsSafeWithoutProvider(t *testing.T) {
	// The global no-op tracer must absorb events before Init and after
	// shutdown; either call panicking would take down the control loop.
	EmitModeTransition("normal", "alert", "transition rule", "cpu_load", 92.4, 2)
	EmitModeTransition("alert", "normal", "operator override", "", 0, 3)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sentinel", cfg.ServiceName)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
}
