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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("services/telemetry")

// EmitModeTransition records a mode transition as a telemetry event: a
// zero-duration span carrying the source and destination modes and the
// metric crossing that caused it. Trigger attributes are omitted for
// operator-forced transitions.
//
// Thread Safety: Safe for concurrent use.
func EmitModeTransition(from, to, reason, triggerMetric string, triggerValue float64, version uint64) {
	attrs := []attribute.KeyValue{
		attribute.String("mode.from", from),
		attribute.String("mode.to", to),
		attribute.String("mode.reason", reason),
		attribute.Int64("mode.version", int64(version)),
	}
	if triggerMetric != "" {
		attrs = append(attrs,
			attribute.String("mode.trigger_metric", triggerMetric),
			attribute.Float64("mode.trigger_value", triggerValue),
		)
	}

	_, span := tracer.Start(context.Background(), "mode.transition",
		oteltrace.WithAttributes(attrs...))
	span.End()
}
