// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"time"
)

// Echo returns its input unchanged. The cheapest possible tool, useful for
// exercising the full gate and trace path.
type Echo struct{}

func (Echo) Name() string        { return "echo" }
func (Echo) Description() string { return "returns the input unchanged" }

func (Echo) Invoke(_ context.Context, input string) (string, error) {
	return input, nil
}

// Clock reports the current time in RFC 3339.
type Clock struct {
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (Clock) Name() string        { return "clock" }
func (Clock) Description() string { return "reports the current UTC time" }

func (c Clock) Invoke(_ context.Context, _ string) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().UTC().Format(time.RFC3339), nil
}
