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

import "errors"

var (
	// ErrNoCollectors indicates a sampler was built with nothing to sample.
	ErrNoCollectors = errors.New("sampler requires at least one collector")

	// ErrCollectorTimeout indicates a collector exceeded its per-collector
	// deadline. The reading is omitted from the sample.
	ErrCollectorTimeout = errors.New("collector timed out")

	// ErrDuplicateCollector indicates two collectors share a name.
	ErrDuplicateCollector = errors.New("collector name registered twice")
)
