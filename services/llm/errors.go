// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "errors"

var (
	// ErrMissingAPIKey indicates no API key was available at startup.
	ErrMissingAPIKey = errors.New("no API key configured")

	// ErrNoChoices indicates the backend returned an empty response.
	ErrNoChoices = errors.New("model returned no choices")

	// ErrUnknownRole indicates a role with no configured model.
	ErrUnknownRole = errors.New("no model configured for role")
)
