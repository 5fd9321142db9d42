// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model backends used by the step handlers, keyed
// by role so planning, working, and synthesis can run on different models.
package llm

import "context"

// Role selects which configured model serves a request.
type Role string

const (
	// RolePlanner produces the tool plan.
	RolePlanner Role = "planner"

	// RoleWorker performs the main reasoning call.
	RoleWorker Role = "worker"

	// RoleSynthesizer turns intermediate outputs into the final answer.
	RoleSynthesizer Role = "synthesizer"
)

// ChatClient is the standard interface for any chat model backend.
type ChatClient interface {
	Complete(ctx context.Context, role Role, system, prompt string) (string, error)
}
