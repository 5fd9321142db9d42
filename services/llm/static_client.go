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

import (
	"context"
	"fmt"
)

// StaticClient answers every role with a canned template. Used when the
// engine runs offline and in tests; the governance path does not care what
// the model says, only that calls go through the gate.
type StaticClient struct{}

// Complete implements ChatClient.
func (StaticClient) Complete(_ context.Context, role Role, _, prompt string) (string, error) {
	switch role {
	case RolePlanner:
		return "echo: " + prompt, nil
	case RoleWorker:
		return fmt.Sprintf("considered %q, nothing further needed", prompt), nil
	case RoleSynthesizer:
		return "summary: " + prompt, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
}
