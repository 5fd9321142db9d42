// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governor

import "errors"

var (
	// ErrUnknownMode indicates a mode outside the declared policy set.
	ErrUnknownMode = errors.New("mode is not declared in the active policy")

	// ErrTransitionRejected indicates a transition could not be applied.
	// The controller logs it and remains in the current mode.
	ErrTransitionRejected = errors.New("mode transition rejected")

	// ErrControllerStopped indicates the control loop is no longer running.
	ErrControllerStopped = errors.New("mode controller stopped")
)
