// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import "errors"

var (
	// ErrTaskRejected indicates the task was refused before starting,
	// normally because no concurrency slot was available.
	ErrTaskRejected = errors.New("task rejected at admission")

	// ErrBudgetExceeded indicates the task ran past its wall-clock budget.
	ErrBudgetExceeded = errors.New("task budget exceeded")

	// ErrStepTimeout indicates one step handler ran past its deadline.
	ErrStepTimeout = errors.New("step handler timed out")

	// ErrCapabilityDenied indicates the gate denied the step's capability.
	ErrCapabilityDenied = errors.New("step capability denied")

	// ErrApprovalDenied indicates the operator refused a required approval.
	ErrApprovalDenied = errors.New("step approval denied")

	// ErrApprovalExpired indicates nobody answered a required approval.
	ErrApprovalExpired = errors.New("step approval expired")

	// ErrHandlerPanic indicates a step handler panicked; the task fails,
	// the engine survives.
	ErrHandlerPanic = errors.New("step handler panicked")

	// ErrNoHandler indicates no handler is registered for an active state.
	ErrNoHandler = errors.New("no handler registered for state")

	// ErrInvalidTransition indicates a handler returned a next state the
	// state machine does not permit.
	ErrInvalidTransition = errors.New("invalid task state transition")
)
