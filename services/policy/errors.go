// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import "errors"

// Sentinel errors for the policy service.
//
// A policy failure at startup is fatal: the engine refuses to run with an
// undefined governance configuration.
var (
	// ErrPolicyRead indicates the policy document could not be read.
	ErrPolicyRead = errors.New("policy document could not be read")

	// ErrPolicyParse indicates the policy document is not valid YAML.
	ErrPolicyParse = errors.New("policy document is not valid YAML")

	// ErrPolicyInvalid indicates the policy document failed validation.
	ErrPolicyInvalid = errors.New("policy document failed validation")

	// ErrUnknownMode indicates a mode name outside the closed mode set.
	ErrUnknownMode = errors.New("unknown mode name")

	// ErrUnreachableTarget indicates a transition targets an undeclared mode.
	ErrUnreachableTarget = errors.New("transition targets an undeclared mode")

	// ErrDuplicateMode indicates the same mode is declared twice.
	ErrDuplicateMode = errors.New("mode declared more than once")
)
