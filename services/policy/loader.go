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

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxPolicyFileSize is the maximum allowed policy file size (1MB).
// Prevents memory issues from pathological files.
const MaxPolicyFileSize = 1024 * 1024

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, parses, and validates a policy document from disk.
//
// Description:
//
//	Reads the file, decodes the YAML into typed structures, and runs full
//	validation. Any failure is a startup error: the engine must not run
//	with an undefined governance configuration.
//
// Inputs:
//
//	path - Path to the policy YAML file.
//
// Outputs:
//
//	*Document - The validated, immutable policy.
//	error - Non-nil on read, parse, or validation failure.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyRead, err)
	}
	if info.Size() > MaxPolicyFileSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrPolicyRead, MaxPolicyFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyRead, err)
	}

	return Parse(data)
}

// Default returns the embedded default policy.
//
// The embedded document is validated like any other; a malformed embed is a
// programming error surfaced at startup.
func Default() (*Document, error) {
	return Parse(defaultPolicyYAML)
}

// Parse decodes and validates a policy document from raw YAML.
//
// Inputs:
//
//	data - Raw YAML bytes.
//
// Outputs:
//
//	*Document - The validated policy.
//	error - Non-nil if the document is malformed or inconsistent.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyParse, err)
	}

	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyInvalid, err)
	}

	if err := checkModeGraph(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// checkModeGraph validates cross-references the struct tags cannot express:
// unique mode names, a declared initial mode, and reachable transition
// targets.
func checkModeGraph(doc *Document) error {
	declared := make(map[string]bool, len(doc.Modes))
	for _, m := range doc.Modes {
		if declared[m.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateMode, m.Name)
		}
		declared[m.Name] = true
	}

	if !declared[doc.InitialMode] {
		return fmt.Errorf("%w: initial mode %q is not declared", ErrUnknownMode, doc.InitialMode)
	}

	for _, m := range doc.Modes {
		for _, t := range m.Transitions {
			if !declared[t.Target] {
				return fmt.Errorf("%w: %s -> %s", ErrUnreachableTarget, m.Name, t.Target)
			}
			if t.Target == m.Name {
				return fmt.Errorf("%w: %s targets itself", ErrUnreachableTarget, m.Name)
			}
		}
	}

	return nil
}
