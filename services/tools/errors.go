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

import "errors"

var (
	// ErrUnknownTool indicates the registry has no tool by that name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool indicates a tool name registered twice.
	ErrDuplicateTool = errors.New("tool name already registered")

	// ErrOutsideRoot indicates a filesystem path escaping the sandbox root.
	ErrOutsideRoot = errors.New("path escapes the tool sandbox root")
)
