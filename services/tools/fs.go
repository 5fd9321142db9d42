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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes caps what a single fs_read returns.
const maxReadBytes = 256 * 1024

// resolve confines a relative path to the sandbox root.
func resolve(root, input string) (string, error) {
	cleaned := filepath.Clean(strings.TrimSpace(input))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, input)
	}
	return filepath.Join(root, cleaned), nil
}

// FSRead reads a file under its sandbox root.
type FSRead struct {
	Root string
}

func (FSRead) Name() string        { return "fs_read" }
func (FSRead) Description() string { return "reads a file under the sandbox root" }

func (f FSRead) Invoke(_ context.Context, input string) (string, error) {
	path, err := resolve(f.Root, input)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("fs_read %q: %w", input, err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}
	return string(data), nil
}

// FSWrite writes a file under its sandbox root. Input format is
// "<relative path>\n<content>".
type FSWrite struct {
	Root string
}

func (FSWrite) Name() string        { return "fs_write" }
func (FSWrite) Description() string { return "writes a file under the sandbox root" }

func (f FSWrite) Invoke(_ context.Context, input string) (string, error) {
	rel, content, _ := strings.Cut(input, "\n")
	path, err := resolve(f.Root, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("fs_write %q: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return "", fmt.Errorf("fs_write %q: %w", rel, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), strings.TrimSpace(rel)), nil
}
