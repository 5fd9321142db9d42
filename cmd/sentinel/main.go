// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentinel runs the governed task engine: a metric-driven mode
// controller, a capability gate, and an HTTP surface for task submission
// and operator overrides.
//
// # Usage
//
//	# Run with the built-in default policy
//	sentinel serve
//
//	# Run with a policy file and a local OpenAI-compatible backend
//	OPENAI_BASE_URL=http://localhost:11434/v1 sentinel serve --policy policy.yaml
//
//	# Validate a policy file without starting anything
//	sentinel policy check policy.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	policyPath string
	listenAddr string
	dataDir    string
	sandboxDir string
	logLevel   string
	logDir     string
	offline    bool

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "A governed task-execution engine with adaptive operating modes",
		Long: `Sentinel runs model-planned tasks under a governance policy.
A background controller samples host and engine metrics, shifts the
operating mode when sustained thresholds fire, and every task step is
checked against the live mode's capability constraints.`,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	serveCmd.Flags().StringVar(&policyPath, "policy", "", "Path to the governance policy YAML (empty uses the built-in default)")
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":12310", "HTTP listen address")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for the task archive (empty uses in-memory storage)")
	serveCmd.Flags().StringVar(&sandboxDir, "sandbox-dir", "", "Root directory for the fs_read/fs_write tools (empty disables them)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Minimum log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (empty logs to stderr only)")
	serveCmd.Flags().BoolVar(&offline, "offline", false, "Use the canned offline model client instead of an API backend")

	policyCmd.AddCommand(policyCheckCmd)
	rootCmd.AddCommand(serveCmd, policyCmd)
}
