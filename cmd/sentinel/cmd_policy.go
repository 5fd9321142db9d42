// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alextra-lab/personal-agent-sub001/services/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and validate governance policies",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [policy.yaml]",
	Short: "Parse and validate a policy file, then print a summary",
	Long: `Loads the policy through the same parser and validator the serve
command uses: schema validation, closed mode set, reachable transition
targets, and a declared initial mode. With no argument it checks the
built-in default policy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPolicyCheck,
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	var (
		doc    *policy.Document
		source = "built-in default"
		err    error
	)
	if len(args) == 1 {
		source = args[0]
		doc, err = policy.Load(args[0])
	} else {
		doc, err = policy.Default()
	}
	if err != nil {
		return fmt.Errorf("policy check failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "policy OK: %s\n", source)
	fmt.Fprintf(out, "  version:      %d\n", doc.Version)
	fmt.Fprintf(out, "  initial mode: %s\n", doc.InitialMode)
	fmt.Fprintf(out, "  capabilities: %d\n", len(doc.Capabilities))

	for _, mode := range doc.Modes {
		fmt.Fprintf(out, "  mode %s:\n", mode.Name)
		fmt.Fprintf(out, "    categories:  %v\n", mode.Constraints.AllowedCategories)
		if len(mode.Constraints.ApprovalRequired) > 0 {
			fmt.Fprintf(out, "    approval:    %v\n", mode.Constraints.ApprovalRequired)
		}
		fmt.Fprintf(out, "    concurrency: %s\n", formatLimit(mode.Constraints.ConcurrencyLimit))
		fmt.Fprintf(out, "    budgets:     step %s, task %s\n",
			time.Duration(mode.Constraints.StepTimeout),
			time.Duration(mode.Constraints.TaskBudget),
		)
		for _, tr := range mode.Transitions {
			gate := ""
			if tr.RequiresApproval {
				gate = " (approval required)"
			}
			fmt.Fprintf(out, "    -> %s after %s sustained, %d condition(s) [%s]%s\n",
				tr.Target, time.Duration(tr.SustainedFor), len(tr.When), tr.Combinator, gate)
		}
	}
	return nil
}

func formatLimit(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}
