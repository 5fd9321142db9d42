// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the per-state step handlers of the task
// engine. Each handler declares the capability its next execution will use,
// so the gate can rule on it before any work happens.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alextra-lab/personal-agent-sub001/services/engine"
	"github.com/alextra-lab/personal-agent-sub001/services/llm"
	"github.com/alextra-lab/personal-agent-sub001/services/tools"
)

// ErrEmptyGoal indicates a task request with nothing to do.
var ErrEmptyGoal = errors.New("task goal is empty")

// All returns the full handler set in no particular order.
func All(client llm.ChatClient, registry *tools.Registry) []engine.Handler {
	return []engine.Handler{
		Init{},
		Planning{Client: client, Registry: registry},
		ModelCall{Client: client},
		ToolExecution{Registry: registry},
		Synthesis{Client: client},
	}
}

// Init validates the request and admits the task into planning.
type Init struct{}

func (Init) State() engine.TaskState { return engine.StateInit }

func (Init) Capability(*engine.ExecutionContext) string { return "task.slot" }

func (Init) Execute(_ context.Context, ec *engine.ExecutionContext) (engine.TaskState, error) {
	goal := strings.TrimSpace(ec.Request.Goal)
	if goal == "" {
		return "", ErrEmptyGoal
	}
	ec.Request.Goal = goal
	return engine.StatePlanning, nil
}

// Planning asks the planner model for a tool plan.
//
// Description:
//
//	The planner is prompted with the goal and the available tool names and
//	answers one "tool: input" line per step. Lines naming unknown tools
//	are dropped; an unusable answer degrades to a single echo step so a
//	weak planner model never strands the task.
type Planning struct {
	Client   llm.ChatClient
	Registry *tools.Registry
}

func (Planning) State() engine.TaskState { return engine.StatePlanning }

func (Planning) Capability(*engine.ExecutionContext) string { return "model.planner" }

func (p Planning) Execute(ctx context.Context, ec *engine.ExecutionContext) (engine.TaskState, error) {
	system := "You plan tool invocations. Available tools: " +
		strings.Join(p.Registry.Names(), ", ") +
		". Answer with one line per step, formatted as 'tool: input'."

	resp, err := p.Client.Complete(ctx, llm.RolePlanner, system, ec.Request.Goal)
	if err != nil {
		return "", fmt.Errorf("planning call: %w", err)
	}

	ec.Plan = p.parsePlan(resp)
	if len(ec.Plan) == 0 {
		ec.Plan = []engine.PlanStep{{Tool: "echo", Input: ec.Request.Goal}}
	}
	return engine.StateModelCall, nil
}

func (p Planning) parsePlan(resp string) []engine.PlanStep {
	var plan []engine.PlanStep
	for _, line := range strings.Split(resp, "\n") {
		name, input, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if _, err := p.Registry.Get(name); err != nil {
			continue
		}
		plan = append(plan, engine.PlanStep{
			Tool:  name,
			Input: strings.TrimSpace(input),
		})
	}
	return plan
}

// ModelCall performs the main worker model call over the goal and plan.
type ModelCall struct {
	Client llm.ChatClient
}

func (ModelCall) State() engine.TaskState { return engine.StateModelCall }

func (ModelCall) Capability(*engine.ExecutionContext) string { return "model.worker" }

func (m ModelCall) Execute(ctx context.Context, ec *engine.ExecutionContext) (engine.TaskState, error) {
	var sb strings.Builder
	sb.WriteString(ec.Request.Goal)
	if len(ec.Plan) > 0 {
		sb.WriteString("\n\nPlanned steps:")
		for _, step := range ec.Plan {
			fmt.Fprintf(&sb, "\n- %s: %s", step.Tool, step.Input)
		}
	}

	resp, err := m.Client.Complete(ctx, llm.RoleWorker,
		"You work on the task before invoking any tools.", sb.String())
	if err != nil {
		return "", fmt.Errorf("worker call: %w", err)
	}
	ec.ModelNotes = append(ec.ModelNotes, resp)

	if len(ec.Plan) > 0 {
		return engine.StateToolExecution, nil
	}
	return engine.StateSynthesis, nil
}

// ToolExecution runs exactly one planned tool invocation per step, looping
// in its own state until the plan is drained. One invocation per step keeps
// the gate check and the trace record per tool, not per batch.
type ToolExecution struct {
	Registry *tools.Registry
}

func (ToolExecution) State() engine.TaskState { return engine.StateToolExecution }

func (ToolExecution) Capability(ec *engine.ExecutionContext) string {
	if step, ok := ec.CurrentPlanStep(); ok {
		return tools.Capability(step.Tool)
	}
	return "task.slot"
}

func (t ToolExecution) Execute(ctx context.Context, ec *engine.ExecutionContext) (engine.TaskState, error) {
	step, ok := ec.CurrentPlanStep()
	if !ok {
		return engine.StateSynthesis, nil
	}

	tool, err := t.Registry.Get(step.Tool)
	if err != nil {
		return "", err
	}
	out, err := tool.Invoke(ctx, step.Input)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", step.Tool, err)
	}

	ec.ToolResults = append(ec.ToolResults, engine.ToolResult{Tool: step.Tool, Output: out})
	ec.PlanCursor++

	if ec.PlanCursor < len(ec.Plan) {
		return engine.StateToolExecution, nil
	}
	return engine.StateSynthesis, nil
}

// Synthesis folds model notes and tool outputs into the final answer.
type Synthesis struct {
	Client llm.ChatClient
}

func (Synthesis) State() engine.TaskState { return engine.StateSynthesis }

func (Synthesis) Capability(*engine.ExecutionContext) string { return "model.synthesizer" }

func (s Synthesis) Execute(ctx context.Context, ec *engine.ExecutionContext) (engine.TaskState, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", ec.Request.Goal)
	for _, note := range ec.ModelNotes {
		fmt.Fprintf(&sb, "\nNote: %s\n", note)
	}
	for _, res := range ec.ToolResults {
		fmt.Fprintf(&sb, "\nTool %s output:\n%s\n", res.Tool, res.Output)
	}

	resp, err := s.Client.Complete(ctx, llm.RoleSynthesizer,
		"Produce the final answer from the notes and tool outputs.", sb.String())
	if err != nil {
		return "", fmt.Errorf("synthesis call: %w", err)
	}
	ec.Answer = resp
	return engine.StateCompleted, nil
}
