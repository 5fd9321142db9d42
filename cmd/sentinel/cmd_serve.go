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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alextra-lab/personal-agent-sub001/pkg/logging"
	"github.com/alextra-lab/personal-agent-sub001/services/approval"
	"github.com/alextra-lab/personal-agent-sub001/services/engine"
	"github.com/alextra-lab/personal-agent-sub001/services/engine/handlers"
	"github.com/alextra-lab/personal-agent-sub001/services/gate"
	"github.com/alextra-lab/personal-agent-sub001/services/governor"
	"github.com/alextra-lab/personal-agent-sub001/services/llm"
	"github.com/alextra-lab/personal-agent-sub001/services/metrics"
	"github.com/alextra-lab/personal-agent-sub001/services/policy"
	"github.com/alextra-lab/personal-agent-sub001/services/server"
	"github.com/alextra-lab/personal-agent-sub001/services/session"
	"github.com/alextra-lab/personal-agent-sub001/services/telemetry"
	"github.com/alextra-lab/personal-agent-sub001/services/tools"
)

const (
	archiveGCInterval = 10 * time.Minute
	archiveGCRatio    = 0.5
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine: controller, sampler, gate, and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(logging.Config{
		Level:   logLevel,
		LogDir:  logDir,
		Service: "sentinel",
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	doc, err := loadPolicy(policyPath)
	if err != nil {
		return err
	}
	logger.Info("policy loaded",
		"path", policyPath,
		"initial_mode", doc.InitialMode,
		"modes", len(doc.Modes),
	)

	broker := approval.NewBroker(logger.Logger)

	controller, err := governor.New(governor.Config{
		Policy:    doc,
		Approvals: broker,
		Logger:    logger.Logger,
		OnTransition: func(ev governor.TransitionEvent) {
			telemetry.EmitModeTransition(
				string(ev.From), string(ev.To), ev.Reason,
				ev.TriggerMetric, ev.TriggerValue, ev.Version,
			)
		},
	})
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	// The feedback counter closes the loop: gate denials and task failures
	// become readings the transition rules watch.
	feedback := metrics.NewCounterCollector("engine", "policy_violations", "task_failures")

	window := metrics.NewWindow(metrics.DefaultWindowSize)
	sampler, err := metrics.NewSampler(metrics.SamplerConfig{
		Collectors: []metrics.Collector{
			metrics.CPUCollector{},
			metrics.MemoryCollector{},
			metrics.RuntimeCollector{},
			feedback,
		},
		Window:   window,
		Interval: controller.SamplingInterval,
		Logger:   logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	sampler.Notify(controller.OnSample)

	registry, err := buildRegistry()
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	logger.Info("tool registry ready", "tools", registry.Names())

	client, err := buildModelClient(logger)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	store, err := openStore(logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	g := gate.New(controller, doc.Capabilities, feedback, logger.Logger)

	executor, err := engine.NewExecutor(engine.ExecutorConfig{
		Handlers:  handlers.All(client, registry),
		Gate:      g,
		Approvals: broker,
		Snapshots: controller,
		Archiver:  store,
		Failures:  feedback,
		Logger:    logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}

	srv, err := server.New(server.Config{
		Addr:       listenAddr,
		Executor:   executor,
		Controller: controller,
		Approvals:  broker,
		Store:      store,
		Window:     window,
		Logger:     logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		controller.Run(gctx)
		return nil
	})
	group.Go(func() error {
		sampler.Run(gctx)
		return nil
	})
	group.Go(func() error {
		store.RunGC(gctx, archiveGCInterval, archiveGCRatio)
		return nil
	})
	group.Go(func() error {
		return srv.Run(gctx)
	})

	logger.Info("sentinel up", "addr", listenAddr, "mode", controller.Mode())
	err = group.Wait()
	logger.Info("sentinel down")
	return err
}

func loadPolicy(path string) (*policy.Document, error) {
	if path == "" {
		return policy.Default()
	}
	return policy.Load(path)
}

func buildRegistry() (*tools.Registry, error) {
	list := []tools.Tool{tools.Echo{}, tools.Clock{}}
	if sandboxDir != "" {
		if err := os.MkdirAll(sandboxDir, 0o750); err != nil {
			return nil, err
		}
		list = append(list, tools.FSRead{Root: sandboxDir}, tools.FSWrite{Root: sandboxDir})
	}
	return tools.NewRegistry(list...)
}

// buildModelClient prefers a real backend and falls back to the canned
// client when running offline or without a key.
func buildModelClient(logger *logging.Logger) (llm.ChatClient, error) {
	if offline {
		logger.Info("model client: offline static responses")
		return llm.StaticClient{}, nil
	}
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{Logger: logger.Logger})
	if err != nil {
		logger.Warn("model backend unavailable, using offline responses", "error", err)
		return llm.StaticClient{}, nil
	}
	return client, nil
}

func openStore(logger *logging.Logger) (*session.Store, error) {
	if dataDir == "" {
		logger.Warn("no data directory set, task archive is in-memory only")
		return session.OpenInMemory()
	}
	cfg := session.DefaultConfig(dataDir)
	cfg.Logger = logger.Logger
	return session.Open(cfg)
}
