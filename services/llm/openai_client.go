// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient serves all roles through an OpenAI-compatible endpoint.
//
// Pointing BaseURL at a local inference server (Ollama, llama.cpp) keeps the
// whole loop on the host; the default is the hosted API.
type OpenAIClient struct {
	client *openai.Client
	models map[Role]string
	logger *slog.Logger
}

// OpenAIConfig configures the client. Zero values fall back to environment
// variables and defaults.
type OpenAIConfig struct {
	// APIKey authenticates requests. Falls back to OPENAI_API_KEY, then to
	// the container secret at /run/secrets/openai_api_key.
	APIKey string

	// BaseURL overrides the endpoint for OpenAI-compatible local servers.
	// Falls back to OPENAI_BASE_URL; empty means the hosted API.
	BaseURL string

	// Models maps roles to model names. Missing roles default to
	// gpt-4o-mini.
	Models map[Role]string

	Logger *slog.Logger
}

const openaiSecretPath = "/run/secrets/openai_api_key"

// defaultModel is used for any role without an explicit mapping.
const defaultModel = "gpt-4o-mini"

// NewOpenAIClient builds a role-aware client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		if data, err := os.ReadFile(openaiSecretPath); err == nil {
			apiKey = strings.TrimSpace(string(data))
			logger.Info("read API key from container secret", "path", openaiSecretPath)
		}
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := openai.DefaultConfig(apiKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
		logger.Info("using OpenAI-compatible endpoint", "base_url", baseURL)
	}

	models := make(map[Role]string, 3)
	for _, role := range []Role{RolePlanner, RoleWorker, RoleSynthesizer} {
		if m, ok := cfg.Models[role]; ok && m != "" {
			models[role] = m
		} else {
			models[role] = defaultModel
		}
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		models: models,
		logger: logger,
	}, nil
}

// Complete implements ChatClient.
func (o *OpenAIClient) Complete(ctx context.Context, role Role, system, prompt string) (string, error) {
	model, ok := o.models[role]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	o.logger.Debug("model call", "role", role, "model", model)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}
