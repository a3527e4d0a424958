package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

type OllamaClient struct {
	client      *api.Client
	model       string
	temperature float32
}

func NewOllamaClient(host, model string, temperature float32) (*OllamaClient, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: %w", ErrMissingModel)
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama host %q: %w", host, err)
	}
	return &OllamaClient{
		client:      api.NewClient(base, http.DefaultClient),
		model:       model,
		temperature: temperature,
	}, nil
}

func (c *OllamaClient) Name() string { return "ollama" }

func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (string, error) {
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: make([]api.Message, len(messages)),
		Stream:   new(bool),
		Options:  map[string]any{"temperature": c.temperature},
	}
	for i, m := range messages {
		req.Messages[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	var response strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	if response.Len() == 0 {
		return "", fmt.Errorf("ollama: %w", ErrEmptyCompletion)
	}
	return response.String(), nil
}

// WaitForOllama polls the server until it answers or ctx expires.
func (c *OllamaClient) WaitForOllama(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.client.List(ctx); err == nil {
			slog.Info("Ollama is available")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for Ollama: %w", ErrProviderNotReady)
		case <-ticker.C:
			slog.Info("Checking Ollama availability...")
		}
	}
}

// HasModel reports whether the configured model is present on the server.
func (c *OllamaClient) HasModel(ctx context.Context) (bool, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range resp.Models {
		if m.Name == c.model || m.Model == c.model {
			return true, nil
		}
	}
	return false, nil
}

// Pull downloads the configured model. Progress is logged at debug level.
func (c *OllamaClient) Pull(ctx context.Context) error {
	slog.Info("Pulling model", "model", c.model)
	req := &api.PullRequest{Model: c.model, Stream: new(bool)}
	err := c.client.Pull(ctx, req, func(resp api.ProgressResponse) error {
		slog.Debug("Pulling", "model", c.model, "status", resp.Status)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to pull model %s: %w", c.model, err)
	}
	slog.Info("Model pulled", "model", c.model)
	return nil
}
