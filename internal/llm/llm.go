// Package llm wraps the hosted chat-completion APIs the tutor talks to.
// Clients are thin pass-throughs: no retries, no streaming.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pybuddy/internal/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrMissingAPIKey    = errors.New("missing API key")
	ErrMissingModel     = errors.New("model is required")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrEmptyCompletion  = errors.New("provider returned no choices")
	ErrProviderNotReady = errors.New("provider not ready")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// Selection picks a provider for one request. Empty fields fall back to the configuration.
type Selection struct {
	Provider string
	APIKey   string
}

// Factory builds chat clients per request, since the API key may come from the user.
type Factory interface {
	Client(sel Selection) (ChatClient, error)
}

type ConfigFactory struct {
	cfg config.LLMConfig
}

func NewFactory(cfg config.LLMConfig) *ConfigFactory {
	return &ConfigFactory{cfg: cfg}
}

func (f *ConfigFactory) Client(sel Selection) (ChatClient, error) {
	provider := strings.ToLower(sel.Provider)
	if provider == "" {
		provider = strings.ToLower(f.cfg.Provider)
	}

	key := sel.APIKey
	if key == "" {
		key = f.cfg.APIKey(provider)
	}

	switch provider {
	case "openai":
		if key == "" {
			return nil, fmt.Errorf("OpenAI: %w", ErrMissingAPIKey)
		}
		return NewOpenAIClient("openai", key, "", f.cfg.OpenAIModel, f.cfg.Temperature), nil
	case "deepseek":
		if key == "" {
			return nil, fmt.Errorf("DeepSeek: %w", ErrMissingAPIKey)
		}
		return NewOpenAIClient("deepseek", key, f.cfg.DeepSeekURL, f.cfg.DeepSeekModel, f.cfg.Temperature), nil
	case "ollama":
		return NewOllamaClient(f.cfg.OLLAMAHost, f.cfg.OLLAMAModel, f.cfg.Temperature)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, sel.Provider)
}
