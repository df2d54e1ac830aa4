// Package backend is the completion gateway: one blocking call to a hosted
// text-generation service per conversation turn. There is no retry, backoff
// or streaming; a failed call is reported to the caller as is.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"RoleplayChat/internal/config"
	"RoleplayChat/internal/session"
)

// ErrEmptyCompletion is returned when the provider answered without any text.
var ErrEmptyCompletion = errors.New("empty completion")

// Request is one completion call.
type Request struct {
	System      string
	Messages    []session.Turn
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting reported by the provider, when it reports any.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Completion is the generated reply.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Completer generates the next assistant turn.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Name() string
}

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	grokBaseURL   = "https://api.x.ai/v1"
	ollamaBaseURL = "http://localhost:11434"
)

var defaultModels = map[string]string{
	config.BackendGemini:    "gemini-pro-latest",
	config.BackendOpenAI:    "gpt-4o-mini",
	config.BackendAnthropic: "claude-sonnet-4-20250514",
	config.BackendGrok:      "grok-3",
	config.BackendOllama:    "llama3:latest",
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// New builds the Completer selected by cfg.
func New(cfg config.BackendConfig) (Completer, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Provider)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	if cfg.Provider != config.BackendOllama && cfg.APIKey == "" {
		return nil, fmt.Errorf("%s not set", config.APIKeyEnv(cfg.Provider))
	}

	switch cfg.Provider {
	case config.BackendGemini:
		return NewOpenAI(config.BackendGemini, cfg.APIKey, orDefault(cfg.BaseURL, geminiBaseURL), model, httpClient), nil
	case config.BackendGrok:
		return NewOpenAI(config.BackendGrok, cfg.APIKey, orDefault(cfg.BaseURL, grokBaseURL), model, httpClient), nil
	case config.BackendOpenAI:
		return NewOpenAI(config.BackendOpenAI, cfg.APIKey, cfg.BaseURL, model, httpClient), nil
	case config.BackendAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.BaseURL, model, httpClient), nil
	case config.BackendOllama:
		return NewOllama(orDefault(cfg.BaseURL, ollamaBaseURL), model, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
