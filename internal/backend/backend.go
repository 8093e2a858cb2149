// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package backend provides text-generation backends for the role invokers.
// Each backend takes a system prompt, a user payload, and a temperature and
// returns the model's raw text. Model identity and provider are
// configuration; the engine never inspects them.
package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pdiddy/idea-engine/pkg/types"
)

// Backend is a handle to one configured model.
type Backend interface {
	// Invoke sends the prompt and returns the raw response text.
	Invoke(ctx context.Context, system, prompt string, temperature float64) (string, error)
}

// UnavailableError reports that a backend call could not be completed:
// connection failure, non-success HTTP status, or an empty response body.
type UnavailableError struct {
	Provider types.Provider
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// New constructs the backend for one role from configuration. The same
// *http.Client is shared across roles so concurrent idea processing reuses
// connections.
func New(role types.RoleConfig, cfg types.BackendConfig, client *http.Client) (Backend, error) {
	switch role.Provider {
	case types.ProviderOllama:
		base := cfg.OllamaBaseURL
		if base == "" {
			base = defaultOllamaURL
		}
		return &OllamaBackend{BaseURL: base, Model: role.Model, Client: client, MaxRetries: cfg.MaxRetries, UserAgent: cfg.UserAgent}, nil

	case types.ProviderOllamaCloud:
		base := cfg.OllamaCloudURL
		if base == "" {
			base = cfg.OllamaBaseURL
		}
		if base == "" {
			base = defaultOllamaURL
		}
		// Cloud-hosted models are managed remotely; no explicit unload.
		return &OllamaBackend{BaseURL: base, Model: role.Model, Client: client, MaxRetries: cfg.MaxRetries, UserAgent: cfg.UserAgent, cloud: true}, nil

	case types.ProviderClaude:
		return &ClaudeBackend{APIKey: cfg.AnthropicAPIKey, Model: role.Model, Client: client, MaxRetries: cfg.MaxRetries}, nil

	default:
		return nil, &types.ConfigurationError{
			Field:  "provider",
			Reason: fmt.Sprintf("unsupported provider %q", role.Provider),
		}
	}
}
