package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by components that make
// network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "idea-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ContextConfig holds settings for the literature context provider.
type ContextConfig struct {
	HTTPConfig `yaml:",inline"`

	// FetchLimit is the number of papers requested from OpenAlex (default 100).
	FetchLimit int `json:"fetch_limit" yaml:"fetch_limit"`

	// TopKPapers is the number of papers kept for the Generator prompt
	// after ranking (default 10).
	TopKPapers int `json:"top_k_papers" yaml:"top_k_papers"`

	// Email is sent as the mailto parameter for OpenAlex polite pool access.
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Provider identifies a text-generation backend implementation.
type Provider string

const (
	ProviderOllama      Provider = "ollama"
	ProviderOllamaCloud Provider = "ollama-cloud"
	ProviderClaude      Provider = "claude"
)

// RoleConfig holds per-role model settings for Generator, Critic, and Refiner.
type RoleConfig struct {
	// Provider selects the backend: ollama, ollama-cloud, or claude.
	Provider Provider `json:"provider" yaml:"provider"`

	// Model is the model identifier (e.g. "qwen2.5:14b", "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// Temperature is the sampling temperature passed to the backend.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// SystemPromptPath is an optional path to a system prompt file for the role.
	SystemPromptPath string `json:"system_prompt_path,omitempty" yaml:"system_prompt_path,omitempty"`
}

// RolesConfig groups the three role configurations.
type RolesConfig struct {
	Generator RoleConfig `json:"generator" yaml:"generator"`
	Critic    RoleConfig `json:"critic" yaml:"critic"`
	Refiner   RoleConfig `json:"refiner" yaml:"refiner"`
}

// BackendConfig holds connection settings shared by all text-generation backends.
type BackendConfig struct {
	HTTPConfig `yaml:",inline"`

	// OllamaBaseURL is the local Ollama endpoint (default "http://localhost:11434").
	OllamaBaseURL string `json:"ollama_base_url" yaml:"ollama_base_url"`

	// OllamaCloudURL is the Ollama cloud endpoint for *-cloud models.
	OllamaCloudURL string `json:"ollama_cloud_url,omitempty" yaml:"ollama_cloud_url,omitempty"`

	// AnthropicAPIKey is the authentication key for the Claude API.
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty" yaml:"anthropic_api_key,omitempty"`

	// MaxRetries is the number of retry attempts on HTTP 429 (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// LoopConfig holds the evolution loop policy knobs.
type LoopConfig struct {
	// MaxIterations is the refinement budget per idea (>= 1).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// NumIdeas is the number of initial drafts requested from the Generator (>= 1).
	NumIdeas int `json:"num_ideas" yaml:"num_ideas"`

	// ScoreThreshold is the average score at or above which an idea is accepted.
	ScoreThreshold float64 `json:"score_threshold" yaml:"score_threshold"`

	// DropThreshold is the average score below which an idea is rejected
	// outright. Must be strictly less than ScoreThreshold.
	DropThreshold float64 `json:"drop_threshold" yaml:"drop_threshold"`
}

// OutputConfig holds settings for run persistence.
type OutputConfig struct {
	// ResultsDir is the directory for run artifacts (JSON dump, Markdown
	// report, archive database).
	ResultsDir string `json:"results_dir" yaml:"results_dir"`

	// DBPath is the sqlite archive path. Empty means
	// <results_dir>/idea-engine.db.
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// PipelineConfig groups all configuration for a run.
type PipelineConfig struct {
	Context ContextConfig `json:"context" yaml:"context"`
	Backend BackendConfig `json:"backend" yaml:"backend"`
	Roles   RolesConfig   `json:"roles" yaml:"roles"`
	Loop    LoopConfig    `json:"loop" yaml:"loop"`
	Output  OutputConfig  `json:"output" yaml:"output"`
}

// ConfigurationError reports an invalid or missing configuration value.
// Configuration errors abort the run before any backend call.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// validProviders is the set of accepted Provider values.
var validProviders = map[Provider]bool{
	ProviderOllama:      true,
	ProviderOllamaCloud: true,
	ProviderClaude:      true,
}

// Validate checks the configuration and returns a ConfigurationError naming
// the first invalid field. It performs no filesystem or network access;
// prompt file checks happen when the roles are constructed.
func (c PipelineConfig) Validate() error {
	if c.Loop.MaxIterations < 1 {
		return &ConfigurationError{Field: "loop.max_iterations", Reason: fmt.Sprintf("must be >= 1, got %d", c.Loop.MaxIterations)}
	}
	if c.Loop.NumIdeas < 1 {
		return &ConfigurationError{Field: "loop.num_ideas", Reason: fmt.Sprintf("must be >= 1, got %d", c.Loop.NumIdeas)}
	}
	if c.Loop.DropThreshold >= c.Loop.ScoreThreshold {
		return &ConfigurationError{
			Field:  "loop.drop_threshold",
			Reason: fmt.Sprintf("must be < score_threshold (%g >= %g)", c.Loop.DropThreshold, c.Loop.ScoreThreshold),
		}
	}
	if c.Context.FetchLimit < 0 {
		return &ConfigurationError{Field: "context.fetch_limit", Reason: "must not be negative"}
	}
	if c.Context.TopKPapers < 0 {
		return &ConfigurationError{Field: "context.top_k_papers", Reason: "must not be negative"}
	}

	roles := []struct {
		name string
		cfg  RoleConfig
	}{
		{"generator", c.Roles.Generator},
		{"critic", c.Roles.Critic},
		{"refiner", c.Roles.Refiner},
	}
	for _, r := range roles {
		if !validProviders[r.cfg.Provider] {
			return &ConfigurationError{
				Field:  "roles." + r.name + ".provider",
				Reason: fmt.Sprintf("unsupported provider %q", r.cfg.Provider),
			}
		}
		if r.cfg.Model == "" {
			return &ConfigurationError{Field: "roles." + r.name + ".model", Reason: "must not be empty"}
		}
		if r.cfg.Temperature < 0 || r.cfg.Temperature > 2 {
			return &ConfigurationError{
				Field:  "roles." + r.name + ".temperature",
				Reason: fmt.Sprintf("must be in [0,2], got %g", r.cfg.Temperature),
			}
		}
		if r.cfg.Provider == ProviderClaude && c.Backend.AnthropicAPIKey == "" {
			return &ConfigurationError{Field: "backend.anthropic_api_key", Reason: "required when a role uses the claude provider"}
		}
	}

	return nil
}
