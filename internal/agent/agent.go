// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agent implements the three role invokers of the evolution loop:
// Generator, Critic, and Refiner. Each invoker builds a role-specific
// prompt, calls the text-generation backend, and converts the raw response
// into a structured result or a typed InvocationFailure. The loop
// controller decides what a failure means for the affected idea; invokers
// never substitute defaults.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/pdiddy/idea-engine/internal/backend"
	"github.com/pdiddy/idea-engine/pkg/types"
)

// Role identifies one of the three invokers.
type Role string

const (
	RoleGenerator Role = "generator"
	RoleCritic    Role = "critic"
	RoleRefiner   Role = "refiner"
)

// InvocationFailure reports that a role invocation produced no usable
// structured output: the backend was unreachable, returned empty text, or
// the response defeated every parse fallback. Raw carries the offending
// response text when one was received.
type InvocationFailure struct {
	Role Role
	Raw  string
	Err  error
}

func (e *InvocationFailure) Error() string {
	return fmt.Sprintf("invoking %s: %v", e.Role, e.Err)
}

func (e *InvocationFailure) Unwrap() error { return e.Err }

// invoker holds what every role needs: a backend handle, the sampling
// temperature, and an optional system prompt.
type invoker struct {
	role        Role
	backend     backend.Backend
	temperature float64
	system      string
}

// newInvoker builds the shared invoker state for one role. A configured but
// unreadable system prompt file is a configuration error and aborts before
// any backend call.
func newInvoker(role Role, cfg types.RoleConfig, bcfg types.BackendConfig, client *http.Client) (invoker, error) {
	b, err := backend.New(cfg, bcfg, client)
	if err != nil {
		return invoker{}, err
	}

	system := ""
	if cfg.SystemPromptPath != "" {
		data, err := os.ReadFile(cfg.SystemPromptPath)
		if err != nil {
			return invoker{}, &types.ConfigurationError{
				Field:  "roles." + string(role) + ".system_prompt_path",
				Reason: fmt.Sprintf("reading prompt file: %v", err),
			}
		}
		system = strings.TrimSpace(string(data))
	}

	return invoker{role: role, backend: b, temperature: cfg.Temperature, system: system}, nil
}

// invoke calls the backend and normalizes transport-level problems into
// InvocationFailures.
func (v invoker) invoke(ctx context.Context, prompt string) (string, error) {
	raw, err := v.backend.Invoke(ctx, v.system, prompt, v.temperature)
	if err != nil {
		return "", &InvocationFailure{Role: v.role, Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return "", &InvocationFailure{Role: v.role, Err: fmt.Errorf("backend returned empty text")}
	}
	return raw, nil
}

// unload releases the role's model if the backend supports it. Errors are
// returned for logging only; unload failures never affect run results.
func (v invoker) unload(ctx context.Context) error {
	if u, ok := v.backend.(interface{ Unload(context.Context) error }); ok {
		return u.Unload(ctx)
	}
	return nil
}

// Roles bundles the three configured invokers for a run.
type Roles struct {
	Generator *Generator
	Critic    *Critic
	Refiner   *Refiner
}

// NewRoles constructs all three invokers from the pipeline configuration,
// sharing one HTTP client so concurrent ideas reuse connections.
func NewRoles(cfg types.PipelineConfig, client *http.Client) (*Roles, error) {
	gen, err := NewGenerator(cfg.Roles.Generator, cfg.Backend, client)
	if err != nil {
		return nil, err
	}
	critic, err := NewCritic(cfg.Roles.Critic, cfg.Backend, client)
	if err != nil {
		return nil, err
	}
	refiner, err := NewRefiner(cfg.Roles.Refiner, cfg.Backend, client)
	if err != nil {
		return nil, err
	}
	return &Roles{Generator: gen, Critic: critic, Refiner: refiner}, nil
}

// Unload releases every role's model, best effort.
func (r *Roles) Unload(ctx context.Context) {
	r.Generator.inv.unload(ctx)
	r.Critic.inv.unload(ctx)
	r.Refiner.inv.unload(ctx)
}
