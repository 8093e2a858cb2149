// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pdiddy/idea-engine/internal/httputil"
	"github.com/pdiddy/idea-engine/pkg/types"
)

// defaultOllamaURL is the standard local Ollama endpoint.
const defaultOllamaURL = "http://localhost:11434"

// OllamaBackend calls an Ollama server's generate API. The same type serves
// local and cloud deployments; cloud instances skip the explicit unload.
type OllamaBackend struct {
	BaseURL    string
	Model      string
	Client     *http.Client
	MaxRetries int
	UserAgent  string

	cloud bool
}

// ollamaRequest is the request body for POST /api/generate.
type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt,omitempty"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`

	// KeepAlive set to a pointer-to-zero forces the server to unload the
	// model, freeing RAM between role phases.
	KeepAlive *int `json:"keep_alive,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// ollamaResponse is the non-streaming response body.
type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (b *OllamaBackend) provider() types.Provider {
	if b.cloud {
		return types.ProviderOllamaCloud
	}
	return types.ProviderOllama
}

// Invoke sends the prompt to /api/generate and returns the response text.
func (b *OllamaBackend) Invoke(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	reqBody := ollamaRequest{
		Model:   b.Model,
		Prompt:  prompt,
		System:  system,
		Stream:  false,
		Options: ollamaOptions{Temperature: temperature},
	}

	var oResp ollamaResponse
	if err := b.post(ctx, reqBody, &oResp); err != nil {
		return "", err
	}
	if oResp.Response == "" {
		return "", &UnavailableError{Provider: b.provider(), Err: fmt.Errorf("empty response from model %s", b.Model)}
	}
	return oResp.Response, nil
}

// Unload asks the server to release the model immediately by sending a
// generate request with keep_alive 0. Cloud instances manage their own
// lifecycle, so this is a no-op for them.
func (b *OllamaBackend) Unload(ctx context.Context) error {
	if b.cloud {
		return nil
	}
	zero := 0
	return b.post(ctx, ollamaRequest{Model: b.Model, KeepAlive: &zero}, &ollamaResponse{})
}

// post issues the HTTP call with 429 retry and decodes the JSON response.
func (b *OllamaBackend) post(ctx context.Context, reqBody ollamaRequest, out *ollamaResponse) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/api/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, b.MaxRetries)
	if err != nil {
		return &UnavailableError{Provider: b.provider(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &UnavailableError{
			Provider: b.provider(),
			Err:      fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UnavailableError{Provider: b.provider(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
