// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pdiddy/idea-engine/internal/parse"
	"github.com/pdiddy/idea-engine/pkg/types"
)

// scriptedBackend returns canned responses in order and records prompts.
type scriptedBackend struct {
	responses []string
	err       error
	calls     int

	lastSystem string
	lastPrompt string
}

func (s *scriptedBackend) Invoke(_ context.Context, system, prompt string, _ float64) (string, error) {
	s.calls++
	s.lastSystem = system
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("scriptedBackend: no responses left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func testInvoker(role Role, b *scriptedBackend) invoker {
	return invoker{role: role, backend: b, temperature: 0.7}
}

var testPapers = []types.Paper{
	{Title: "Agents that argue", Abstract: "Debate improves reasoning.", Year: 2026, CitedByCount: 12, Authors: []string{"A. One", "B. Two"}},
	{Title: "Self-critique loops", Abstract: "Critique reduces hallucination.", Year: 2025, CitedByCount: 40},
}

func TestGeneratorDrafts(t *testing.T) {
	response := `<think>weighing gaps in the literature</think>
` + "```json" + `
{"topics": [
  {"title": "Idea A", "methodology": "Method A", "background": "BG", "necessity": "NEC"},
  {"title": "Idea B", "methodology": "Method B", "rationale": "plain rationale"}
]}
` + "```"

	b := &scriptedBackend{responses: []string{response}}
	g := &Generator{inv: testInvoker(RoleGenerator, b)}

	drafts, err := g.Drafts(context.Background(), "multi-agent reasoning", testPapers, 2)
	if err != nil {
		t.Fatalf("Drafts failed: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if drafts[0].Title != "Idea A" || drafts[0].Methodology != "Method A" {
		t.Errorf("draft[0] = %+v", drafts[0])
	}
	if !strings.Contains(drafts[0].Rationale, "**Background:** BG") ||
		!strings.Contains(drafts[0].Rationale, "**Necessity:** NEC") {
		t.Errorf("composed rationale = %q", drafts[0].Rationale)
	}
	if drafts[1].Rationale != "plain rationale" {
		t.Errorf("fallback rationale = %q", drafts[1].Rationale)
	}

	// One backend call produces all drafts, grounded in the paper context.
	if b.calls != 1 {
		t.Errorf("backend calls = %d, want 1", b.calls)
	}
	if !strings.Contains(b.lastPrompt, "Agents that argue") {
		t.Errorf("prompt is missing paper context")
	}
	if !strings.Contains(b.lastPrompt, `"multi-agent reasoning"`) {
		t.Errorf("prompt is missing the keyword")
	}
}

func TestGeneratorDrafts_ParseFailure(t *testing.T) {
	b := &scriptedBackend{responses: []string{"I cannot produce ideas today."}}
	g := &Generator{inv: testInvoker(RoleGenerator, b)}

	_, err := g.Drafts(context.Background(), "kw", nil, 3)
	var failure *InvocationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("want InvocationFailure, got %v", err)
	}
	if failure.Role != RoleGenerator {
		t.Errorf("failure role = %s", failure.Role)
	}
	if failure.Raw == "" {
		t.Errorf("failure should carry the raw response")
	}
}

func TestGeneratorDrafts_DraftMissingField(t *testing.T) {
	b := &scriptedBackend{responses: []string{`{"topics": [{"title": "only a title"}]}`}}
	g := &Generator{inv: testInvoker(RoleGenerator, b)}

	_, err := g.Drafts(context.Background(), "kw", nil, 1)
	var failure *InvocationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("want InvocationFailure, got %v", err)
	}
	var missing *parse.MissingFieldError
	if !errors.As(err, &missing) || missing.Field != "methodology" {
		t.Errorf("want wrapped MissingFieldError(methodology), got %v", err)
	}
}

func TestCriticEvaluate(t *testing.T) {
	response := `{
  "novelty": 4, "novelty_reasoning": "fresh angle",
  "feasibility": 3, "feasibility_reasoning": "needs compute",
  "specificity": 2, "specificity_reasoning": "vague datasets",
  "impact": 5, "impact_reasoning": "large field",
  "critique": "Promising but underspecified."
}`
	b := &scriptedBackend{responses: []string{response}}
	c := &Critic{inv: testInvoker(RoleCritic, b)}

	eval, err := c.Evaluate(context.Background(), types.IdeaContent{Title: "T", Methodology: "M", Rationale: "R"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if eval.Novelty != 4 || eval.Feasibility != 3 || eval.Specificity != 2 || eval.Impact != 5 {
		t.Errorf("scores = %+v", eval)
	}
	if got, want := eval.Average(), 3.5; got != want {
		t.Errorf("average = %v, want %v", got, want)
	}
	if !strings.Contains(eval.Critique, "Promising but underspecified.") {
		t.Errorf("critique missing overall feedback: %q", eval.Critique)
	}
	if !strings.Contains(eval.Critique, "**Specificity (2/5):** vague datasets") {
		t.Errorf("critique missing reasoning: %q", eval.Critique)
	}
}

func TestCriticEvaluate_InvalidScore(t *testing.T) {
	response := `{"novelty": 9, "feasibility": 3, "specificity": 3, "impact": 3, "critique": "c"}`
	b := &scriptedBackend{responses: []string{response}}
	c := &Critic{inv: testInvoker(RoleCritic, b)}

	_, err := c.Evaluate(context.Background(), types.IdeaContent{})
	var failure *InvocationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("want InvocationFailure, got %v", err)
	}
	var invalid *parse.InvalidFieldValueError
	if !errors.As(err, &invalid) || invalid.Field != "novelty" {
		t.Errorf("want wrapped InvalidFieldValueError(novelty), got %v", err)
	}
}

func TestCriticEvaluate_EmptyBackendText(t *testing.T) {
	b := &scriptedBackend{responses: []string{"   \n"}}
	c := &Critic{inv: testInvoker(RoleCritic, b)}

	_, err := c.Evaluate(context.Background(), types.IdeaContent{})
	var failure *InvocationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("want InvocationFailure, got %v", err)
	}
}

func TestRefinerRefine(t *testing.T) {
	response := `{
  "reasoning": "swapped the vague dataset for MMLU",
  "changes_summary": "concrete benchmarks",
  "title": "Better Idea",
  "methodology": "Better Method",
  "rationale": "Better Rationale"
}`
	b := &scriptedBackend{responses: []string{response}}
	r := &Refiner{inv: testInvoker(RoleRefiner, b)}

	content := types.IdeaContent{Title: "Old", Methodology: "OldM", Rationale: "OldR"}
	eval := types.Evaluation{Novelty: 3, Feasibility: 2, Specificity: 2, Impact: 3, Critique: "too vague"}

	revised, details, err := r.Refine(context.Background(), content, eval)
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if revised.Title != "Better Idea" || revised.Methodology != "Better Method" {
		t.Errorf("revised = %+v", revised)
	}
	if details.OriginalTitle != "Old" {
		t.Errorf("details.OriginalTitle = %q", details.OriginalTitle)
	}
	if details.CritiqueScore != eval.Average() {
		t.Errorf("details.CritiqueScore = %v", details.CritiqueScore)
	}
	if !strings.Contains(b.lastPrompt, "too vague") {
		t.Errorf("prompt is missing the critique text")
	}
}

func TestRefinerRefine_RationaleFallback(t *testing.T) {
	response := `{"title": "T2", "methodology": "M2"}`
	b := &scriptedBackend{responses: []string{response}}
	r := &Refiner{inv: testInvoker(RoleRefiner, b)}

	content := types.IdeaContent{Title: "T", Methodology: "M", Rationale: "keep me"}
	revised, _, err := r.Refine(context.Background(), content, types.Evaluation{Novelty: 3, Feasibility: 3, Specificity: 3, Impact: 3})
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if revised.Rationale != "keep me" {
		t.Errorf("rationale = %q, want fallback to prior content", revised.Rationale)
	}
}

func TestNewInvoker_SystemPrompt(t *testing.T) {
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "critic.txt")
	if err := os.WriteFile(promptPath, []byte("You are a harsh reviewer.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bcfg := types.BackendConfig{OllamaBaseURL: "http://localhost:11434"}

	inv, err := newInvoker(RoleCritic, types.RoleConfig{
		Provider:         types.ProviderOllama,
		Model:            "m",
		SystemPromptPath: promptPath,
	}, bcfg, http.DefaultClient)
	if err != nil {
		t.Fatalf("newInvoker failed: %v", err)
	}
	if inv.system != "You are a harsh reviewer." {
		t.Errorf("system prompt = %q", inv.system)
	}

	_, err = newInvoker(RoleCritic, types.RoleConfig{
		Provider:         types.ProviderOllama,
		Model:            "m",
		SystemPromptPath: filepath.Join(dir, "missing.txt"),
	}, bcfg, http.DefaultClient)
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError for missing prompt file, got %v", err)
	}
	if !strings.Contains(cfgErr.Field, "critic") {
		t.Errorf("error field = %q, want the role named", cfgErr.Field)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		s    string
		n    int
		want string
	}{
		{"short untouched", "abc", 5, "abc"},
		{"ascii cut", "abcdef", 4, "abcd..."},
		{"multibyte straddles cut", "日本語", 4, "日..."},
		{"cut on boundary", "日本語", 6, "日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.s, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.s, tt.n)
			}
		})
	}
}

func TestFormatPapers_TruncatesAbstractValidUTF8(t *testing.T) {
	abstract := strings.Repeat("研", abstractLimit) // 3 bytes per rune
	out := formatPapers([]types.Paper{{Title: "T", Abstract: abstract, Year: 2026}})
	if !utf8.ValidString(out) {
		t.Fatal("prompt context contains invalid UTF-8 after truncation")
	}
	if !strings.Contains(out, "...") {
		t.Error("long abstract was not truncated")
	}
}
