// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evolve

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/pdiddy/idea-engine/pkg/types"
)

// --- mocks ---

type stubProvider struct {
	papers []types.Paper
	err    error
}

func (s *stubProvider) Fetch(context.Context, string) ([]types.Paper, error) {
	return s.papers, s.err
}

type stubGenerator struct {
	drafts []types.IdeaContent
	err    error
	calls  int
}

func (s *stubGenerator) Drafts(_ context.Context, _ string, _ []types.Paper, _ int) ([]types.IdeaContent, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.drafts, nil
}

// scriptedCritic pops evaluations per content title. Safe for concurrent
// ideas; each title's queue is consumed in order.
type scriptedCritic struct {
	mu    sync.Mutex
	evals map[string][]*types.Evaluation
	errs  map[string]error
	calls int
}

func (s *scriptedCritic) Evaluate(_ context.Context, content types.IdeaContent) (*types.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errs[content.Title]; ok {
		return nil, err
	}
	queue := s.evals[content.Title]
	if len(queue) == 0 {
		return nil, fmt.Errorf("scriptedCritic: no evaluation for %q", content.Title)
	}
	eval := queue[0]
	s.evals[content.Title] = queue[1:]
	return eval, nil
}

// suffixRefiner appends a version marker to the title so the critic can
// script a different evaluation for the revised content.
type suffixRefiner struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *suffixRefiner) Refine(_ context.Context, content types.IdeaContent, eval types.Evaluation) (types.IdeaContent, *types.RefinementDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return types.IdeaContent{}, nil, s.err
	}
	revised := content
	revised.Title = content.Title + " v2"
	details := &types.RefinementDetails{
		OriginalTitle: content.Title,
		CritiqueScore: eval.Average(),
	}
	return revised, details, nil
}

// ev builds an evaluation with the given sub-scores and a non-empty critique.
func ev(n, f, s, i int) *types.Evaluation {
	return &types.Evaluation{Novelty: n, Feasibility: f, Specificity: s, Impact: i, Critique: "needs work"}
}

func testLoop() types.LoopConfig {
	return types.LoopConfig{MaxIterations: 2, NumIdeas: 3, ScoreThreshold: 3.0, DropThreshold: 2.0}
}

func testConfig() types.PipelineConfig {
	role := types.RoleConfig{Provider: types.ProviderOllama, Model: "m", Temperature: 0.7}
	return types.PipelineConfig{
		Loop:  testLoop(),
		Roles: types.RolesConfig{Generator: role, Critic: role, Refiner: role},
	}
}

func newTestEngine(t *testing.T, gen Generator, critic Critic, refiner Refiner) *Engine {
	t.Helper()
	e, err := New(testConfig(), gen, critic, refiner, &stubProvider{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

// checkInvariants verifies the structural properties every idea must hold:
// history length tracks the iteration count, and every refined record
// follows a critiqued one.
func checkInvariants(t *testing.T, idea types.Idea) {
	t.Helper()
	if len(idea.History) != idea.Iterations+1 {
		t.Errorf("idea %s: history length %d != iterations+1 (%d)", idea.ID, len(idea.History), idea.Iterations+1)
	}
	for i, rec := range idea.History {
		if rec.Index != i {
			t.Errorf("idea %s: record %d has index %d", idea.ID, i, rec.Index)
		}
		if rec.Kind == types.KindRefined {
			if i == 0 {
				t.Errorf("idea %s: refined record at index 0", idea.ID)
				continue
			}
			prev := idea.History[i-1]
			if prev.Evaluation == nil || prev.Evaluation.Critique == "" {
				t.Errorf("idea %s: refined record %d not preceded by a critique", idea.ID, i)
			}
		}
	}
}

// --- acceptance policy scenarios ---

func TestRun_AcceptFirstCritique(t *testing.T) {
	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "A", Methodology: "M"}}}
	critic := &scriptedCritic{evals: map[string][]*types.Evaluation{
		"A": {ev(3, 3, 3, 3)}, // avg 3.0, exactly at the threshold
	}}
	refiner := &suffixRefiner{}

	result, err := newTestEngine(t, gen, critic, refiner).Run(context.Background(), "kw", io.Discard)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	idea := result.Ideas[0]
	if idea.Status != types.StatusAccepted || idea.Reason != types.ReasonAccepted {
		t.Errorf("status=%s reason=%s", idea.Status, idea.Reason)
	}
	if critic.calls != 1 {
		t.Errorf("critic calls = %d, want exactly 1", critic.calls)
	}
	if refiner.calls != 0 {
		t.Errorf("refiner calls = %d, want 0", refiner.calls)
	}
	checkInvariants(t, idea)
}

func TestRun_RefineThenAccept(t *testing.T) {
	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "C", Methodology: "M"}}}
	critic := &scriptedCritic{evals: map[string][]*types.Evaluation{
		"C":    {ev(2, 3, 2, 3)}, // avg 2.5: refine-eligible
		"C v2": {ev(3, 3, 3, 4)}, // avg 3.25: accepted
	}}
	refiner := &suffixRefiner{}

	result, err := newTestEngine(t, gen, critic, refiner).Run(context.Background(), "kw", io.Discard)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	idea := result.Ideas[0]
	if idea.Status != types.StatusAccepted {
		t.Fatalf("status = %s, want accepted", idea.Status)
	}
	if critic.calls != 2 || refiner.calls != 1 {
		t.Errorf("calls: critic=%d refiner=%d, want 2 and 1", critic.calls, refiner.calls)
	}
	if idea.Iterations != 1 || len(idea.History) != 2 {
		t.Errorf("iterations=%d history=%d", idea.Iterations, len(idea.History))
	}
	if idea.History[1].Kind != types.KindRefined {
		t.Errorf("history[1].Kind = %s", idea.History[1].Kind)
	}
	if idea.History[1].Refinement == nil || idea.History[1].Refinement.OriginalTitle != "C" {
		t.Errorf("refinement details = %+v", idea.History[1].Refinement)
	}
	checkInvariants(t, idea)
}

func TestRun_RejectLowScore(t *testing.T) {
	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "B", Methodology: "M"}}}
	critic := &scriptedCritic{evals: map[string][]*types.Evaluation{
		"B": {ev(1, 2, 1, 2)}, // avg 1.5
	}}

	result, err := newTestEngine(t, gen, critic, &suffixRefiner{}).Run(context.Background(), "kw", io.Discard)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	idea := result.Ideas[0]
	if idea.Status != types.StatusRejected || idea.Reason != types.ReasonLowScore {
		t.Errorf("status=%s reason=%s", idea.Status, idea.Reason)
	}
	if critic.calls != 1 {
		t.Errorf("critic calls = %d, want 1", critic.calls)
	}
	checkInvariants(t, idea)
}

func TestRun_BudgetExhausted(t *testing.T) {
	// Always mid-band: the idea refines until the budget runs out.
	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "D", Methodology: "M"}}}
	critic := &scriptedCritic{evals: map[string][]*types.Evaluation{
		"D":       {ev(2, 3, 2, 3)},
		"D v2":    {ev(2, 3, 2, 3)},
		"D v2 v2": {ev(2, 3, 2, 3)},
	}}
	refiner := &suffixRefiner{}

	result, err := newTestEngine(t, gen, critic, refiner).Run(context.Background(), "kw", io.Discard)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	idea := result.Ideas[0]
	if idea.Status != types.StatusRejected || idea.Reason != types.ReasonBudgetExhausted {
		t.Errorf("status=%s reason=%s", idea.Status, idea.Reason)
	}
	// max_iterations+1 critiques bound termination: 3 critiques, 2 refines.
	if critic.calls != 3 || refiner.calls != 2 {
		t.Errorf("calls: critic=%d refiner=%d, want 3 and 2", critic.calls, refiner.calls)
	}
	if idea.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", idea.Iterations)
	}
	checkInvariants(t, idea)
}

func TestRun_DropThresholdInclusive(t *testing.T) {
	// Average exactly at drop_threshold stays refine-eligible.
	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "E", Methodology: "M"}}}
	critic := &scriptedCritic{evals: map[string][]*types.Evaluation{
		"E":    {ev(2, 2, 2, 2)}, // avg 2.0 == drop_threshold
		"E v2": {ev(4, 3, 3, 3)}, // avg 3.25
	}}
	refiner := &suffixRefiner{}

	result, err := newTestEngine(t, gen, critic, refiner).Run(context.Background(), "kw", io.Discard)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	idea := result.Ideas[0]
	if idea.Status != types.StatusAccepted {
		t.Errorf("status = %s, want accepted after refinement", idea.Status)
	}
	if refiner.calls != 1 {
		t.Errorf("refiner calls = %d, want 1", refiner.calls)
	}
}

// --- failure isolation ---

func TestRun_CriticFailureTerminatesOnlyThatIdea(t *testing.T) {
	gen := &stubGenerator{drafts: []types.IdeaContent{
		{Title: "good", Methodology: "M"},
		{Title: "bad", Methodology: "M"},
	}}
	critic := &scriptedCritic{
		evals: map[string][]*types.Evaluation{"good": {ev(4, 4, 4, 4)}},
		errs:  map[string]error{"bad": fmt.Errorf("model emitted nothing parseable")},
	}

	result, err := newTestEngine(t, gen, critic, &suffixRefiner{}).Run(context.Background(), "kw", io.Discard)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	byTitle := map[string]types.Idea{}
	for _, idea := range result.Ideas {
		byTitle[idea.History[0].Content.Title] = idea
	}

	if got := byTitle["good"]; got.Status != types.StatusAccepted {
		t.Errorf("good idea status = %s, want accepted", got.Status)
	}
	bad := byTitle["bad"]
	if bad.Status != types.StatusRejected || bad.Reason != types.ReasonParseFailure {
		t.Errorf("bad idea status=%s reason=%s", bad.Status, bad.Reason)
	}
	if bad.FailureDetail == "" {
		t.Errorf("bad idea should carry the failure detail")
	}
	// The draft history survives the failure.
	if len(bad.History) != 1 {
		t.Errorf("bad idea history = %d records", len(bad.History))
	}
	checkInvariants(t, bad)
}

func TestRun_RefinerFailurePreservesHistory(t *testing.T) {
	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "F", Methodology: "M"}}}
	critic := &scriptedCritic{evals: map[string][]*types.Evaluation{
		"F": {ev(2, 3, 2, 3)},
	}}
	refiner := &suffixRefiner{err: fmt.Errorf("refiner returned prose")}

	result, err := newTestEngine(t, gen, critic, refiner).Run(context.Background(), "kw", io.Discard)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	idea := result.Ideas[0]
	if idea.Status != types.StatusRejected || idea.Reason != types.ReasonParseFailure {
		t.Errorf("status=%s reason=%s", idea.Status, idea.Reason)
	}
	// The critiqued draft record is intact; no partial refined record exists.
	if len(idea.History) != 1 || idea.History[0].Evaluation == nil {
		t.Errorf("history corrupted: %+v", idea.History)
	}
	checkInvariants(t, idea)
}

func TestRun_GeneratorFailure(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("backend unreachable")}
	_, err := newTestEngine(t, gen, &scriptedCritic{}, &suffixRefiner{}).Run(context.Background(), "kw", io.Discard)
	if err == nil {
		t.Fatal("want error when no drafts can be generated")
	}
}

func TestRun_ContextProviderFailureIsNotFatal(t *testing.T) {
	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "A", Methodology: "M"}}}
	critic := &scriptedCritic{evals: map[string][]*types.Evaluation{"A": {ev(4, 4, 4, 4)}}}

	e, err := New(testConfig(), gen, critic, &suffixRefiner{}, &stubProvider{err: fmt.Errorf("openalex down")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var log strings.Builder
	result, err := e.Run(context.Background(), "kw", &log)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Ideas) != 1 {
		t.Fatalf("got %d ideas", len(result.Ideas))
	}
	if !strings.Contains(log.String(), "context retrieval failed") {
		t.Errorf("log should warn about the provider failure")
	}
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gen := &stubGenerator{drafts: []types.IdeaContent{{Title: "A", Methodology: "M"}}}
	critic := &cancellingCritic{cancel: cancel}

	result, err := newTestEngine(t, gen, critic, &suffixRefiner{}).Run(ctx, "kw", io.Discard)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatal("want the partial result alongside the cancellation error")
	}
	if len(result.Ideas) != 1 {
		t.Fatalf("got %d ideas, want 1", len(result.Ideas))
	}

	// The interrupted idea keeps its draft record and is not marked as a
	// parse failure.
	idea := result.Ideas[0]
	if idea.Status != types.StatusDraft {
		t.Errorf("status = %q, want %q", idea.Status, types.StatusDraft)
	}
	if len(idea.History) != 1 || idea.History[0].Kind != types.KindDraft {
		t.Errorf("history = %+v, want the single draft record", idea.History)
	}
}

// cancellingCritic cancels the run mid-invocation, simulating an abandoned
// in-flight backend call.
type cancellingCritic struct {
	cancel context.CancelFunc
}

func (c *cancellingCritic) Evaluate(ctx context.Context, _ types.IdeaContent) (*types.Evaluation, error) {
	c.cancel()
	return nil, ctx.Err()
}

// --- config validation ---

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.PipelineConfig)
	}{
		{"thresholds inverted", func(c *types.PipelineConfig) { c.Loop.DropThreshold = 4.0 }},
		{"thresholds equal", func(c *types.PipelineConfig) { c.Loop.DropThreshold = c.Loop.ScoreThreshold }},
		{"zero iterations", func(c *types.PipelineConfig) { c.Loop.MaxIterations = 0 }},
		{"zero ideas", func(c *types.PipelineConfig) { c.Loop.NumIdeas = 0 }},
		{"bad provider", func(c *types.PipelineConfig) { c.Roles.Critic.Provider = "telepathy" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, &stubGenerator{}, &scriptedCritic{}, &suffixRefiner{}, &stubProvider{})
			if err == nil {
				t.Fatal("want configuration error")
			}
		})
	}
}

// --- state machine units ---

func TestAttachEvaluation_DoubleCritique(t *testing.T) {
	idea := newIdea(types.IdeaContent{Title: "T"})
	if err := attachEvaluation(idea, ev(3, 3, 3, 3)); err != nil {
		t.Fatalf("first critique failed: %v", err)
	}
	if err := attachEvaluation(idea, ev(3, 3, 3, 3)); err == nil {
		t.Fatal("second critique of the same record must fail")
	}
}

func TestAppendRefinement_RequiresCritique(t *testing.T) {
	idea := newIdea(types.IdeaContent{Title: "T"})
	err := appendRefinement(idea, types.IdeaContent{Title: "T2"}, nil)
	if err == nil {
		t.Fatal("refinement without critique must fail")
	}
}

func TestDecide_BudgetExhaustedWithoutRefineAttempt(t *testing.T) {
	// An idea already at the iteration ceiling is rejected, not refined.
	idea := newIdea(types.IdeaContent{Title: "T"})
	idea.Iterations = 2
	idea.History = append(idea.History,
		types.IterationRecord{Index: 1, Kind: types.KindRefined, Content: types.IdeaContent{Title: "T2"}},
		types.IterationRecord{Index: 2, Kind: types.KindRefined, Content: types.IdeaContent{Title: "T3"}},
	)
	if err := attachEvaluation(idea, ev(2, 3, 2, 3)); err != nil {
		t.Fatal(err)
	}

	if got := decide(idea, testLoop()); got != decisionReject {
		t.Fatalf("decision = %v, want reject", got)
	}
	if idea.Reason != types.ReasonBudgetExhausted {
		t.Errorf("reason = %s", idea.Reason)
	}
}

func TestNewIdea_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		idea := newIdea(types.IdeaContent{})
		if seen[idea.ID] {
			t.Fatalf("duplicate idea ID %s", idea.ID)
		}
		seen[idea.ID] = true
	}
}
