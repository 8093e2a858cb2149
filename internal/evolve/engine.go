// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evolve

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pdiddy/idea-engine/pkg/types"
)

// Generator produces the initial idea drafts. One invocation yields all
// drafts for the run. Implemented by agent.Generator; tests supply a mock.
type Generator interface {
	Drafts(ctx context.Context, keyword string, papers []types.Paper, n int) ([]types.IdeaContent, error)
}

// Critic scores one idea's current content.
type Critic interface {
	Evaluate(ctx context.Context, content types.IdeaContent) (*types.Evaluation, error)
}

// Refiner revises an idea's content to address its latest critique.
type Refiner interface {
	Refine(ctx context.Context, content types.IdeaContent, eval types.Evaluation) (types.IdeaContent, *types.RefinementDetails, error)
}

// ContextProvider fetches the ranked literature context for a keyword.
// Implemented by papers.OpenAlex.
type ContextProvider interface {
	Fetch(ctx context.Context, keyword string) ([]types.Paper, error)
}

// Engine is the evolution loop controller. It owns the iteration budget and
// the two thresholds; role invokers and the context provider are injected.
type Engine struct {
	generator Generator
	critic    Critic
	refiner   Refiner
	provider  ContextProvider
	loop      types.LoopConfig
}

// New validates the configuration and constructs the controller. Invalid
// thresholds or role settings fail here, before any backend call.
func New(cfg types.PipelineConfig, gen Generator, critic Critic, refiner Refiner, provider ContextProvider) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		generator: gen,
		critic:    critic,
		refiner:   refiner,
		provider:  provider,
		loop:      cfg.Loop,
	}, nil
}

// Run drives a full evolution for the keyword: fetch literature context,
// generate drafts, and evolve every idea independently to a terminal state.
// Progress is logged to w.
//
// Ideas are processed concurrently; each goroutine owns exactly one idea
// and the backend HTTP client is the only shared resource. A cancelled
// context abandons in-flight role calls and returns the partial RunResult
// alongside ctx.Err(); partially evolved ideas keep whatever complete
// records they had.
func (e *Engine) Run(ctx context.Context, keyword string, w io.Writer) (*types.RunResult, error) {
	result := &types.RunResult{
		Keyword:   keyword,
		StartedAt: time.Now().UTC(),
	}

	fmt.Fprintf(w, "fetching context for %q\n", keyword)
	ranked, err := e.provider.Fetch(ctx, keyword)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The engine can still generate from the keyword alone.
		fmt.Fprintf(w, "warning: context retrieval failed: %v\n", err)
	}
	result.Papers = ranked
	fmt.Fprintf(w, "context: %d papers\n", len(ranked))

	drafts, err := e.generator.Drafts(ctx, keyword, ranked, e.loop.NumIdeas)
	if err != nil {
		// No idea exists yet, so there is nothing to terminate
		// idea-locally; the run has nothing to evolve.
		return nil, fmt.Errorf("generating drafts: %w", err)
	}
	fmt.Fprintf(w, "generated %d drafts\n", len(drafts))

	ideas := make([]*types.Idea, len(drafts))
	for i, d := range drafts {
		ideas[i] = newIdea(d)
	}

	var wg sync.WaitGroup
	for _, idea := range ideas {
		wg.Add(1)
		go func(idea *types.Idea) {
			defer wg.Done()
			e.evolveIdea(ctx, idea, w)
		}(idea)
	}
	wg.Wait()

	result.Ideas = make([]types.Idea, len(ideas))
	for i, idea := range ideas {
		result.Ideas[i] = *idea
	}
	result.FinishedAt = time.Now().UTC()

	if ctx.Err() != nil {
		// Ideas that reached a terminal state before the cancellation
		// keep their full histories; callers get both.
		return result, ctx.Err()
	}

	fmt.Fprintf(w, "run complete: %d accepted, %d rejected\n",
		len(result.Accepted()), len(result.Ideas)-len(result.Accepted()))
	return result, nil
}

// evolveIdea runs one idea's Critic/(Refiner→Critic)* loop to a terminal
// state. Failures terminate only this idea; a cancelled context leaves the
// idea as-is without appending partial records.
func (e *Engine) evolveIdea(ctx context.Context, idea *types.Idea, w io.Writer) {
	for {
		eval, err := e.critic.Evaluate(ctx, idea.LatestContent())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(w, "idea %s: critic failed: %v\n", shortID(idea.ID), err)
			rejectFailure(idea, err)
			return
		}
		if err := attachEvaluation(idea, eval); err != nil {
			rejectFailure(idea, err)
			return
		}

		avg := eval.Average()
		switch decide(idea, e.loop) {
		case decisionAccept:
			fmt.Fprintf(w, "idea %s: score %.2f -> accepted\n", shortID(idea.ID), avg)
			return

		case decisionReject:
			fmt.Fprintf(w, "idea %s: score %.2f -> rejected (%s)\n", shortID(idea.ID), avg, idea.Reason)
			return

		case decisionRefine:
			fmt.Fprintf(w, "idea %s: score %.2f -> refining (iteration %d/%d)\n",
				shortID(idea.ID), avg, idea.Iterations+1, e.loop.MaxIterations)

			revised, details, err := e.refiner.Refine(ctx, idea.LatestContent(), *eval)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fmt.Fprintf(w, "idea %s: refiner failed: %v\n", shortID(idea.ID), err)
				rejectFailure(idea, err)
				return
			}
			if err := appendRefinement(idea, revised, details); err != nil {
				rejectFailure(idea, err)
				return
			}
		}
	}
}

// shortID truncates a UUID for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
