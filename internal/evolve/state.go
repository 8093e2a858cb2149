// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evolve drives research ideas through Generator, Critic, and
// Refiner passes until each reaches a terminal state. Every idea owns its
// own history; the loop controller never shares mutable state between
// ideas.
package evolve

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pdiddy/idea-engine/pkg/types"
)

// newIdea creates an idea from an initial Generator draft. The idea starts
// with one draft record, iteration count zero, and a fresh stable ID.
func newIdea(content types.IdeaContent) *types.Idea {
	return &types.Idea{
		ID:     uuid.NewString(),
		Status: types.StatusDraft,
		History: []types.IterationRecord{
			{Index: 0, Kind: types.KindDraft, Content: content},
		},
	}
}

// attachEvaluation records the Critic's scoring on the latest iteration
// record. The record must not have been critiqued already and the idea must
// not be terminal; both would mean the controller lost track of the
// lifecycle.
func attachEvaluation(idea *types.Idea, eval *types.Evaluation) error {
	if idea.Status.Terminal() {
		return fmt.Errorf("idea %s: cannot critique a terminal idea", idea.ID)
	}
	rec := idea.Latest()
	if rec == nil {
		return fmt.Errorf("idea %s: no draft to critique", idea.ID)
	}
	if rec.Evaluation != nil {
		return fmt.Errorf("idea %s: iteration %d already critiqued", idea.ID, rec.Index)
	}
	rec.Evaluation = eval
	idea.Status = types.StatusCritiqued
	return nil
}

// appendRefinement appends the Refiner's revision as a new record and
// advances the iteration count. The previous record must carry a critique;
// a refinement without one has nothing to respond to.
func appendRefinement(idea *types.Idea, content types.IdeaContent, details *types.RefinementDetails) error {
	if idea.Status.Terminal() {
		return fmt.Errorf("idea %s: cannot refine a terminal idea", idea.ID)
	}
	rec := idea.Latest()
	if rec == nil || rec.Evaluation == nil {
		return fmt.Errorf("idea %s: refinement requires a critiqued record", idea.ID)
	}
	idea.History = append(idea.History, types.IterationRecord{
		Index:      len(idea.History),
		Kind:       types.KindRefined,
		Content:    content,
		Refinement: details,
	})
	idea.Iterations++
	idea.Status = types.StatusRefined
	return nil
}

// decision is the outcome of applying the acceptance policy after a critique.
type decision int

const (
	decisionAccept decision = iota
	decisionReject
	decisionRefine
)

// decide applies the threshold policy to the idea's latest evaluation and
// moves the idea to its terminal state when one is reached. An average
// exactly at the drop threshold stays in the refine-eligible band.
func decide(idea *types.Idea, loop types.LoopConfig) decision {
	avg := idea.Latest().Evaluation.Average()

	switch {
	case avg >= loop.ScoreThreshold:
		idea.Status = types.StatusAccepted
		idea.Reason = types.ReasonAccepted
		return decisionAccept

	case avg < loop.DropThreshold:
		idea.Status = types.StatusRejected
		idea.Reason = types.ReasonLowScore
		return decisionReject

	case idea.Iterations < loop.MaxIterations:
		return decisionRefine

	default:
		idea.Status = types.StatusRejected
		idea.Reason = types.ReasonBudgetExhausted
		return decisionReject
	}
}

// rejectFailure terminates an idea after a failed invocation, preserving
// all history appended so far.
func rejectFailure(idea *types.Idea, err error) {
	idea.Status = types.StatusRejected
	idea.Reason = types.ReasonParseFailure
	idea.FailureDetail = err.Error()
}
