// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// IdeaStatus tracks an idea's position in its lifecycle.
type IdeaStatus string

const (
	StatusDraft     IdeaStatus = "draft"
	StatusCritiqued IdeaStatus = "critiqued"
	StatusRefined   IdeaStatus = "refined"
	StatusAccepted  IdeaStatus = "accepted"
	StatusRejected  IdeaStatus = "rejected"
)

// Terminal reports whether the status ends an idea's evolution.
func (s IdeaStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// RecordKind distinguishes initial drafts from refined revisions.
type RecordKind string

const (
	KindDraft   RecordKind = "draft"
	KindRefined RecordKind = "refined"
)

// TerminationReason explains why an idea stopped evolving.
type TerminationReason string

const (
	ReasonAccepted        TerminationReason = "accepted"
	ReasonLowScore        TerminationReason = "rejected-low-score"
	ReasonBudgetExhausted TerminationReason = "rejected-budget-exhausted"
	ReasonParseFailure    TerminationReason = "rejected-parse-failure"
)

// IdeaContent is the substance of a research proposal at one point in its
// evolution. All fields are free-form text produced by the backend.
type IdeaContent struct {
	// Title is the proposal title.
	Title string `json:"title" yaml:"title"`

	// Methodology describes the proposed approach.
	Methodology string `json:"methodology" yaml:"methodology"`

	// Rationale motivates the proposal (background, necessity, expected effects).
	Rationale string `json:"rationale" yaml:"rationale"`
}

// Evaluation is a Critic's scoring of one iteration's content. Each sub-score
// is an integer in [1,5].
type Evaluation struct {
	Novelty     int `json:"novelty" yaml:"novelty"`
	Feasibility int `json:"feasibility" yaml:"feasibility"`
	Specificity int `json:"specificity" yaml:"specificity"`
	Impact      int `json:"impact" yaml:"impact"`

	// Critique is the free-form feedback consumed by the Refiner.
	Critique string `json:"critique" yaml:"critique"`
}

// clampScore forces a sub-score into the valid [1,5] band.
func clampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}

// Average returns the unweighted mean of the four sub-scores, each clamped
// to [1,5]. The result is not rounded.
func (e Evaluation) Average() float64 {
	sum := clampScore(e.Novelty) + clampScore(e.Feasibility) +
		clampScore(e.Specificity) + clampScore(e.Impact)
	return float64(sum) / 4.0
}

// RefinementDetails records why and how the Refiner changed an idea.
type RefinementDetails struct {
	// OriginalTitle is the title before refinement.
	OriginalTitle string `json:"original_title" yaml:"original_title"`

	// CritiqueScore is the average score that triggered the refinement.
	CritiqueScore float64 `json:"critique_score" yaml:"critique_score"`

	// Reasoning is the Refiner's account of how it addressed the critique.
	Reasoning string `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`

	// ChangesSummary summarizes what was changed.
	ChangesSummary string `json:"changes_summary,omitempty" yaml:"changes_summary,omitempty"`
}

// IterationRecord is an immutable snapshot of one Generator or Refiner pass.
// Records are appended to an idea's history and never mutated afterwards,
// except that the Evaluation and Critique are attached once by the Critic.
type IterationRecord struct {
	// Index is the sequence number within the idea's history (0 = initial draft).
	Index int `json:"index" yaml:"index"`

	// Kind is draft for Generator output and refined for Refiner output.
	Kind RecordKind `json:"kind" yaml:"kind"`

	// Content is the idea's text at this point.
	Content IdeaContent `json:"content" yaml:"content"`

	// Evaluation is nil until the Critic has scored this record.
	Evaluation *Evaluation `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`

	// Refinement is set only on refined records.
	Refinement *RefinementDetails `json:"refinement,omitempty" yaml:"refinement,omitempty"`
}

// Idea is one candidate research proposal under evolution.
type Idea struct {
	// ID is a stable identifier assigned at creation, never reused.
	ID string `json:"id" yaml:"id"`

	// Status is the idea's current lifecycle state.
	Status IdeaStatus `json:"status" yaml:"status"`

	// Iterations counts completed Generator-or-Refiner passes beyond the
	// first draft. History always holds Iterations+1 records.
	Iterations int `json:"iterations" yaml:"iterations"`

	// Reason is set once the idea reaches a terminal status.
	Reason TerminationReason `json:"reason,omitempty" yaml:"reason,omitempty"`

	// FailureDetail carries the invocation error text for
	// rejected-parse-failure terminations.
	FailureDetail string `json:"failure_detail,omitempty" yaml:"failure_detail,omitempty"`

	// History is the append-only sequence of iteration snapshots.
	History []IterationRecord `json:"history" yaml:"history"`
}

// Latest returns the most recent iteration record, or nil when the idea has
// no history yet.
func (i *Idea) Latest() *IterationRecord {
	if len(i.History) == 0 {
		return nil
	}
	return &i.History[len(i.History)-1]
}

// LatestContent returns the idea's current text.
func (i *Idea) LatestContent() IdeaContent {
	if rec := i.Latest(); rec != nil {
		return rec.Content
	}
	return IdeaContent{}
}

// LatestEvaluation returns the most recent critique, or nil when the latest
// record has not been critiqued.
func (i *Idea) LatestEvaluation() *Evaluation {
	if rec := i.Latest(); rec != nil {
		return rec.Evaluation
	}
	return nil
}

// RunResult is the terminal collection for one keyword run: every idea with
// its final status, full history, and termination reason.
type RunResult struct {
	// Keyword is the research keyword that seeded the run.
	Keyword string `json:"keyword" yaml:"keyword"`

	// StartedAt and FinishedAt bound the run wall-clock time.
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	// Papers is the ranked literature context handed to the Generator.
	Papers []Paper `json:"papers,omitempty" yaml:"papers,omitempty"`

	// Ideas holds every idea the run produced, in generation order.
	Ideas []Idea `json:"ideas" yaml:"ideas"`
}

// Accepted returns the ideas that reached the accepted status.
func (r *RunResult) Accepted() []Idea {
	var out []Idea
	for _, idea := range r.Ideas {
		if idea.Status == StatusAccepted {
			out = append(out, idea)
		}
	}
	return out
}

// CountByReason returns how many ideas terminated with the given reason.
func (r *RunResult) CountByReason(reason TerminationReason) int {
	n := 0
	for _, idea := range r.Ideas {
		if idea.Reason == reason {
			n++
		}
	}
	return n
}
