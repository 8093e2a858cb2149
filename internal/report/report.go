// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report renders run results as Markdown and writes the structured
// JSON dump alongside it.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/idea-engine/pkg/types"
)

const timestampLayout = "20060102_150405"

// Markdown renders the final report: run summary, every accepted idea with
// its full evolution history (per-iteration content, score tables, refiner
// thoughts), and a closing summary of rejections.
func Markdown(result *types.RunResult) string {
	var b strings.Builder
	accepted := result.Accepted()

	b.WriteString("# Research Idea Report\n\n")
	fmt.Fprintf(&b, "**Keyword:** %s\n", result.Keyword)
	fmt.Fprintf(&b, "**Generated:** %s\n", result.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Accepted Ideas:** %d of %d\n\n", len(accepted), len(result.Ideas))
	b.WriteString("---\n\n")

	for i, idea := range accepted {
		writeIdea(&b, i+1, idea)
	}

	writeRejections(&b, result)
	return b.String()
}

func writeIdea(b *strings.Builder, n int, idea types.Idea) {
	fmt.Fprintf(b, "## Idea %d: %s\n\n", n, idea.LatestContent().Title)
	fmt.Fprintf(b, "**Status:** `%s`\n", idea.Status)
	fmt.Fprintf(b, "**Iterations:** %d\n\n", idea.Iterations)

	b.WriteString("### Evolution History\n\n")
	for _, rec := range idea.History {
		fmt.Fprintf(b, "#### Iteration %d — %s\n\n", rec.Index, strings.ToUpper(string(rec.Kind)))
		fmt.Fprintf(b, "**Title:** %s\n\n", rec.Content.Title)
		b.WriteString("**Methodology:**\n\n")
		b.WriteString(orFallback(rec.Content.Methodology, "Not provided"))
		b.WriteString("\n\n")

		if rec.Content.Rationale != "" {
			b.WriteString("**Rationale:**\n\n")
			b.WriteString(rec.Content.Rationale)
			b.WriteString("\n\n")
		}

		if rec.Refinement != nil {
			writeRefinement(b, rec.Refinement)
		}

		if rec.Evaluation != nil {
			writeEvaluation(b, rec.Evaluation)
		}

		b.WriteString("---\n\n")
	}
}

func writeEvaluation(b *strings.Builder, eval *types.Evaluation) {
	b.WriteString("##### Critic Evaluation\n\n")
	b.WriteString("| Criterion | Score |\n")
	b.WriteString("|---|---|\n")
	fmt.Fprintf(b, "| Novelty | %d/5 |\n", eval.Novelty)
	fmt.Fprintf(b, "| Feasibility | %d/5 |\n", eval.Feasibility)
	fmt.Fprintf(b, "| Specificity | %d/5 |\n", eval.Specificity)
	fmt.Fprintf(b, "| Impact | %d/5 |\n", eval.Impact)
	fmt.Fprintf(b, "| **Average** | **%.2f** |\n\n", eval.Average())

	b.WriteString("**Critic Feedback:**\n\n")
	b.WriteString(orFallback(eval.Critique, "No feedback provided"))
	b.WriteString("\n\n")
}

func writeRefinement(b *strings.Builder, details *types.RefinementDetails) {
	b.WriteString("##### Refiner Changes\n\n")
	fmt.Fprintf(b, "**Previous Score:** %.2f/5\n\n", details.CritiqueScore)
	if details.Reasoning != "" {
		b.WriteString("**Reasoning:**\n\n")
		b.WriteString(details.Reasoning)
		b.WriteString("\n\n")
	}
	if details.ChangesSummary != "" {
		b.WriteString("**Changes:**\n\n")
		b.WriteString(details.ChangesSummary)
		b.WriteString("\n\n")
	}
}

func writeRejections(b *strings.Builder, result *types.RunResult) {
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(b, "| Outcome | Count |\n|---|---|\n")
	fmt.Fprintf(b, "| %s | %d |\n", types.ReasonAccepted, result.CountByReason(types.ReasonAccepted))
	fmt.Fprintf(b, "| %s | %d |\n", types.ReasonLowScore, result.CountByReason(types.ReasonLowScore))
	fmt.Fprintf(b, "| %s | %d |\n", types.ReasonBudgetExhausted, result.CountByReason(types.ReasonBudgetExhausted))
	fmt.Fprintf(b, "| %s | %d |\n\n", types.ReasonParseFailure, result.CountByReason(types.ReasonParseFailure))

	for _, idea := range result.Ideas {
		if idea.Status != types.StatusRejected {
			continue
		}
		fmt.Fprintf(b, "- `%s` **%s** (%s)", idea.ID, idea.LatestContent().Title, idea.Reason)
		if idea.FailureDetail != "" {
			fmt.Fprintf(b, ": %s", idea.FailureDetail)
		}
		b.WriteString("\n")
	}
}

func orFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Write persists the Markdown report and the JSON dump of the full run to
// dir, creating it if needed. Filenames carry the run's finish timestamp so
// repeated runs never collide. Returns the two paths.
func Write(result *types.RunResult, dir string) (mdPath, jsonPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating results directory: %w", err)
	}

	stamp := result.FinishedAt.Format(timestampLayout)
	if result.FinishedAt.IsZero() {
		stamp = time.Now().Format(timestampLayout)
	}

	mdPath = filepath.Join(dir, fmt.Sprintf("idea_report_%s.md", stamp))
	if err := os.WriteFile(mdPath, []byte(Markdown(result)), 0o644); err != nil {
		return "", "", fmt.Errorf("writing report: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshaling run result: %w", err)
	}
	jsonPath = filepath.Join(dir, fmt.Sprintf("run_%s.json", stamp))
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing run dump: %w", err)
	}
	return mdPath, jsonPath, nil
}
