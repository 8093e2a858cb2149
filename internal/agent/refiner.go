// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"text/template"

	"github.com/pdiddy/idea-engine/internal/parse"
	"github.com/pdiddy/idea-engine/pkg/types"
)

// refinerPromptTmpl rewrites a proposal so it addresses the critique.
var refinerPromptTmpl = template.Must(template.New("refiner").Parse(`You are a Lead Research Architect. Your task is to substantially improve a research proposal based on critic feedback.

## ORIGINAL PROPOSAL
**Title:** {{.Content.Title}}
**Methodology:** {{.Content.Methodology}}
**Rationale:** {{.Content.Rationale}}

## CRITIC'S FEEDBACK (Score: {{printf "%.2f" .Score}}/5)
{{.Critique}}

## YOUR TASK
1. Carefully analyze each criticism
2. Address each weakness specifically
3. Substantially improve the proposal

Provide your response in this EXACT JSON format:
{
    "reasoning": "<your step-by-step reasoning about how to address each criticism>",
    "changes_summary": "<brief summary of the key changes you are making>",
    "title": "<improved title that addresses novelty concerns>",
    "methodology": "<detailed, specific methodology that addresses feasibility and specificity concerns>",
    "rationale": "<comprehensive rationale with concrete details>"
}

Be specific. Replace vague terms with concrete methods, models, and datasets.`))

// refinementSchema lists the Refiner's fields. The revised content is
// required; the self-report of reasoning and changes is kept when present.
var refinementSchema = []parse.Field{
	{Name: "title", Kind: parse.FieldString},
	{Name: "methodology", Kind: parse.FieldString},
	{Name: "rationale", Kind: parse.FieldString, Optional: true},
	{Name: "reasoning", Kind: parse.FieldString, Optional: true},
	{Name: "changes_summary", Kind: parse.FieldString, Optional: true},
}

// Refiner revises an idea's content to address its latest critique.
type Refiner struct {
	inv invoker
}

// NewRefiner constructs the Refiner invoker.
func NewRefiner(cfg types.RoleConfig, bcfg types.BackendConfig, client *http.Client) (*Refiner, error) {
	inv, err := newInvoker(RoleRefiner, cfg, bcfg, client)
	if err != nil {
		return nil, err
	}
	return &Refiner{inv: inv}, nil
}

// Refine invokes the backend with the current content and its critique and
// returns the revised content plus details of the refinement.
func (r *Refiner) Refine(ctx context.Context, content types.IdeaContent, eval types.Evaluation) (types.IdeaContent, *types.RefinementDetails, error) {
	var buf bytes.Buffer
	err := refinerPromptTmpl.Execute(&buf, struct {
		Content  types.IdeaContent
		Score    float64
		Critique string
	}{
		Content:  content,
		Score:    eval.Average(),
		Critique: eval.Critique,
	})
	if err != nil {
		return types.IdeaContent{}, nil, fmt.Errorf("rendering refiner prompt: %w", err)
	}

	raw, err := r.inv.invoke(ctx, buf.String())
	if err != nil {
		return types.IdeaContent{}, nil, err
	}

	rec, err := parse.Extract(parse.StripThink(raw), refinementSchema)
	if err != nil {
		return types.IdeaContent{}, nil, &InvocationFailure{Role: RoleRefiner, Raw: raw, Err: err}
	}

	revised := types.IdeaContent{
		Title:       rec.String("title"),
		Methodology: rec.String("methodology"),
		Rationale:   rec.String("rationale"),
	}
	if revised.Rationale == "" {
		revised.Rationale = content.Rationale
	}

	details := &types.RefinementDetails{
		OriginalTitle:  content.Title,
		CritiqueScore:  eval.Average(),
		Reasoning:      rec.String("reasoning"),
		ChangesSummary: rec.String("changes_summary"),
	}
	return revised, details, nil
}
