// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/pdiddy/idea-engine/internal/parse"
	"github.com/pdiddy/idea-engine/pkg/types"
)

// criticPromptTmpl scores one proposal on four criteria and demands a flat
// JSON object so the parser's schema can name each score directly.
var criticPromptTmpl = template.Must(template.New("critic").Parse(`You are evaluating a research proposal. Be thorough and critical.

PROPOSAL:
Title: {{.Title}}
Methodology: {{.Methodology}}
Rationale: {{.Rationale}}

Evaluate this proposal on each criterion (1-5 scale):

1. novelty (1-5): Is this idea truly novel? Has similar work been published in the last 3 years?
2. feasibility (1-5): Can this be implemented with current technology, data, and resources?
3. specificity (1-5): Are the methods, models, and datasets clearly specified?
4. impact (1-5): What is the potential impact on the field or industry?

Provide your response in this EXACT JSON format:
{
    "novelty": <1-5>,
    "novelty_reasoning": "<why this score>",
    "feasibility": <1-5>,
    "feasibility_reasoning": "<why this score>",
    "specificity": <1-5>,
    "specificity_reasoning": "<why this score>",
    "impact": <1-5>,
    "impact_reasoning": "<why this score>",
    "critique": "<comprehensive critique with specific suggestions for improvement>"
}

Be harsh but fair. Provide specific, actionable feedback.`))

// critiqueSchema lists the Critic's required fields: the four sub-scores
// and the free-form critique. Per-criterion reasoning is kept when present.
var critiqueSchema = []parse.Field{
	{Name: "novelty", Kind: parse.FieldScore},
	{Name: "feasibility", Kind: parse.FieldScore},
	{Name: "specificity", Kind: parse.FieldScore},
	{Name: "impact", Kind: parse.FieldScore},
	{Name: "critique", Kind: parse.FieldString},
	{Name: "novelty_reasoning", Kind: parse.FieldString, Optional: true},
	{Name: "feasibility_reasoning", Kind: parse.FieldString, Optional: true},
	{Name: "specificity_reasoning", Kind: parse.FieldString, Optional: true},
	{Name: "impact_reasoning", Kind: parse.FieldString, Optional: true},
}

// Critic scores one idea's current content.
type Critic struct {
	inv invoker
}

// NewCritic constructs the Critic invoker.
func NewCritic(cfg types.RoleConfig, bcfg types.BackendConfig, client *http.Client) (*Critic, error) {
	inv, err := newInvoker(RoleCritic, cfg, bcfg, client)
	if err != nil {
		return nil, err
	}
	return &Critic{inv: inv}, nil
}

// Evaluate invokes the backend on the idea's current content and returns
// the structured Evaluation.
func (c *Critic) Evaluate(ctx context.Context, content types.IdeaContent) (*types.Evaluation, error) {
	var buf bytes.Buffer
	if err := criticPromptTmpl.Execute(&buf, content); err != nil {
		return nil, fmt.Errorf("rendering critic prompt: %w", err)
	}

	raw, err := c.inv.invoke(ctx, buf.String())
	if err != nil {
		return nil, err
	}

	rec, err := parse.Extract(parse.StripThink(raw), critiqueSchema)
	if err != nil {
		return nil, &InvocationFailure{Role: RoleCritic, Raw: raw, Err: err}
	}

	eval := &types.Evaluation{
		Novelty:     rec.Score("novelty"),
		Feasibility: rec.Score("feasibility"),
		Specificity: rec.Score("specificity"),
		Impact:      rec.Score("impact"),
		Critique:    composeCritique(rec),
	}
	return eval, nil
}

// composeCritique folds the overall feedback and any per-criterion
// reasoning into the single critique text the Refiner consumes.
func composeCritique(rec parse.Record) string {
	parts := []string{"**Overall Assessment:** " + rec.String("critique")}

	reasonings := []struct {
		label string
		field string
		score int
	}{
		{"Novelty", "novelty_reasoning", rec.Score("novelty")},
		{"Feasibility", "feasibility_reasoning", rec.Score("feasibility")},
		{"Specificity", "specificity_reasoning", rec.Score("specificity")},
		{"Impact", "impact_reasoning", rec.Score("impact")},
	}
	for _, r := range reasonings {
		if v := rec.String(r.field); v != "" {
			parts = append(parts, fmt.Sprintf("**%s (%d/5):** %s", r.label, r.score, v))
		}
	}
	return strings.Join(parts, "\n\n")
}
