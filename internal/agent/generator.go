// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pdiddy/idea-engine/internal/parse"
	"github.com/pdiddy/idea-engine/pkg/types"
)

// generatorPromptTmpl asks for N research topics grounded in the retrieved
// papers. Models that reason aloud may wrap their thinking in <think> tags;
// those are stripped before parsing.
var generatorPromptTmpl = template.Must(template.New("generator").Parse(`You are a research PI proposing {{.N}} novel research topics for "{{.Keyword}}".

RECENT PAPERS:
{{.LatestTitles}}

CONTEXT:
{{.PapersContext}}

TASK:
1. Identify limitations in the current research and how to fix them with novel approaches.
2. Output JSON with {{.N}} topics.

OUTPUT FORMAT (JSON only, no markdown):
{
  "topics": [
    {
      "title": "Graph Neural Network for Patent Claim Analysis",
      "methodology": "Use GNN + RAG: (1) Build claim graph, (2) Embed with PatentBERT, (3) Apply GAT for reasoning.",
      "background": "Current patent analysis is manual and slow.",
      "necessity": "Existing NLP fails to capture claim hierarchy.",
      "expected_effects": "60% faster analysis, 85% accuracy on prior art detection."
    }
  ]
}

Generate {{.N}} topics now:
`))

// draftSchema lists the fields required of each generated topic. Title and
// methodology must be present; the rationale is assembled from whichever of
// the motivation fields the model produced.
var draftSchema = []parse.Field{
	{Name: "title", Kind: parse.FieldString},
	{Name: "methodology", Kind: parse.FieldString},
	{Name: "background", Kind: parse.FieldString, Optional: true},
	{Name: "necessity", Kind: parse.FieldString, Optional: true},
	{Name: "expected_effects", Kind: parse.FieldString, Optional: true},
	{Name: "rationale", Kind: parse.FieldString, Optional: true},
	{Name: "description", Kind: parse.FieldString, Optional: true},
}

// Generator produces the initial idea drafts for a keyword.
type Generator struct {
	inv invoker
}

// NewGenerator constructs the Generator invoker.
func NewGenerator(cfg types.RoleConfig, bcfg types.BackendConfig, client *http.Client) (*Generator, error) {
	inv, err := newInvoker(RoleGenerator, cfg, bcfg, client)
	if err != nil {
		return nil, err
	}
	return &Generator{inv: inv}, nil
}

// Drafts invokes the backend once and returns n idea drafts grounded in the
// paper context. Parse failures surface as an InvocationFailure carrying
// the raw response.
func (g *Generator) Drafts(ctx context.Context, keyword string, papers []types.Paper, n int) ([]types.IdeaContent, error) {
	var buf bytes.Buffer
	err := generatorPromptTmpl.Execute(&buf, struct {
		Keyword       string
		N             int
		LatestTitles  string
		PapersContext string
	}{
		Keyword:       keyword,
		N:             n,
		LatestTitles:  formatTitles(papers),
		PapersContext: formatPapers(papers),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering generator prompt: %w", err)
	}

	raw, err := g.inv.invoke(ctx, buf.String())
	if err != nil {
		return nil, err
	}

	cleaned := parse.StripThink(raw)
	records, err := parse.ExtractList(cleaned, "topics", draftSchema)
	if err != nil {
		return nil, &InvocationFailure{Role: RoleGenerator, Raw: raw, Err: err}
	}
	if len(records) == 0 {
		return nil, &InvocationFailure{Role: RoleGenerator, Raw: raw, Err: fmt.Errorf("response contained no topics")}
	}

	drafts := make([]types.IdeaContent, 0, len(records))
	for _, rec := range records {
		drafts = append(drafts, types.IdeaContent{
			Title:       rec.String("title"),
			Methodology: rec.String("methodology"),
			Rationale:   composeRationale(rec),
		})
	}
	return drafts, nil
}

// composeRationale builds the supporting rationale from the motivation
// fields the model produced, falling back to a bare rationale/description.
func composeRationale(rec parse.Record) string {
	var parts []string
	if v := rec.String("background"); v != "" {
		parts = append(parts, "**Background:** "+v)
	}
	if v := rec.String("necessity"); v != "" {
		parts = append(parts, "**Necessity:** "+v)
	}
	if v := rec.String("expected_effects"); v != "" {
		parts = append(parts, "**Expected Effects:** "+v)
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	if v := rec.String("rationale"); v != "" {
		return v
	}
	return rec.String("description")
}

// formatTitles renders a compact newest-first title list for the prompt.
func formatTitles(papers []types.Paper) string {
	if len(papers) == 0 {
		return "No recent papers found."
	}
	var b strings.Builder
	for _, p := range papers {
		fmt.Fprintf(&b, "- [%d] %s\n", p.Year, p.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

// abstractLimit caps the abstract text per paper to keep the prompt small.
const abstractLimit = 200

// truncate shortens s to at most n bytes without splitting a UTF-8 rune,
// appending "..." when anything was cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// formatPapers renders the full context block for the prompt.
func formatPapers(papers []types.Paper) string {
	if len(papers) == 0 {
		return "No papers found."
	}
	var b strings.Builder
	for i, p := range papers {
		abstract := truncate(p.Abstract, abstractLimit)
		authors := p.Authors
		if len(authors) > 3 {
			authors = authors[:3]
		}
		fmt.Fprintf(&b, "**Paper %d** [%d] (Cited: %d)\n- **Title:** %s\n- **Authors:** %s\n- **Abstract:** %s\n\n",
			i+1, p.Year, p.CitedByCount, p.Title, strings.Join(authors, ", "), abstract)
	}
	return strings.TrimRight(b.String(), "\n")
}
