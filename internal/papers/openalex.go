// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package papers retrieves ranked literature context for a research keyword.
// The engine consumes only the finite title/abstract list; retrieval details
// stay behind the Provider interface.
package papers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/pdiddy/idea-engine/internal/httputil"
	"github.com/pdiddy/idea-engine/pkg/types"
)

// Provider fetches ranked papers for a keyword, truncated to the configured
// top-k. Tests supply a stub; production uses OpenAlex.
type Provider interface {
	Fetch(ctx context.Context, keyword string) ([]types.Paper, error)
}

// openAlexBase is the OpenAlex Works endpoint. Declared as a var so tests
// can substitute an httptest server.
var openAlexBase = "https://api.openalex.org/works"

const (
	defaultFetchLimit = 100
	defaultTopK       = 10
	maxAuthors        = 5
)

// OpenAlex queries the OpenAlex Works API for recent papers with abstracts.
type OpenAlex struct {
	Client     *http.Client
	Config     types.ContextConfig
	MaxRetries int
}

// Fetch queries OpenAlex for the keyword, reconstructs abstracts, and
// returns the top-k papers ranked by recency then citation count.
func (o *OpenAlex) Fetch(ctx context.Context, keyword string) ([]types.Paper, error) {
	fetchLimit := o.Config.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = defaultFetchLimit
	}
	if fetchLimit > 200 {
		// OpenAlex caps per-page at 200.
		fetchLimit = 200
	}

	params := url.Values{
		"search":   {keyword},
		"per-page": {fmt.Sprintf("%d", fetchLimit)},
		"filter":   {"has_abstract:true"},
		"sort":     {"publication_year:desc"},
	}
	if o.Config.Email != "" {
		params.Set("mailto", o.Config.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if o.Config.UserAgent != "" {
		req.Header.Set("User-Agent", o.Config.UserAgent)
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, o.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	var results []types.Paper
	for _, work := range oar.Results {
		abstract := reconstructAbstract(work.AbstractInvertedIndex)
		if work.Title == "" || abstract == "" {
			continue
		}

		p := types.Paper{
			Title:        work.Title,
			Abstract:     abstract,
			Year:         work.PublicationYear,
			CitedByCount: work.CitedByCount,
			URL:          work.ID,
		}
		for _, authorship := range work.Authorships {
			if len(p.Authors) >= maxAuthors {
				break
			}
			if authorship.Author.DisplayName != "" {
				p.Authors = append(p.Authors, authorship.Author.DisplayName)
			}
		}
		results = append(results, p)
	}

	return rank(results, o.topK()), nil
}

func (o *OpenAlex) topK() int {
	if o.Config.TopKPapers > 0 {
		return o.Config.TopKPapers
	}
	return defaultTopK
}

// rank orders papers newest first, breaking ties by citation count, and
// truncates to topK.
func rank(results []types.Paper, topK int) []types.Paper {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Year != results[j].Year {
			return results[i].Year > results[j].Year
		}
		return results[i].CitedByCount > results[j].CitedByCount
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where it
// appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	var b []byte
	for i, p := range pairs {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, p.word...)
	}
	return string(b)
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}
