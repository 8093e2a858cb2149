// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Paper is one literature context entry: a ranked title/abstract pair the
// Generator grounds its drafts on. The engine treats the text as opaque.
type Paper struct {
	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Abstract is the paper abstract, reconstructed from the source index.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Authors lists up to the first few authors in source order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Year is the publication year (0 if unknown).
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// CitedByCount is the citation count reported by the source.
	CitedByCount int `json:"cited_by_count,omitempty" yaml:"cited_by_count,omitempty"`

	// URL is the source identifier or landing page.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}
