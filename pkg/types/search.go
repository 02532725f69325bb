// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// WebResult is a snippet returned by a web research backend.
type WebResult struct {
	// Title is the page or article title.
	Title string `json:"title" yaml:"title"`

	// Snippet is the cleaned text excerpt.
	Snippet string `json:"snippet" yaml:"snippet"`

	// URL links to the source page.
	URL string `json:"url" yaml:"url"`

	// Source identifies which backend found this result (e.g. "duckduckgo", "wikipedia").
	Source string `json:"source" yaml:"source"`

	// RelevanceScore is a value between 0.0 and 1.0 indicating relevance to the query.
	RelevanceScore float64 `json:"relevance_score" yaml:"relevance_score"`
}
