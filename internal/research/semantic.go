// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/httputil"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const (
	semanticFields     = "title,abstract,url,year"
	maxAbstractSnippet = 500
)

// SemanticScholarBackend queries the Semantic Scholar API for papers.
type SemanticScholarBackend struct {
	Client    *http.Client
	UserAgent string
	APIKey    string
	Logger    *log.Logger
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return "semantic_scholar" }

// Search returns up to limit papers. Papers without an abstract are skipped.
func (b *SemanticScholarBackend) Search(ctx context.Context, query string, limit int) ([]types.WebResult, error) {
	if limit <= 0 {
		limit = 3
	}
	params := url.Values{
		"query":  {query},
		"limit":  {fmt.Sprintf("%d", limit)},
		"fields": {semanticFields},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	setHeaders(req, b.UserAgent)
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, webRetries, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	var results []types.WebResult
	for i, paper := range sr.Data {
		abstract := cleanText(paper.Abstract)
		if abstract == "" {
			continue
		}
		title := paper.Title
		if paper.Year > 0 {
			title = fmt.Sprintf("%s (%d)", title, paper.Year)
		}
		link := paper.URL
		if link == "" {
			link = "https://www.semanticscholar.org/paper/" + paper.PaperID
		}
		results = append(results, types.WebResult{
			Title:          title,
			Snippet:        truncate(abstract, maxAbstractSnippet),
			URL:            link,
			Source:         "semantic_scholar",
			RelevanceScore: 0.8 * positionScore(i, len(sr.Data)),
		})
	}
	return results, nil
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total int             `json:"total"`
	Data  []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID  string `json:"paperId"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	URL      string `json:"url"`
	Year     int    `json:"year"`
}
