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

// duckduckgoAPIURL is the DuckDuckGo instant answer endpoint. Declared as a
// var so tests can substitute an httptest server.
var duckduckgoAPIURL = "https://api.duckduckgo.com/"

// DuckDuckGoBackend queries the DuckDuckGo instant answer API. The abstract,
// when present, ranks first; related topics follow.
type DuckDuckGoBackend struct {
	Client    *http.Client
	UserAgent string
	Logger    *log.Logger
}

// Name returns the backend identifier.
func (b *DuckDuckGoBackend) Name() string { return "duckduckgo" }

// Search returns the abstract and up to limit related topics.
func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, limit int) ([]types.WebResult, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, duckduckgoAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	setHeaders(req, b.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, webRetries, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("DuckDuckGo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DuckDuckGo returned HTTP %d", resp.StatusCode)
	}

	var dr ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("parsing DuckDuckGo response: %w", err)
	}

	var results []types.WebResult
	if abstract := cleanText(dr.Abstract); abstract != "" {
		heading := dr.Heading
		if heading == "" {
			heading = "Overview"
		}
		results = append(results, types.WebResult{
			Title:          heading,
			Snippet:        abstract,
			URL:            dr.AbstractURL,
			Source:         "duckduckgo",
			RelevanceScore: 1.0,
		})
	}

	topics := flattenTopics(dr.RelatedTopics)
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	for i, tp := range topics {
		text := cleanText(tp.Text)
		results = append(results, types.WebResult{
			Title:          truncate(text, 100),
			Snippet:        text,
			URL:            tp.FirstURL,
			Source:         "duckduckgo",
			RelevanceScore: 0.9 * positionScore(i, len(topics)),
		})
	}
	return results, nil
}

// flattenTopics expands grouped topics and drops entries without text.
func flattenTopics(topics []ddgTopic) []ddgTopic {
	var out []ddgTopic
	for _, tp := range topics {
		if len(tp.Topics) > 0 {
			out = append(out, flattenTopics(tp.Topics)...)
			continue
		}
		if tp.Text != "" {
			out = append(out, tp)
		}
	}
	return out
}

// DuckDuckGo API JSON structures.
type ddgResponse struct {
	Heading       string     `json:"Heading"`
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}
