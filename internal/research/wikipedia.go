// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/httputil"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Wikipedia endpoints. Declared as vars so tests can substitute an
// httptest server.
var (
	wikipediaAPIURL   = "https://en.wikipedia.org/w/api.php"
	wikipediaPageBase = "https://en.wikipedia.org/wiki/"
)

// WikipediaBackend queries the MediaWiki full-text search API.
type WikipediaBackend struct {
	Client    *http.Client
	UserAgent string
	Logger    *log.Logger
}

// Name returns the backend identifier.
func (b *WikipediaBackend) Name() string { return "wikipedia" }

// Search returns up to limit article matches with highlight markup removed.
func (b *WikipediaBackend) Search(ctx context.Context, query string, limit int) ([]types.WebResult, error) {
	if limit <= 0 {
		limit = 3
	}
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"format":   {"json"},
		"srlimit":  {fmt.Sprintf("%d", limit)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wikipediaAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	setHeaders(req, b.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, webRetries, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("Wikipedia request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Wikipedia returned HTTP %d", resp.StatusCode)
	}

	var wr wikiResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("parsing Wikipedia response: %w", err)
	}

	hits := wr.Query.Search
	results := make([]types.WebResult, 0, len(hits))
	for i, h := range hits {
		results = append(results, types.WebResult{
			Title:          h.Title,
			Snippet:        cleanText(h.Snippet),
			URL:            wikipediaPageBase + url.PathEscape(strings.ReplaceAll(h.Title, " ", "_")),
			Source:         "wikipedia",
			RelevanceScore: 0.9 * positionScore(i, len(hits)),
		})
	}
	return results, nil
}

// MediaWiki API JSON structures.
type wikiResponse struct {
	Query struct {
		Search []wikiHit `json:"search"`
	} `json:"query"`
}

type wikiHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	PageID  int    `json:"pageid"`
}
