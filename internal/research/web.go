// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Backend searches one web source.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]types.WebResult, error)
}

// WebOutput holds merged web results and per-backend failures.
type WebOutput struct {
	Results       []types.WebResult
	DupsRemoved   int
	BackendErrors []string
}

// BackendsFor returns the backends enabled in cfg, in priority order.
func BackendsFor(cfg types.ResearchConfig, client *http.Client, logger *log.Logger) []Backend {
	logger = logging.OrDiscard(logger).WithPrefix("http")
	var out []Backend
	if cfg.EnableDuckDuckGo {
		out = append(out, &DuckDuckGoBackend{Client: client, UserAgent: cfg.UserAgent, Logger: logger})
	}
	if cfg.EnableWikipedia {
		out = append(out, &WikipediaBackend{Client: client, UserAgent: cfg.UserAgent, Logger: logger})
	}
	if cfg.EnableSemanticScholar {
		out = append(out, &SemanticScholarBackend{Client: client, UserAgent: cfg.UserAgent, APIKey: cfg.SemanticScholarAPIKey, Logger: logger})
	}
	return out
}

// WebSearch fans the query out to every backend concurrently, drops
// duplicates, and returns the best limit results. Results are ordered by
// relevance; equal scores keep backend priority order. A failing backend is
// recorded and skipped.
func WebSearch(ctx context.Context, query string, backends []Backend, limit int) WebOutput {
	type backendResult struct {
		results []types.WebResult
		err     error
		name    string
		rank    int
	}

	ch := make(chan backendResult, len(backends))
	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func(rank int, b Backend) {
			defer wg.Done()
			results, err := b.Search(ctx, query, limit)
			ch <- backendResult{results: results, err: err, name: b.Name(), rank: rank}
		}(i, b)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	byRank := make([][]types.WebResult, len(backends))
	var out WebOutput
	for br := range ch {
		if br.err != nil {
			out.BackendErrors = append(out.BackendErrors, fmt.Sprintf("%s: %v", br.name, br.err))
			continue
		}
		byRank[br.rank] = br.results
	}
	sort.Strings(out.BackendErrors)

	var all []types.WebResult
	for _, rs := range byRank {
		all = append(all, rs...)
	}
	all, out.DupsRemoved = deduplicate(all)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].RelevanceScore > all[j].RelevanceScore
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out.Results = all
	return out
}

// deduplicate keeps the first result for each URL or normalized title.
func deduplicate(results []types.WebResult) ([]types.WebResult, int) {
	seen := map[string]bool{}
	var out []types.WebResult
	removed := 0
	for _, r := range results {
		var keys []string
		if r.URL != "" {
			keys = append(keys, "url:"+strings.TrimSuffix(strings.ToLower(r.URL), "/"))
		}
		if t := normalizeTitle(r.Title); t != "" {
			keys = append(keys, "title:"+t)
		}
		dup := false
		for _, k := range keys {
			if seen[k] {
				dup = true
				break
			}
		}
		if dup {
			removed++
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}
		out = append(out, r)
	}
	return out, removed
}

// normalizeTitle returns a lowercased, punctuation-stripped title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// positionScore gives the first of total results 1.0 and the last 0.1.
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}

// cleanText strips markup from an API snippet, decodes entities, and
// collapses whitespace.
func cleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
