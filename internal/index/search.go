// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"context"
	"sort"
	"strings"

	"github.com/pdiddy/capsule-engine/internal/metrics"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Search returns up to topK entries similar to text with similarity at or
// above threshold. Vector search is used when embedding and vector search
// are both enabled and the embed call succeeds; otherwise it falls back to
// KeywordSearch over the index entries and the configured corpus.
func (ix *Index) Search(ctx context.Context, text string, topK int, threshold float64) []types.SearchHit {
	done := metrics.TimeOp(ix.metrics, "index_search")
	if topK <= 0 || strings.TrimSpace(text) == "" {
		done(true)
		return []types.SearchHit{}
	}

	if ix.caps.SemanticSearch() && ix.embedder != nil {
		if ix.Len() == 0 {
			done(true)
			return []types.SearchHit{}
		}
		vec, err := ix.embed(ctx, text)
		if err == nil {
			hits := ix.vectorSearch(vec, topK, threshold)
			done(true)
			return hits
		}
		ix.logger.Warn("query embedding failed, using keyword search", "err", err)
	}

	hits := KeywordSearch(ix.keywordCorpus(), text, topK, threshold)
	done(true)
	return hits
}

// VectorSearch searches by a precomputed vector. A vector of the wrong
// size matches nothing.
func (ix *Index) VectorSearch(vec []float32, topK int, threshold float64) []types.SearchHit {
	return ix.vectorSearch(vec, topK, threshold)
}

func (ix *Index) vectorSearch(vec []float32, topK int, threshold float64) []types.SearchHit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := []types.SearchHit{}
	k := min(topK, len(ix.entries))
	for _, n := range ix.searcher.Search(vec, k) {
		if n.Ordinal < 0 || n.Ordinal >= len(ix.entries) {
			continue
		}
		sim := 1.0 / (1.0 + n.Distance)
		if sim < threshold {
			continue
		}
		hits = append(hits, types.SearchHit{
			IndexEntry: ix.entries[n.Ordinal],
			Similarity: sim,
			Method:     types.SearchVector,
		})
	}
	return hits
}

// keywordCorpus merges the index entries with the external corpus,
// skipping corpus entries for capsules already indexed.
func (ix *Index) keywordCorpus() []types.IndexEntry {
	entries := ix.Entries()
	if ix.corpus == nil {
		return entries
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.CapsuleID] = true
	}
	for _, e := range ix.corpus() {
		if seen[e.CapsuleID] {
			continue
		}
		seen[e.CapsuleID] = true
		entries = append(entries, e)
	}
	return entries
}

// KeywordSearch scores each entry by the fraction of query words found in
// its query, content, and reasoning type. Entries with no matches or a
// score below threshold are dropped. Results are ordered by descending
// score, then by corpus order.
func KeywordSearch(entries []types.IndexEntry, text string, topK int, threshold float64) []types.SearchHit {
	words := strings.Fields(strings.ToLower(text))
	hits := []types.SearchHit{}
	if len(words) == 0 || topK <= 0 {
		return hits
	}

	for _, e := range entries {
		searchable := strings.ToLower(e.Query + " " + e.Content + " " + string(e.ReasoningType))
		matches := 0
		for _, w := range words {
			if strings.Contains(searchable, w) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		sim := float64(matches) / float64(len(words))
		if sim < threshold {
			continue
		}
		hits = append(hits, types.SearchHit{IndexEntry: e, Similarity: sim, Method: types.SearchKeyword})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
