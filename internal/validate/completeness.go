// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

const (
	minQueryTermChars = 4
	minQueryOverlap   = 0.3
	minStructure      = 2
)

var (
	conclusionPhrases = []string{"conclusion", "in summary", "therefore", "thus", "finally", "to conclude"}
	causalTerms       = []string{"because", "due to", "since", "cause", "causes", "reason", "leads to", "results in", "therefore", "hence"}
	processTerms      = []string{"step", "first", "then", "next", "process", "method"}
)

// CompletenessValidator checks that a chain fully answers its query.
type CompletenessValidator struct{}

// Name returns "completeness".
func (CompletenessValidator) Name() string { return "completeness" }

// Validate scores query coverage, concept coverage, conclusion, depth, and
// structure.
func (cv CompletenessValidator) Validate(chain types.ReasoningChain) types.ValidatorResult {
	s := newScorer()
	v := newTextView(chain.ReasoningSteps)
	query := strings.TrimSpace(chain.Query)
	q := newTextView(query)

	if query == "" {
		s.penalize(0.3, "missing query")
	}

	if terms := queryTerms(q); len(terms) > 0 {
		found := 0
		for _, t := range terms {
			if v.set[t] {
				found++
			}
		}
		if ratio := float64(found) / float64(len(terms)); ratio < minQueryOverlap {
			s.penalize(0.25, "answer does not address the query (%.0f%% term overlap)", ratio*100)
		}
	}

	if len(chain.KeyConcepts) > 0 {
		covered := 0
		for _, c := range chain.KeyConcepts {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" && strings.Contains(v.lower, c) {
				covered++
			}
		}
		ratio := float64(covered) / float64(len(chain.KeyConcepts))
		switch {
		case ratio < 0.5:
			s.penalize(0.3, "key concepts missing (%d/%d covered)", covered, len(chain.KeyConcepts))
		case ratio < 0.8:
			s.penalize(0.15, "some key concepts missing (%d/%d covered)", covered, len(chain.KeyConcepts))
		}
	}

	if !v.hasAny(conclusionPhrases) {
		s.penalize(0.2, "no conclusion")
	}

	switch {
	case v.chars < 100:
		s.penalize(0.4, "answer too short (%d chars)", v.chars)
	case v.chars < 200:
		s.penalize(0.25, "answer lacks depth (%d chars)", v.chars)
	}

	if q.set["why"] && !v.hasAny(causalTerms) {
		s.penalize(0.3, "'why' question without causal explanation")
	}
	if q.set["how"] && !v.hasAny(processTerms) {
		s.penalize(0.3, "'how' question without process description")
	}

	if n := countStructuralMarkers(chain.ReasoningSteps); n < minStructure {
		s.penalize(0.15, "insufficient structure (%d markers)", n)
	}

	return s.result(cv.Name())
}

// queryTerms returns the distinct query words of at least minQueryTermChars.
func queryTerms(q textView) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range q.words {
		if utf8.RuneCountInString(w) < minQueryTermChars || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
