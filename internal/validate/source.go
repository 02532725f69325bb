// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"regexp"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

const (
	maxHedges                = 3
	unsupportedConfidenceBar = 0.8
	citationBonus            = 0.1
)

var (
	claimStems    = []string{"claim", "assert", "state", "argue", "propose"}
	evidenceTerms = []string{
		"because", "evidence", "shown", "research", "study", "studies",
		"according to", "based on", "demonstrates",
	}
	hedgeWords = []string{
		"might", "possibly", "perhaps", "unclear", "uncertain", "maybe", "may", "could",
	}
	citationPhrases = []string{"according to", "research shows", "studies show", "et al."}
	citationMarks   = regexp.MustCompile(`\[\d+\]|\([A-Z][\w-]+(?: et al\.)?,? (?:19|20)\d{2}\)`)
)

// SourceValidator checks that claims in a chain are grounded in research
// context or structured knowledge.
type SourceValidator struct{}

// Name returns "source".
func (SourceValidator) Name() string { return "source" }

// Validate scores the chain's grounding.
func (sv SourceValidator) Validate(chain types.ReasoningChain) types.ValidatorResult {
	s := newScorer()
	v := newTextView(chain.ReasoningSteps)

	research := chain.Metadata.HasResearchContext
	knowledge := chain.UsesKnowledge()

	if !research && !knowledge {
		s.penalize(0.3, "no research context or knowledge graph usage")
	}

	if knowledge && chain.KnowledgeCount(types.KnowledgePatterns) == 0 &&
		chain.KnowledgeCount(types.KnowledgeDomainRules) == 0 {
		s.penalize(0.2, "knowledge graph used but no patterns or domain rules applied")
	}

	if hasClaim(v) && !v.hasAny(evidenceTerms) {
		s.penalize(0.25, "claims made without supporting evidence")
	}

	if n := v.countOccurrences(hedgeWords); n > maxHedges {
		s.penalize(0.2, "excessive hedging (%d uncertain terms)", n)
	}

	if chain.Confidence > unsupportedConfidenceBar && !research && !knowledge {
		s.penalize(0.3, "high confidence (%.2f) without supporting sources", chain.Confidence)
	}

	if hasCitation(v) {
		s.bonus(citationBonus)
	}

	return s.result(sv.Name())
}

func hasClaim(v textView) bool {
	for _, stem := range claimStems {
		if v.hasWordForm(stem) {
			return true
		}
	}
	return false
}

func hasCitation(v textView) bool {
	return v.hasAny(citationPhrases) || citationMarks.MatchString(v.raw)
}
