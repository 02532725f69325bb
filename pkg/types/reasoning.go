// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the capsule-engine pipeline:
// reasoning chains, validator results and consensus outcomes, knowledge
// capsules and index entries, message envelopes, and engine configuration.
package types

import "strings"

// ReasoningType names the inference pattern a reasoning chain follows.
type ReasoningType string

const (
	ReasoningDeductive   ReasoningType = "deductive"
	ReasoningInductive   ReasoningType = "inductive"
	ReasoningAbductive   ReasoningType = "abductive"
	ReasoningCausal      ReasoningType = "causal"
	ReasoningComparative ReasoningType = "comparative"
	ReasoningUnknown     ReasoningType = "unknown"
)

// ParseReasoningType maps free text to a ReasoningType. Unrecognized values
// map to ReasoningUnknown.
func ParseReasoningType(s string) ReasoningType {
	switch t := ReasoningType(strings.ToLower(strings.TrimSpace(s))); t {
	case ReasoningDeductive, ReasoningInductive, ReasoningAbductive,
		ReasoningCausal, ReasoningComparative:
		return t
	default:
		return ReasoningUnknown
	}
}

// QueryType is the routing category assigned to an incoming query.
type QueryType string

const (
	QuerySimpleFactual     QueryType = "simple_factual"
	QueryComplexReasoning  QueryType = "complex_reasoning"
	QueryValidationRequest QueryType = "validation_request"
	QueryCapsuleLookup     QueryType = "capsule_lookup"
	QueryUnknown           QueryType = "unknown"
)

// ParseQueryType maps a classifier label to a QueryType.
func ParseQueryType(s string) QueryType {
	switch t := QueryType(strings.ToLower(strings.TrimSpace(s))); t {
	case QuerySimpleFactual, QueryComplexReasoning, QueryValidationRequest, QueryCapsuleLookup:
		return t
	default:
		return QueryUnknown
	}
}

// Keys recognized in ReasoningChain.KnowledgeUsed.
const (
	KnowledgePatterns    = "patterns"
	KnowledgeDomainRules = "domain_rules"
	KnowledgeConcepts    = "concepts"
)

// ReasoningChain is the artifact produced by the reasoning stage and handed
// to the validators. It is treated as immutable once handed off.
type ReasoningChain struct {
	// Query is the question the chain answers.
	Query string `json:"query" yaml:"query"`

	// ReasoningType is the declared inference pattern.
	ReasoningType ReasoningType `json:"reasoning_type" yaml:"reasoning_type"`

	// KeyConcepts lists the concepts the answer must cover, in order.
	KeyConcepts []string `json:"key_concepts" yaml:"key_concepts"`

	// ReasoningSteps is the reasoning text itself.
	ReasoningSteps string `json:"reasoning_steps" yaml:"reasoning_steps"`

	// Confidence is the reasoner's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// RequiresValidation is set when confidence is below the auto-approve bar.
	RequiresValidation bool `json:"requires_validation" yaml:"requires_validation"`

	// KnowledgeUsed records structured knowledge-graph usage, keyed by
	// KnowledgePatterns, KnowledgeDomainRules, and KnowledgeConcepts.
	KnowledgeUsed map[string][]string `json:"knowledge_used,omitempty" yaml:"knowledge_used,omitempty"`

	// Metadata carries provenance flags set by the pipeline.
	Metadata ChainMetadata `json:"metadata" yaml:"metadata"`
}

// ChainMetadata holds pipeline provenance for a reasoning chain.
type ChainMetadata struct {
	HasResearchContext bool `json:"has_research_context" yaml:"has_research_context"`
	ResearchSources    int  `json:"research_sources,omitempty" yaml:"research_sources,omitempty"`
	Attempt            int  `json:"attempt,omitempty" yaml:"attempt,omitempty"`
}

// UsesKnowledge reports whether any structured knowledge was recorded.
func (c ReasoningChain) UsesKnowledge() bool {
	return len(c.KnowledgeUsed) > 0
}

// KnowledgeCount returns the number of entries recorded under key.
func (c ReasoningChain) KnowledgeCount(key string) int {
	return len(c.KnowledgeUsed[key])
}
