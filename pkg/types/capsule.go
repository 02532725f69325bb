// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// CapsuleVersion is the document schema version written into new capsules.
const CapsuleVersion = "1.0"

// KnowledgeCapsule is a persisted, validated answer to a query. Only
// UsageStats changes after creation; UpdatedAt stays at the creation time.
type KnowledgeCapsule struct {
	// CapsuleID is a 16 hex character identifier derived from the query,
	// reasoning type, and creation instant.
	CapsuleID string `json:"capsule_id" yaml:"capsule_id"`

	Version   string    `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	Query         string        `json:"query" yaml:"query"`
	ReasoningType ReasoningType `json:"reasoning_type" yaml:"reasoning_type"`
	KeyConcepts   []string      `json:"key_concepts" yaml:"key_concepts"`
	Confidence    float64       `json:"confidence" yaml:"confidence"`

	ReasoningChain  ReasoningChain  `json:"reasoning_chain" yaml:"reasoning_chain"`
	ValidationProof ValidationProof `json:"validation_proof" yaml:"validation_proof"`

	UsageStats UsageStats       `json:"usage_stats" yaml:"usage_stats"`
	Metadata   CapsuleMetadata `json:"metadata" yaml:"metadata"`
}

// UsageStats tracks how often a capsule has been served.
type UsageStats struct {
	RetrievalCount int        `json:"retrieval_count" yaml:"retrieval_count"`
	LastRetrieved  *time.Time `json:"last_retrieved" yaml:"last_retrieved"`

	// ReferencedBy lists capsules whose research context included this one.
	ReferencedBy []string `json:"referenced_by,omitempty" yaml:"referenced_by,omitempty"`
}

// CapsuleMetadata holds write-once classification data.
type CapsuleMetadata struct {
	AutoApproved       bool     `json:"auto_approved" yaml:"auto_approved"`
	RequiresValidation bool     `json:"requires_validation" yaml:"requires_validation"`
	Tags               []string `json:"tags" yaml:"tags"`
	Category           string   `json:"category" yaml:"category"`
}

// CapsuleSummary is one row of a capsule listing.
type CapsuleSummary struct {
	CapsuleID      string        `json:"capsule_id" yaml:"capsule_id"`
	Query          string        `json:"query" yaml:"query"`
	ReasoningType  ReasoningType `json:"reasoning_type" yaml:"reasoning_type"`
	Confidence     float64       `json:"confidence" yaml:"confidence"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	RetrievalCount int           `json:"retrieval_count" yaml:"retrieval_count"`
}

// Summary returns the listing row for c.
func (c KnowledgeCapsule) Summary() CapsuleSummary {
	return CapsuleSummary{
		CapsuleID:      c.CapsuleID,
		Query:          c.Query,
		ReasoningType:  c.ReasoningType,
		Confidence:     c.Confidence,
		CreatedAt:      c.CreatedAt,
		RetrievalCount: c.UsageStats.RetrievalCount,
	}
}

// StoreStats is the capsule store's aggregate stats document.
type StoreStats struct {
	TotalCapsules      int        `json:"total_capsules" yaml:"total_capsules"`
	TotalRetrievals    int        `json:"total_retrievals" yaml:"total_retrievals"`
	CreatedAt          time.Time  `json:"created_at" yaml:"created_at"`
	LastCapsuleCreated *time.Time `json:"last_capsule_created" yaml:"last_capsule_created"`
}

// IndexEntry is the metadata row stored alongside each vector in the
// capsule index, at the same ordinal.
type IndexEntry struct {
	Ordinal       int           `json:"ordinal" yaml:"ordinal"`
	CapsuleID     string        `json:"capsule_id" yaml:"capsule_id"`
	Query         string        `json:"query" yaml:"query"`
	ReasoningType ReasoningType `json:"reasoning_type" yaml:"reasoning_type"`
	Content       string        `json:"content" yaml:"content"`
	Confidence    float64       `json:"confidence" yaml:"confidence"`
	Timestamp     time.Time     `json:"timestamp" yaml:"timestamp"`
}

// SearchMethod records which path produced a search hit.
type SearchMethod string

const (
	SearchVector  SearchMethod = "vector"
	SearchKeyword SearchMethod = "keyword"
)

// SearchHit is an index entry with its similarity to the query.
type SearchHit struct {
	IndexEntry `yaml:",inline"`
	Similarity float64      `json:"similarity" yaml:"similarity"`
	Method     SearchMethod `json:"method" yaml:"method"`
}

// Capabilities declares which external collaborators are available.
// Components degrade to their documented fallbacks when a capability is off.
type Capabilities struct {
	Embedding    bool `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	VectorSearch bool `json:"vector_search" yaml:"vector_search" mapstructure:"vector_search"`
	LLM          bool `json:"llm" yaml:"llm" mapstructure:"llm"`
	WebSearch    bool `json:"web_search" yaml:"web_search" mapstructure:"web_search"`
}

// SemanticSearch reports whether vector lookup can be attempted.
func (c Capabilities) SemanticSearch() bool {
	return c.Embedding && c.VectorSearch
}
