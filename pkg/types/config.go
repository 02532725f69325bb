// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout bounds every outbound request. A timed-out call is treated as
	// an unavailable capability.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "capsule-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// CapsuleConfig holds settings for the capsule store.
type CapsuleConfig struct {
	// DataDir is the base directory for capsule documents and index files
	// (default "data/knowledge_capsules").
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// ListLimit caps the rows returned by a list action (default 20).
	ListLimit int `json:"list_limit" yaml:"list_limit" mapstructure:"list_limit"`
}

// IndexConfig holds settings for capsule similarity search.
type IndexConfig struct {
	// TopK is the default number of neighbours requested (default 5).
	TopK int `json:"top_k" yaml:"top_k" mapstructure:"top_k"`

	// SimilarityThreshold drops hits below this similarity (default 0.6).
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Provider is "openai", "ollama", or empty for disabled.
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the embedding model name.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// APIKey authenticates against the provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Dimensions is the vector size D agreed at index creation (default 384).
	Dimensions int `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions"`
}

// LLMConfig holds settings for the chat-completion collaborator.
type LLMConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Model is the chat model identifier (e.g. "asi1-mini").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// BaseURL is the OpenAI-compatible API base (default "https://api.asi1.ai/v1").
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// APIKey is the authentication key for the API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxTokens bounds each completion (default 1024).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// Temperature is the sampling temperature (default 0.2).
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
}

// ResearchConfig holds settings for the research stage.
type ResearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// MinCapsuleHits is the capsule count below which web search runs (default 2).
	MinCapsuleHits int `json:"min_capsule_hits" yaml:"min_capsule_hits" mapstructure:"min_capsule_hits"`

	// MaxWebResults caps the web results kept (default 3).
	MaxWebResults int `json:"max_web_results" yaml:"max_web_results" mapstructure:"max_web_results"`

	// EnableDuckDuckGo controls the DuckDuckGo instant answer backend.
	EnableDuckDuckGo bool `json:"enable_duckduckgo" yaml:"enable_duckduckgo" mapstructure:"enable_duckduckgo"`

	// EnableWikipedia controls the Wikipedia search backend.
	EnableWikipedia bool `json:"enable_wikipedia" yaml:"enable_wikipedia" mapstructure:"enable_wikipedia"`

	// EnableSemanticScholar controls the Semantic Scholar backend.
	EnableSemanticScholar bool `json:"enable_semantic_scholar" yaml:"enable_semantic_scholar" mapstructure:"enable_semantic_scholar"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	// AutoApprove enables the confidence-only short-circuit.
	AutoApprove bool `json:"auto_approve" yaml:"auto_approve" mapstructure:"auto_approve"`

	// AutoApproveThreshold is the confidence at or above which chains skip
	// validation (default 0.9).
	AutoApproveThreshold float64 `json:"auto_approve_threshold" yaml:"auto_approve_threshold" mapstructure:"auto_approve_threshold"`

	// MaxRevisionAttempts bounds re-submissions to the reasoning stage (default 2).
	MaxRevisionAttempts int `json:"max_revision_attempts" yaml:"max_revision_attempts" mapstructure:"max_revision_attempts"`

	// MixedPolicy resolves a one-approve, one-reject, one-revise vote.
	MixedPolicy MixedPolicy `json:"mixed_policy" yaml:"mixed_policy" mapstructure:"mixed_policy"`

	// ReplyTimeout bounds how long the CLI waits for a routed reply.
	ReplyTimeout time.Duration `json:"reply_timeout" yaml:"reply_timeout" mapstructure:"reply_timeout"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /healthz; empty disables it.
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// EngineConfig groups all component configurations.
type EngineConfig struct {
	Capabilities Capabilities    `json:"capabilities" yaml:"capabilities" mapstructure:"capabilities"`
	Capsule      CapsuleConfig   `json:"capsule" yaml:"capsule" mapstructure:"capsule"`
	Index        IndexConfig     `json:"index" yaml:"index" mapstructure:"index"`
	Embedding    EmbeddingConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	LLM          LLMConfig       `json:"llm" yaml:"llm" mapstructure:"llm"`
	Research     ResearchConfig  `json:"research" yaml:"research" mapstructure:"research"`
	Pipeline     PipelineConfig  `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Metrics      MetricsConfig   `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}
