// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm wraps the remote chat-completion model used for query
// classification, concept extraction, reasoning, and research summaries.
// Every call is bounded by the configured timeout; a disabled, failing, or
// timed-out model is reported as types.ErrCapabilityUnavailable so callers
// can switch to their keyword fallbacks.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/internal/metrics"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Defaults for the ASI:One OpenAI-compatible endpoint.
const (
	DefaultBaseURL     = "https://api.asi1.ai/v1"
	DefaultModel       = "asi1-mini"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.2
	DefaultTimeout     = 30 * time.Second
)

const systemPrompt = "You are a careful research assistant. Follow the requested output format exactly."

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	api         openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	enabled     bool
	logger      *log.Logger
	metrics     metrics.Recorder
}

// New builds a client from cfg. The client is disabled, and every call
// returns ErrCapabilityUnavailable, when the LLM capability is off or no API
// key is configured.
func New(cfg types.LLMConfig, caps types.Capabilities, logger *log.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithHeader("User-Agent", cfg.UserAgent))
	}

	return &Client{
		api:         openai.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		enabled:     caps.LLM && cfg.APIKey != "",
		logger:      logging.OrDiscard(logger).WithPrefix("llm"),
		metrics:     metrics.Nop(),
	}
}

// WithMetrics records completion counts and latencies on r.
func (c *Client) WithMetrics(r metrics.Recorder) *Client {
	c.metrics = metrics.OrNop(r)
	return c
}

// Enabled reports whether calls will reach the model.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// Complete sends prompt as a single user turn and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, c.maxTokens, c.temperature)
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if !c.Enabled() {
		return "", types.ErrCapabilityUnavailable
	}
	done := metrics.TimeOp(c.metrics, "llm_complete")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		done(false)
		c.logger.Warn("completion failed", "model", c.model, "err", err)
		return "", fmt.Errorf("%w: calling %s: %v", types.ErrCapabilityUnavailable, c.model, err)
	}
	if len(resp.Choices) == 0 {
		done(false)
		return "", fmt.Errorf("%w: %s returned no choices", types.ErrCapabilityUnavailable, c.model)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		done(false)
		return "", fmt.Errorf("%w: %s returned empty content", types.ErrCapabilityUnavailable, c.model)
	}
	done(true)
	return text, nil
}
