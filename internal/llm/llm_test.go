// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

// chatServer answers every chat completion with reply and records the
// last request body.
func chatServer(t *testing.T, reply string, last *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if last != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(last))
		}
		content, _ := json.Marshal(reply)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "asi1-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %s}}]
		}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srv *httptest.Server) *Client {
	return New(types.LLMConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "test-key",
	}, types.Capabilities{LLM: true}, nil)
}

func TestDisabledClient(t *testing.T) {
	c := New(types.LLMConfig{APIKey: "k"}, types.Capabilities{}, nil)
	assert.False(t, c.Enabled())
	_, err := c.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)

	noKey := New(types.LLMConfig{}, types.Capabilities{LLM: true}, nil)
	assert.False(t, noKey.Enabled())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}

func TestComplete(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, "  the answer  ", &body)
	c := testClient(srv)

	out, err := c.Complete(context.Background(), "question?")
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
	assert.Equal(t, "asi1-mini", body["model"])
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestCompleteServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv).Complete(context.Background(), "q")
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)
}

func TestCompleteTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(types.LLMConfig{
		HTTPConfig: types.HTTPConfig{Timeout: 50 * time.Millisecond},
		BaseURL:    srv.URL + "/v1/",
		APIKey:     "k",
	}, types.Capabilities{LLM: true}, nil)
	_, err := c.Complete(context.Background(), "q")
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		reply string
		want  types.QueryType
	}{
		{"complex_reasoning", types.QueryComplexReasoning},
		{"Capsule Lookup", types.QueryCapsuleLookup},
		{"`simple_factual`.\nBecause it is a fact.", types.QuerySimpleFactual},
	}
	for _, tc := range cases {
		t.Run(tc.reply, func(t *testing.T) {
			got, err := testClient(chatServer(t, tc.reply, nil)).Classify(context.Background(), "q")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := testClient(chatServer(t, "poetry", nil)).Classify(context.Background(), "q")
	assert.Error(t, err)
}

func TestClassifyReasoningAndConcepts(t *testing.T) {
	rt, err := testClient(chatServer(t, "Causal", nil)).ClassifyReasoning(context.Background(), "why?")
	require.NoError(t, err)
	assert.Equal(t, types.ReasoningCausal, rt)

	concepts, err := testClient(chatServer(t, "neural networks, backpropagation, Neural Networks, ", nil)).
		ExtractConcepts(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"neural networks", "backpropagation"}, concepts)
}

func TestSummarizeUsesAtMostThreeSources(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, "summary", &body)
	sources := []types.WebResult{
		{Title: "One", Snippet: "first"},
		{Title: "Two", Snippet: "second"},
		{Title: "Three", Snippet: "third"},
		{Title: "Four", Snippet: "fourth"},
	}

	out, err := testClient(srv).Summarize(context.Background(), "what?", sources)
	require.NoError(t, err)
	assert.Equal(t, "summary", out)

	msgs := body["messages"].([]any)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Source 1: One")
	assert.Contains(t, user, "Source 3: Three")
	assert.NotContains(t, user, "Four")
}

func TestFallbackClassify(t *testing.T) {
	cases := map[string]types.QueryType{
		"Find previous answers about CNNs":     types.QueryCapsuleLookup,
		"Please verify this proof":             types.QueryValidationRequest,
		"Why do neural networks generalize?":   types.QueryComplexReasoning,
		"Compare CNNs and RNNs":                types.QueryComplexReasoning,
		"What is the capital of France?":       types.QuerySimpleFactual,
		"Show me the weather":                  types.QuerySimpleFactual,
		"Search and explain existing capsules": types.QueryCapsuleLookup,
	}
	for q, want := range cases {
		assert.Equal(t, want, FallbackClassify(q), q)
	}
}

func TestFallbackReasoningType(t *testing.T) {
	assert.Equal(t, types.ReasoningCausal, FallbackReasoningType("Why is the sky blue?"))
	assert.Equal(t, types.ReasoningComparative, FallbackReasoningType("CNN vs RNN"))
	assert.Equal(t, types.ReasoningDeductive, FallbackReasoningType("How does TCP work?"))
	assert.Equal(t, types.ReasoningInductive, FallbackReasoningType("List prime numbers"))
}

func TestFallbackConcepts(t *testing.T) {
	got := FallbackConcepts("How do (neural) networks learn hierarchical representations from data, networks?")
	assert.Equal(t, []string{"neural", "networks", "learn", "hierarchical", "representations"}, got)

	got = FallbackConcepts("alpha bravo charlie delta echoes foxtrot golfer")
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "echoes"}, got)
}

func TestFallbackSummary(t *testing.T) {
	out := FallbackSummary([]types.WebResult{
		{Title: "A", Snippet: "a"},
		{Title: "B", Snippet: "b"},
	})
	assert.Equal(t, "A: a\n\nB: b", out)
}
