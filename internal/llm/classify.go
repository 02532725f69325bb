// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

const maxSummarySources = 3

// Keyword tables for the rule-based fallbacks, checked in order.
var (
	lookupWords     = []string{"find", "search", "lookup", "retrieve", "previous", "existing"}
	validationWords = []string{"validate", "verify", "check", "review", "confirm"}
	reasoningWords  = []string{"why", "how", "analyze", "compare", "explain", "reasoning"}

	causalWords      = []string{"why", "cause", "because", "reason"}
	comparativeWords = []string{"compare", "difference", "versus", "vs"}
	deductiveWords   = []string{"explain", "how", "process"}
)

// Classify asks the model for the query's routing category. An
// unrecognized label is an error.
func (c *Client) Classify(ctx context.Context, query string) (types.QueryType, error) {
	prompt, err := renderPrompt(classifyPromptTmpl, queryData{Query: query})
	if err != nil {
		return types.QueryUnknown, fmt.Errorf("rendering prompt: %w", err)
	}
	out, err := c.complete(ctx, prompt, 50, 0.1)
	if err != nil {
		return types.QueryUnknown, err
	}
	label := strings.ReplaceAll(firstLine(out), " ", "_")
	qt := types.ParseQueryType(label)
	if qt == types.QueryUnknown {
		return qt, fmt.Errorf("unrecognized classification %q", out)
	}
	return qt, nil
}

// ClassifyReasoning asks the model which inference pattern the query needs.
func (c *Client) ClassifyReasoning(ctx context.Context, query string) (types.ReasoningType, error) {
	prompt, err := renderPrompt(reasoningTypePromptTmpl, queryData{Query: query})
	if err != nil {
		return types.ReasoningUnknown, fmt.Errorf("rendering prompt: %w", err)
	}
	out, err := c.complete(ctx, prompt, 20, 0.1)
	if err != nil {
		return types.ReasoningUnknown, err
	}
	rt := types.ParseReasoningType(firstLine(out))
	if rt == types.ReasoningUnknown {
		return rt, fmt.Errorf("unrecognized reasoning type %q", out)
	}
	return rt, nil
}

// ExtractConcepts asks the model for the query's key concepts.
func (c *Client) ExtractConcepts(ctx context.Context, query string) ([]string, error) {
	prompt, err := renderPrompt(conceptsPromptTmpl, queryData{Query: query})
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}
	out, err := c.complete(ctx, prompt, 100, 0.1)
	if err != nil {
		return nil, err
	}
	var concepts []string
	seen := map[string]bool{}
	for _, part := range strings.Split(firstLine(out), ",") {
		p := strings.TrimSpace(part)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		concepts = append(concepts, p)
	}
	if len(concepts) == 0 {
		return nil, fmt.Errorf("no concepts in %q", out)
	}
	return concepts, nil
}

// Summarize asks the model to answer query from at most three sources.
func (c *Client) Summarize(ctx context.Context, query string, sources []types.WebResult) (string, error) {
	if len(sources) > maxSummarySources {
		sources = sources[:maxSummarySources]
	}
	prompt, err := renderPrompt(summaryPromptTmpl, summaryData{Query: query, Sources: sources})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return c.complete(ctx, prompt, 500, 0.7)
}

// FallbackClassify assigns a routing category from keywords: lookups,
// then validation requests, then reasoning questions; anything else is
// simple_factual.
func FallbackClassify(query string) types.QueryType {
	words := wordSet(query)
	switch {
	case words.any(lookupWords):
		return types.QueryCapsuleLookup
	case words.any(validationWords):
		return types.QueryValidationRequest
	case words.any(reasoningWords):
		return types.QueryComplexReasoning
	default:
		return types.QuerySimpleFactual
	}
}

// FallbackReasoningType picks an inference pattern from keywords, defaulting
// to inductive.
func FallbackReasoningType(query string) types.ReasoningType {
	words := wordSet(query)
	switch {
	case words.any(causalWords):
		return types.ReasoningCausal
	case words.any(comparativeWords):
		return types.ReasoningComparative
	case words.any(deductiveWords):
		return types.ReasoningDeductive
	default:
		return types.ReasoningInductive
	}
}

// FallbackConcepts returns the first five distinct words longer than four
// characters, stripped of punctuation.
func FallbackConcepts(query string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(query) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(w)) <= 4 || seen[strings.ToLower(w)] {
			continue
		}
		seen[strings.ToLower(w)] = true
		out = append(out, w)
		if len(out) == 5 {
			break
		}
	}
	return out
}

// FallbackSummary concatenates source snippets when the model is unavailable.
func FallbackSummary(sources []types.WebResult) string {
	var b strings.Builder
	for i, s := range sources {
		if i == maxSummarySources {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s: %s", s.Title, s.Snippet)
	}
	return b.String()
}

type words map[string]bool

func wordSet(s string) words {
	set := words{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[f] = true
	}
	return set
}

func (w words) any(list []string) bool {
	for _, k := range list {
		if w[k] {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(strings.TrimSpace(s), "`*.\"'")
}
