// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reason produces reasoning chains for complex queries. A remote
// model writes the reasoning when it is reachable; otherwise a keyword
// heuristic builds a structured chain from the knowledge graph and any
// research context. Either way the chain records which graph patterns and
// domain rules it drew on.
package reason

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/llm"
	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Confidence levels assigned when the model is not consulted or does not
// report one.
const (
	DefaultModelConfidence      = 0.7
	FallbackContextConfidence   = 0.65
	FallbackNoContextConfidence = 0.4

	// ValidationBar is the confidence below which a chain is marked as
	// requiring validation.
	ValidationBar = 0.9
)

// Model is the subset of the LLM client the reasoner uses.
type Model interface {
	Enabled() bool
	Complete(ctx context.Context, prompt string) (string, error)
	ClassifyReasoning(ctx context.Context, query string) (types.ReasoningType, error)
	ExtractConcepts(ctx context.Context, query string) ([]string, error)
}

// Request is one reasoning job.
type Request struct {
	Query string

	// Context is the markdown research context, empty when research found
	// nothing.
	Context string

	// Sources counts the capsules and web results behind Context.
	Sources int

	// Feedback carries validator feedback from a previous attempt.
	Feedback []string

	// Attempt is 1 for the first pass and increments on each revision.
	Attempt int
}

// Reasoner builds reasoning chains.
type Reasoner struct {
	model  Model
	graph  *Graph
	logger *log.Logger
}

// New returns a reasoner. A nil model always takes the heuristic path; a
// nil graph uses DefaultGraph.
func New(model Model, graph *Graph, logger *log.Logger) *Reasoner {
	if graph == nil {
		graph = DefaultGraph()
	}
	return &Reasoner{
		model:  model,
		graph:  graph,
		logger: logging.OrDiscard(logger).WithPrefix("reason"),
	}
}

// Reason returns a chain for req. It never fails: each model call that is
// unavailable is replaced by its keyword fallback.
func (r *Reasoner) Reason(ctx context.Context, req Request) types.ReasoningChain {
	useModel := r.model != nil && r.model.Enabled()

	rtype := llm.FallbackReasoningType(req.Query)
	if useModel {
		if rt, err := r.model.ClassifyReasoning(ctx, req.Query); err == nil {
			rtype = rt
		} else {
			r.logger.Debug("reasoning type fallback", "err", err)
		}
	}

	concepts := llm.FallbackConcepts(req.Query)
	if useModel {
		if cs, err := r.model.ExtractConcepts(ctx, req.Query); err == nil {
			concepts = cs
		} else {
			r.logger.Debug("concept fallback", "err", err)
		}
	}

	knowledge := r.graph.KnowledgeUsed(rtype, concepts)

	var steps string
	var confidence float64
	if useModel {
		text, err := r.modelSteps(ctx, req, rtype, concepts, knowledge)
		if err == nil {
			steps, confidence = parseConfidence(text)
		} else {
			r.logger.Warn("model reasoning unavailable, using heuristic", "err", err)
		}
	}
	if steps == "" {
		steps = r.heuristicSteps(req, rtype, concepts, knowledge)
		confidence = FallbackNoContextConfidence
		if req.Context != "" {
			confidence = FallbackContextConfidence
		}
	}

	attempt := req.Attempt
	if attempt < 1 {
		attempt = 1
	}
	chain := types.ReasoningChain{
		Query:              req.Query,
		ReasoningType:      rtype,
		KeyConcepts:        concepts,
		ReasoningSteps:     steps,
		Confidence:         confidence,
		RequiresValidation: confidence < ValidationBar,
		Metadata: types.ChainMetadata{
			HasResearchContext: req.Context != "",
			ResearchSources:    req.Sources,
			Attempt:            attempt,
		},
	}
	if len(knowledge) > 0 {
		chain.KnowledgeUsed = knowledge
	}
	r.logger.Info("reasoned", "type", rtype, "concepts", len(concepts),
		"confidence", confidence, "attempt", attempt)
	return chain
}

func (r *Reasoner) modelSteps(ctx context.Context, req Request, rtype types.ReasoningType,
	concepts []string, knowledge map[string][]string) (string, error) {
	prompt, err := renderPrompt(reasoningData{
		Query:    req.Query,
		Type:     string(rtype),
		Concepts: concepts,
		Template: r.graph.TemplateFor(rtype),
		Patterns: knowledge[types.KnowledgePatterns],
		Rules:    knowledge[types.KnowledgeDomainRules],
		Context:  req.Context,
		Feedback: req.Feedback,
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return r.model.Complete(ctx, prompt)
}

// heuristicSteps writes a numbered chain from the query, graph knowledge,
// and research context.
func (r *Reasoner) heuristicSteps(req Request, rtype types.ReasoningType,
	concepts []string, knowledge map[string][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s reasoning\n\n", titleCase(string(rtype)))
	if t := r.graph.TemplateFor(rtype); t != "" {
		fmt.Fprintf(&b, "Approach: %s\n\n", t)
	}

	n := 0
	step := func(format string, args ...any) {
		n++
		fmt.Fprintf(&b, "%d. ", n)
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\n")
	}

	step("First, identify the core question: %s", req.Query)
	if len(concepts) > 0 {
		step("Then, isolate the key concepts: %s.", strings.Join(concepts, ", "))
	}
	for _, p := range knowledge[types.KnowledgePatterns] {
		step("Apply the %s pattern: %s.", rtype, p)
	}
	for _, rule := range knowledge[types.KnowledgeDomainRules] {
		step("Because the domain rule holds (%s), it constrains the answer.", rule)
	}
	if req.Context != "" {
		step("Next, weigh the research context from %d source(s):\n\n%s\n", req.Sources, indent(req.Context))
	} else {
		step("Next, note that no research context was available, so the answer rests on general knowledge.")
	}
	if len(req.Feedback) > 0 {
		step("Then, address the review feedback from the previous attempt:")
		for _, f := range req.Feedback {
			fmt.Fprintf(&b, "   - %s\n", f)
		}
	}

	b.WriteString("\n## Conclusion\n\n")
	subject := "the question"
	if len(concepts) > 0 {
		subject = strings.Join(concepts, ", ")
	}
	fmt.Fprintf(&b, "In conclusion, the answer follows from %s; therefore it should be confirmed by validation before reuse.\n", subject)
	return b.String()
}

var confidenceLine = regexp.MustCompile(`(?im)^[\s*_]*confidence[\s*_]*:[\s*_]*([0-9]*\.?[0-9]+)\s*(%?)[\s*_]*$`)

// parseConfidence extracts and removes a "Confidence: x" line from text.
// Percentages are scaled to [0,1]. Without a usable line the default model
// confidence applies.
func parseConfidence(text string) (string, float64) {
	m := confidenceLine.FindStringSubmatchIndex(text)
	if m == nil {
		return strings.TrimSpace(text), DefaultModelConfidence
	}
	v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
	steps := strings.TrimSpace(text[:m[0]] + text[m[1]:])
	if err != nil {
		return steps, DefaultModelConfidence
	}
	if m[5] > m[4] || v > 1 {
		v /= 100
	}
	if v < 0 || v > 1 {
		return steps, DefaultModelConfidence
	}
	return steps, v
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func indent(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "   " + l
	}
	return strings.Join(lines, "\n")
}
