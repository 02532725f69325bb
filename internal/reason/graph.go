// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reason

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

//go:embed knowledge.yaml
var defaultGraphYAML []byte

// Graph is a small symbolic knowledge base of reasoning patterns, domain
// rules, and cause-effect links.
type Graph struct {
	Patterns    map[string][]string `yaml:"patterns"`
	DomainRules map[string][]string `yaml:"domain_rules"`
	Causes      map[string][]string `yaml:"causes"`
	Templates   map[string]string   `yaml:"templates"`
	Criteria    []string            `yaml:"criteria"`
}

// DefaultGraph returns the built-in graph.
func DefaultGraph() *Graph {
	g, err := parseGraph(defaultGraphYAML)
	if err != nil {
		panic(fmt.Sprintf("parsing built-in knowledge graph: %v", err))
	}
	return g
}

// LoadGraph reads a graph from a YAML file.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge graph: %w", err)
	}
	g, err := parseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return g, nil
}

func parseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// conceptKey normalizes a concept to the graph's key form.
func conceptKey(concept string) string {
	return strings.Join(strings.Fields(strings.ToLower(concept)), "_")
}

// PatternsFor returns the patterns recorded for a reasoning type.
func (g *Graph) PatternsFor(rt types.ReasoningType) []string {
	if g == nil {
		return nil
	}
	return g.Patterns[string(rt)]
}

// RulesFor returns the domain rules and cause-effect links for concepts,
// in concept order. A plural concept also matches its singular key.
func (g *Graph) RulesFor(concepts []string) []string {
	if g == nil {
		return nil
	}
	var out []string
	for _, c := range concepts {
		key := conceptKey(c)
		rules, ok := g.DomainRules[key]
		if !ok {
			rules = g.DomainRules[strings.TrimSuffix(key, "s")]
		}
		out = append(out, rules...)
		if effects := g.Causes[key]; len(effects) > 0 {
			out = append(out, fmt.Sprintf("%s causes: %s", c, strings.Join(effects, ", ")))
		}
	}
	return out
}

// TemplateFor returns the explanation template for a reasoning type.
func (g *Graph) TemplateFor(rt types.ReasoningType) string {
	if g == nil {
		return ""
	}
	if t, ok := g.Templates[string(rt)]; ok {
		return t
	}
	return g.Templates["default"]
}

// KnowledgeUsed builds the chain's knowledge record. Empty categories are
// omitted.
func (g *Graph) KnowledgeUsed(rt types.ReasoningType, concepts []string) map[string][]string {
	out := map[string][]string{}
	if p := g.PatternsFor(rt); len(p) > 0 {
		out[types.KnowledgePatterns] = p
	}
	if r := g.RulesFor(concepts); len(r) > 0 {
		out[types.KnowledgeDomainRules] = r
	}
	if len(concepts) > 0 {
		out[types.KnowledgeConcepts] = concepts
	}
	return out
}
