// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"regexp"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

const minLogicChars = 50

var connectives = []string{
	"therefore", "thus", "because", "since", "follows", "implies",
	"consequently", "hence", "step", "first", "then",
}

// typeKeywords lists the words a chain of each declared type is expected
// to contain at least one of. ReasoningUnknown is not checked.
var typeKeywords = map[types.ReasoningType][]string{
	types.ReasoningDeductive: {
		"therefore", "thus", "hence", "follows", "implies", "consequently",
		"must", "since", "given that", "it follows",
	},
	types.ReasoningInductive: {
		"pattern", "patterns", "observed", "observations", "examples", "generally",
		"typically", "trend", "evidence", "tend", "tends", "most",
	},
	types.ReasoningAbductive: {
		"best explanation", "likely", "hypothesis", "suggests", "plausible",
		"probably", "explains", "explanation",
	},
	types.ReasoningCausal: {
		"because", "cause", "causes", "caused", "effect", "effects", "leads to",
		"results in", "due to", "therefore",
	},
	types.ReasoningComparative: {
		"than", "compared", "whereas", "unlike", "difference", "differences",
		"similar", "similarly", "versus", "while", "both",
	},
}

// contradictoryPairs are word pairs whose co-occurrence signals a possible
// contradiction.
var contradictoryPairs = [][2]string{
	{"true", "false"},
	{"can", "cannot"},
}

var negatedCopula = regexp.MustCompile(`\b(is|are|was|were)\s+not\s+(\w+)`)

// LogicValidator checks that a chain reads as a structured argument.
type LogicValidator struct{}

// Name returns "logic".
func (LogicValidator) Name() string { return "logic" }

// Validate scores the chain's reasoning text for length, connectives,
// contradictions, type consistency, and structure.
func (l LogicValidator) Validate(chain types.ReasoningChain) types.ValidatorResult {
	s := newScorer()
	v := newTextView(chain.ReasoningSteps)

	if v.chars < minLogicChars {
		s.penalize(0.3, "reasoning too brief (%d chars, need %d)", v.chars, minLogicChars)
	}

	if n := v.countDistinct(connectives); n < 2 {
		s.penalize(0.2, "weak logical flow (%d connective words, need 2)", n)
	}

	if signal, ok := findContradiction(v); ok {
		s.penalize(0.25, "possible contradiction: %s", signal)
	}

	if kws, ok := typeKeywords[chain.ReasoningType]; ok && !v.hasAny(kws) {
		s.penalize(0.2, "declared %s reasoning but no %s indicators found", chain.ReasoningType, chain.ReasoningType)
	}

	if !hasListStructure(chain.ReasoningSteps) {
		s.penalize(0.15, "no numbered or bulleted structure")
	}

	return s.result(l.Name())
}

// findContradiction returns the first contradiction signal in v.
func findContradiction(v textView) (string, bool) {
	for _, m := range negatedCopula.FindAllStringSubmatch(v.lower, -1) {
		copula, pred := m[1], m[2]
		affirmed := regexp.MustCompile(`\b` + copula + `\s+` + regexp.QuoteMeta(pred) + `\b`)
		if affirmed.MatchString(v.lower) {
			return "'" + copula + " not " + pred + "' alongside '" + copula + " " + pred + "'", true
		}
	}
	for _, p := range contradictoryPairs {
		if v.set[p[0]] && v.set[p[1]] {
			return "'" + p[0] + "' alongside '" + p[1] + "'", true
		}
	}
	return "", false
}
