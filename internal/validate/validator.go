// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate scores a reasoning chain with three independent checks
// (logic, source support, completeness) and folds their decisions into a
// single consensus outcome.
//
// Every check starts at 1.0 and subtracts a fixed penalty for each rule the
// chain violates; the result is clamped to [0,1]. Penalties are additive, so
// rule order does not matter. Validators hold no state between calls.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Decision thresholds shared by all checks.
const (
	approveThreshold  = 0.8
	revisionThreshold = 0.6
)

// Validator inspects a reasoning chain along one quality dimension.
type Validator interface {
	Name() string
	Validate(chain types.ReasoningChain) types.ValidatorResult
}

// scorer accumulates penalties and flags for one validation call.
type scorer struct {
	score float64
	flags []string
}

func newScorer() *scorer {
	return &scorer{score: 1.0}
}

func (s *scorer) penalize(amount float64, format string, args ...any) {
	s.score -= amount
	s.flags = append(s.flags, fmt.Sprintf(format, args...))
}

func (s *scorer) bonus(amount float64) {
	s.score += amount
}

// result clamps the score, maps it to a decision, and renders feedback.
func (s *scorer) result(name string) types.ValidatorResult {
	score := clamp(s.score)
	return types.ValidatorResult{
		ValidatorName: name,
		Decision:      decide(score, len(s.flags)),
		Score:         score,
		Feedback:      feedback(name, score, s.flags),
		Flags:         s.flags,
	}
}

// decide maps a clamped score to a decision. A score at or above the approve
// threshold still needs revision when any rule was flagged.
func decide(score float64, flags int) types.Decision {
	switch {
	case score >= approveThreshold && flags == 0:
		return types.DecisionApprove
	case score >= revisionThreshold:
		return types.DecisionNeedsRevision
	default:
		return types.DecisionReject
	}
}

func feedback(name string, score float64, flags []string) string {
	if len(flags) == 0 {
		return fmt.Sprintf("%s check passed (score %.2f)", name, score)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s check found %d issue(s) (score %.2f):", name, len(flags), score)
	for _, f := range flags {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	return b.String()
}

// clamp bounds v to [0,1] and rounds away float drift from the additive
// penalties so that threshold comparisons are exact.
func clamp(v float64) float64 {
	v = math.Round(v*1e4) / 1e4
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
