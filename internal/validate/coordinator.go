// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/internal/metrics"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Coordinator runs every validator on a chain and applies the voting rule.
type Coordinator struct {
	validators []Validator
	policy     types.MixedPolicy
	logger     *log.Logger
	metrics    metrics.Recorder

	// now is replaced in tests.
	now func() time.Time
}

// DefaultValidators returns the logic, source, and completeness checks.
func DefaultValidators() []Validator {
	return []Validator{LogicValidator{}, SourceValidator{}, CompletenessValidator{}}
}

// NewCoordinator returns a coordinator using validators, or the default
// three when none are given. An empty policy means verify-with-caution.
func NewCoordinator(policy types.MixedPolicy, logger *log.Logger, validators ...Validator) *Coordinator {
	if len(validators) == 0 {
		validators = DefaultValidators()
	}
	if policy == "" {
		policy = types.MixedVerifyWithCaution
	}
	return &Coordinator{
		validators: validators,
		policy:     policy,
		logger:     logging.OrDiscard(logger).WithPrefix("validate"),
		metrics:    metrics.Nop(),
		now:        time.Now,
	}
}

// WithMetrics records validator decisions and consensus outcomes on r.
func (c *Coordinator) WithMetrics(r metrics.Recorder) *Coordinator {
	c.metrics = metrics.OrNop(r)
	return c
}

// Validate scores chain with every validator and returns the consensus.
func (c *Coordinator) Validate(chain types.ReasoningChain) types.ConsensusOutcome {
	done := metrics.TimeOp(c.metrics, "validate")

	results := make([]types.ValidatorResult, 0, len(c.validators))
	for _, v := range c.validators {
		r := v.Validate(chain)
		c.metrics.IncDecision(r.ValidatorName, string(r.Decision))
		c.logger.Debug("validator scored", "validator", r.ValidatorName,
			"decision", r.Decision, "score", r.Score, "flags", len(r.Flags))
		results = append(results, r)
	}

	outcome := Tally(results, c.policy)
	outcome.Timestamp = c.now().UTC()
	c.metrics.IncConsensus(string(outcome.Status))
	done(true)

	c.logger.Info("consensus", "status", outcome.Status, "approvals", outcome.Approvals,
		"rejections", outcome.Rejections, "revisions", outcome.Revisions,
		"average", fmt.Sprintf("%.3f", outcome.AverageScore))
	if outcome.Caution {
		c.logger.Warn("verified on a split vote", "query", chain.Query)
	}
	return outcome
}

// Tally applies the voting rule to validator results:
//
//	approvals >= 2  -> VERIFIED
//	rejections >= 2 -> REJECTED
//	otherwise       -> policy (VERIFIED with caution, or REVISION_REQUESTED)
//
// AverageScore is the arithmetic mean of the raw scores.
func Tally(results []types.ValidatorResult, policy types.MixedPolicy) types.ConsensusOutcome {
	out := types.ConsensusOutcome{
		PerValidator: make(map[string]types.ValidatorResult, len(results)),
	}

	var sum float64
	for _, r := range results {
		out.PerValidator[r.ValidatorName] = r
		sum += r.Score
		switch r.Decision {
		case types.DecisionApprove:
			out.Approvals++
		case types.DecisionReject:
			out.Rejections++
		case types.DecisionNeedsRevision:
			out.Revisions++
		}
	}
	if len(results) > 0 {
		out.AverageScore = sum / float64(len(results))
	}

	total := len(results)
	switch {
	case out.Approvals >= 2:
		out.Status = types.StatusVerified
		out.Message = fmt.Sprintf("Approved by %d/%d validators", out.Approvals, total)
	case out.Rejections >= 2:
		out.Status = types.StatusRejected
		out.Message = fmt.Sprintf("Rejected by %d/%d validators", out.Rejections, total)
	case policy == types.MixedRequestRevision:
		out.Status = types.StatusRevisionRequested
		out.Message = fmt.Sprintf("Mixed vote (%d approve, %d reject, %d revise): revision requested",
			out.Approvals, out.Rejections, out.Revisions)
	default:
		out.Status = types.StatusVerified
		out.Caution = true
		out.Message = fmt.Sprintf("Verified with caution: mixed vote (%d approve, %d reject, %d revise)",
			out.Approvals, out.Rejections, out.Revisions)
	}
	return out
}

// Prove mints a validation proof for a verified outcome.
func (c *Coordinator) Prove(outcome types.ConsensusOutcome, chain types.ReasoningChain) (types.ValidationProof, error) {
	if outcome.Status != types.StatusVerified {
		return types.ValidationProof{}, fmt.Errorf("cannot prove %s outcome", outcome.Status)
	}
	return types.ValidationProof{
		ProofID:        uuid.NewString(),
		Timestamp:      c.now().UTC(),
		Outcome:        outcome,
		ReasoningChain: chain,
	}, nil
}

// AutoApprove mints a proof for a chain that bypassed validation on
// confidence alone. The recorded outcome carries no validator votes.
func (c *Coordinator) AutoApprove(chain types.ReasoningChain) types.ValidationProof {
	now := c.now().UTC()
	return types.ValidationProof{
		ProofID:   uuid.NewString(),
		Timestamp: now,
		Outcome: types.ConsensusOutcome{
			Status:       types.StatusVerified,
			AverageScore: chain.Confidence,
			PerValidator: map[string]types.ValidatorResult{},
			Message:      fmt.Sprintf("Auto-approved at confidence %.2f", chain.Confidence),
			Timestamp:    now,
		},
		ReasoningChain: chain,
		AutoApproved:   true,
	}
}
