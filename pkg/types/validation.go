// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Decision is a single validator's verdict.
type Decision string

const (
	DecisionApprove       Decision = "APPROVE"
	DecisionNeedsRevision Decision = "NEEDS_REVISION"
	DecisionReject        Decision = "REJECT"
)

// ConsensusStatus is the aggregate verdict over all validators.
type ConsensusStatus string

const (
	StatusVerified          ConsensusStatus = "VERIFIED"
	StatusRejected          ConsensusStatus = "REJECTED"
	StatusRevisionRequested ConsensusStatus = "REVISION_REQUESTED"
)

// MixedPolicy decides how a genuinely split vote (one approval, one
// rejection, one revision) is resolved.
type MixedPolicy string

const (
	MixedVerifyWithCaution MixedPolicy = "verify_with_caution"
	MixedRequestRevision   MixedPolicy = "request_revision"
)

// ValidatorResult is produced fresh by each validator on every call.
type ValidatorResult struct {
	ValidatorName string   `json:"validator_name" yaml:"validator_name"`
	Decision      Decision `json:"decision" yaml:"decision"`
	Score         float64  `json:"score" yaml:"score"`
	Feedback      string   `json:"feedback" yaml:"feedback"`
	Flags         []string `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// ConsensusOutcome is derived deterministically from the validator results.
type ConsensusOutcome struct {
	Status       ConsensusStatus            `json:"status" yaml:"status"`
	Approvals    int                        `json:"approvals" yaml:"approvals"`
	Rejections   int                        `json:"rejections" yaml:"rejections"`
	Revisions    int                        `json:"revisions" yaml:"revisions"`
	AverageScore float64                    `json:"average_score" yaml:"average_score"`
	PerValidator map[string]ValidatorResult `json:"per_validator" yaml:"per_validator"`

	// Message is a human-readable summary of the vote.
	Message string `json:"message" yaml:"message"`

	// Caution is set when the outcome was verified on a split vote.
	Caution bool `json:"caution,omitempty" yaml:"caution,omitempty"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Feedback collects every validator's flags, prefixed by validator name.
func (o ConsensusOutcome) Feedback() []string {
	var out []string
	for _, name := range ValidatorOrder {
		r, ok := o.PerValidator[name]
		if !ok {
			continue
		}
		for _, f := range r.Flags {
			out = append(out, name+": "+f)
		}
	}
	return out
}

// ValidatorOrder is the fixed order in which validators run and report.
var ValidatorOrder = []string{"logic", "source", "completeness"}

// ValidationProof is the provenance record attached to a capsule. It is
// created only for verified or auto-approved chains.
type ValidationProof struct {
	ProofID        string           `json:"proof_id" yaml:"proof_id"`
	Timestamp      time.Time        `json:"timestamp" yaml:"timestamp"`
	Outcome        ConsensusOutcome `json:"outcome" yaml:"outcome"`
	ReasoningChain ReasoningChain   `json:"reasoning_chain" yaml:"reasoning_chain"`
	AutoApproved   bool             `json:"auto_approved" yaml:"auto_approved"`
}
