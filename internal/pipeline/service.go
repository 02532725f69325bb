// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline sequences a query through classification, research,
// reasoning, validation, and capsule storage, and routes replies between
// the agents that serve each stage.
//
// Per query the states run CLASSIFIED, RESEARCHED, REASONED, VALIDATED and
// end in STORED or DROPPED. Capsule lookups that the index can answer end
// in ANSWERED instead. A REVISION_REQUESTED outcome sends the chain back to
// the reasoning stage with the validators' feedback, at most
// MaxRevisionAttempts times.
package pipeline

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/llm"
	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/internal/metrics"
	"github.com/pdiddy/capsule-engine/internal/reason"
	"github.com/pdiddy/capsule-engine/internal/research"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// State is a step in the per-query state machine.
type State string

const (
	StateClassified State = "CLASSIFIED"
	StateResearched State = "RESEARCHED"
	StateReasoned   State = "REASONED"
	StateValidated  State = "VALIDATED"
	StateStored     State = "STORED"
	StateDropped    State = "DROPPED"
	StateAnswered   State = "ANSWERED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateStored || s == StateDropped || s == StateAnswered
}

// Defaults for PipelineConfig fields left at zero.
const (
	DefaultAutoApproveThreshold = 0.9
	DefaultMaxRevisionAttempts  = 2
)

// Classifier assigns a routing category to a query.
type Classifier interface {
	Classify(ctx context.Context, query string) (types.QueryType, error)
}

// Researcher gathers context for a query.
type Researcher interface {
	Research(ctx context.Context, query string) research.Result
}

// Reasoner produces a reasoning chain.
type Reasoner interface {
	Reason(ctx context.Context, req reason.Request) types.ReasoningChain
}

// Validator scores chains and mints proofs.
type Validator interface {
	Validate(chain types.ReasoningChain) types.ConsensusOutcome
	Prove(outcome types.ConsensusOutcome, chain types.ReasoningChain) (types.ValidationProof, error)
	AutoApprove(chain types.ReasoningChain) types.ValidationProof
}

// CapsuleStorer creates, persists, and indexes a capsule.
type CapsuleStorer interface {
	Store(ctx context.Context, chain types.ReasoningChain, proof types.ValidationProof) (types.KnowledgeCapsule, bool, bool)
}

// Library reads stored capsules and records provenance links.
type Library interface {
	Retrieve(id string) (types.KnowledgeCapsule, bool)
	AddReference(id, by string) bool
}

// Deps are the collaborators of a Service. Classifier may be nil, in which
// case the keyword classifier is used.
type Deps struct {
	Classifier Classifier
	Researcher Researcher
	Reasoner   Reasoner
	Validator  Validator
	Capsules   CapsuleStorer
	Library    Library
	Config     types.PipelineConfig
	Logger     *log.Logger
	Metrics    metrics.Recorder
}

// Result records everything that happened to one query.
type Result struct {
	Query       string                   `json:"query"`
	State       State                    `json:"state"`
	QueryType   types.QueryType          `json:"query_type"`
	Research    research.Result          `json:"research"`
	Chain       *types.ReasoningChain    `json:"reasoning_chain,omitempty"`
	Outcome     *types.ConsensusOutcome  `json:"outcome,omitempty"`
	Proof       *types.ValidationProof   `json:"validation_proof,omitempty"`
	Capsule     *types.KnowledgeCapsule  `json:"capsule,omitempty"`
	Indexed     bool                     `json:"indexed"`
	Answers     []types.KnowledgeCapsule `json:"answers,omitempty"`
	Attempts    int                      `json:"attempts"`
	Transitions []State                  `json:"transitions"`
	DropReason  string                   `json:"drop_reason,omitempty"`
}

func (r *Result) to(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Service runs queries through the pipeline.
type Service struct {
	deps   Deps
	logger *log.Logger
}

// NewService returns a Service. A zero AutoApproveThreshold takes the
// default; a zero MaxRevisionAttempts disables the revision loop.
func NewService(deps Deps) *Service {
	if deps.Config.AutoApproveThreshold <= 0 {
		deps.Config.AutoApproveThreshold = DefaultAutoApproveThreshold
	}
	if deps.Config.MaxRevisionAttempts < 0 {
		deps.Config.MaxRevisionAttempts = 0
	}
	return &Service{deps: deps, logger: logging.OrDiscard(deps.Logger).WithPrefix("pipeline")}
}

// Run takes query to a terminal state.
func (s *Service) Run(ctx context.Context, query string) Result {
	res := Result{Query: query}
	done := metrics.TimeOp(s.deps.Metrics, "pipeline_run")
	defer func() {
		done(res.State == StateStored || res.State == StateAnswered)
		s.logger.Info("query finished", "state", res.State, "type", res.QueryType, "attempts", res.Attempts)
	}()

	res.QueryType = s.classify(ctx, query)
	res.to(StateClassified)

	res.Research = s.deps.Researcher.Research(ctx, query)
	res.to(StateResearched)

	if res.QueryType == types.QueryCapsuleLookup && len(res.Research.Capsules) > 0 {
		for _, hit := range res.Research.Capsules {
			if c, ok := s.deps.Library.Retrieve(hit.CapsuleID); ok {
				res.Answers = append(res.Answers, c)
			}
		}
		if len(res.Answers) > 0 {
			res.to(StateAnswered)
			return res
		}
	}

	var researchContext string
	if res.Research.Sources() > 0 {
		researchContext = research.Format(res.Research)
	}

	var feedback []string
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		chain := s.deps.Reasoner.Reason(ctx, reason.Request{
			Query:    query,
			Context:  researchContext,
			Sources:  res.Research.Sources(),
			Feedback: feedback,
			Attempt:  attempt,
		})
		res.Chain = &chain
		res.Outcome = nil
		res.to(StateReasoned)

		if s.deps.Config.AutoApprove && chain.Confidence >= s.deps.Config.AutoApproveThreshold {
			proof := s.deps.Validator.AutoApprove(chain)
			s.logger.Info("auto-approved", "confidence", chain.Confidence)
			s.store(ctx, &res, chain, proof)
			return res
		}

		outcome := s.deps.Validator.Validate(chain)
		res.Outcome = &outcome
		res.to(StateValidated)

		switch outcome.Status {
		case types.StatusVerified:
			proof, err := s.deps.Validator.Prove(outcome, chain)
			if err != nil {
				s.drop(&res, fmt.Sprintf("minting proof: %v", err))
				return res
			}
			s.store(ctx, &res, chain, proof)
			return res
		case types.StatusRevisionRequested:
			if attempt > s.deps.Config.MaxRevisionAttempts {
				s.drop(&res, fmt.Sprintf("revision requested after %d attempt(s): %s", attempt, outcome.Message))
				return res
			}
			feedback = outcome.Feedback()
			s.logger.Info("revision requested", "attempt", attempt, "flags", len(feedback))
		default:
			s.drop(&res, "rejected: "+outcome.Message)
			return res
		}
	}
}

func (s *Service) classify(ctx context.Context, query string) types.QueryType {
	if s.deps.Classifier != nil {
		qt, err := s.deps.Classifier.Classify(ctx, query)
		if err == nil {
			return qt
		}
		s.logger.Debug("classification fallback", "err", err)
	}
	return llm.FallbackClassify(query)
}

func (s *Service) store(ctx context.Context, res *Result, chain types.ReasoningChain, proof types.ValidationProof) {
	res.Proof = &proof
	c, indexed, ok := s.deps.Capsules.Store(ctx, chain, proof)
	if !ok {
		s.drop(res, "capsule could not be persisted")
		return
	}
	res.Capsule = &c
	res.Indexed = indexed
	for _, id := range res.Research.CapsuleIDs() {
		s.deps.Library.AddReference(id, c.CapsuleID)
	}
	res.to(StateStored)
}

func (s *Service) drop(res *Result, why string) {
	res.DropReason = why
	res.to(StateDropped)
	s.logger.Warn("query dropped", "reason", why)
}
