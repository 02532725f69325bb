// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/capsule-engine/internal/capsule"
	"github.com/pdiddy/capsule-engine/internal/index"
	"github.com/pdiddy/capsule-engine/internal/reason"
	"github.com/pdiddy/capsule-engine/internal/research"
	"github.com/pdiddy/capsule-engine/internal/validate"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// --- fakes ---

type fakeClassifier struct {
	qt  types.QueryType
	err error
}

func (f fakeClassifier) Classify(context.Context, string) (types.QueryType, error) {
	return f.qt, f.err
}

type fakeResearcher struct {
	res research.Result
}

func (f fakeResearcher) Research(_ context.Context, q string) research.Result {
	r := f.res
	r.Query = q
	return r
}

type fakeReasoner struct {
	confidence float64
	requests   []reason.Request
}

func (f *fakeReasoner) Reason(_ context.Context, req reason.Request) types.ReasoningChain {
	f.requests = append(f.requests, req)
	return types.ReasoningChain{
		Query:          req.Query,
		ReasoningType:  types.ReasoningCausal,
		ReasoningSteps: "1. because\n2. therefore",
		Confidence:     f.confidence,
		Metadata:       types.ChainMetadata{Attempt: req.Attempt},
	}
}

// fakeValidator returns statuses in order, repeating the last one.
type fakeValidator struct {
	statuses []types.ConsensusStatus
	calls    int
}

func (f *fakeValidator) Validate(types.ReasoningChain) types.ConsensusOutcome {
	st := f.statuses[min(f.calls, len(f.statuses)-1)]
	f.calls++
	return types.ConsensusOutcome{
		Status:  st,
		Message: string(st),
		PerValidator: map[string]types.ValidatorResult{
			"logic": {ValidatorName: "logic", Decision: types.DecisionNeedsRevision, Flags: []string{"weak logical flow"}},
		},
	}
}

func (f *fakeValidator) Prove(o types.ConsensusOutcome, c types.ReasoningChain) (types.ValidationProof, error) {
	return types.ValidationProof{ProofID: "proof", Outcome: o, ReasoningChain: c}, nil
}

func (f *fakeValidator) AutoApprove(c types.ReasoningChain) types.ValidationProof {
	return types.ValidationProof{ProofID: "auto", ReasoningChain: c, AutoApproved: true}
}

type fakeCapsules struct {
	fail   bool
	stored []types.ValidationProof
}

func (f *fakeCapsules) Store(_ context.Context, chain types.ReasoningChain, proof types.ValidationProof) (types.KnowledgeCapsule, bool, bool) {
	if f.fail {
		return types.KnowledgeCapsule{}, false, false
	}
	f.stored = append(f.stored, proof)
	return types.KnowledgeCapsule{CapsuleID: "new-capsule", Query: chain.Query}, true, true
}

type fakeLibrary struct {
	capsules   map[string]types.KnowledgeCapsule
	retrieved  []string
	references map[string][]string
}

func (f *fakeLibrary) Retrieve(id string) (types.KnowledgeCapsule, bool) {
	c, ok := f.capsules[id]
	if ok {
		f.retrieved = append(f.retrieved, id)
	}
	return c, ok
}

func (f *fakeLibrary) AddReference(id, by string) bool {
	if f.references == nil {
		f.references = map[string][]string{}
	}
	f.references[id] = append(f.references[id], by)
	return true
}

type harness struct {
	reasoner  *fakeReasoner
	validator *fakeValidator
	capsules  *fakeCapsules
	library   *fakeLibrary
	deps      Deps
}

func newHarness(t *testing.T, statuses ...types.ConsensusStatus) *harness {
	t.Helper()
	h := &harness{
		reasoner:  &fakeReasoner{confidence: 0.7},
		validator: &fakeValidator{statuses: statuses},
		capsules:  &fakeCapsules{},
		library:   &fakeLibrary{},
	}
	h.deps = Deps{
		Classifier: fakeClassifier{qt: types.QueryComplexReasoning},
		Researcher: fakeResearcher{},
		Reasoner:   h.reasoner,
		Validator:  h.validator,
		Capsules:   h.capsules,
		Library:    h.library,
		Config:     types.PipelineConfig{MaxRevisionAttempts: 2},
	}
	return h
}

func hitFor(id string) types.SearchHit {
	return types.SearchHit{IndexEntry: types.IndexEntry{CapsuleID: id, Query: "q " + id}, Similarity: 0.9}
}

// --- Service ---

func TestRunVerifiedIsStored(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	h.deps.Researcher = fakeResearcher{res: research.Result{Capsules: []types.SearchHit{hitFor("old1"), hitFor("old2")}}}

	res := NewService(h.deps).Run(context.Background(), "Why is the sky blue?")
	assert.Equal(t, StateStored, res.State)
	assert.Equal(t, []State{StateClassified, StateResearched, StateReasoned, StateValidated, StateStored}, res.Transitions)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Capsule)
	assert.Equal(t, "new-capsule", res.Capsule.CapsuleID)
	assert.Equal(t, "proof", res.Proof.ProofID)
	assert.Equal(t, []string{"new-capsule"}, h.library.references["old1"])
	assert.Equal(t, []string{"new-capsule"}, h.library.references["old2"])

	require.Len(t, h.reasoner.requests, 1)
	req := h.reasoner.requests[0]
	assert.Equal(t, 2, req.Sources)
	assert.Contains(t, req.Context, "# Research Context for Query: Why is the sky blue?")
	assert.Contains(t, res.Reply(), "VERIFIED ANSWER")
	assert.Contains(t, res.Reply(), "Capsule ID: new-capsule")
}

func TestRunWithoutResearchHasNoContext(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	NewService(h.deps).Run(context.Background(), "q")
	require.Len(t, h.reasoner.requests, 1)
	assert.Empty(t, h.reasoner.requests[0].Context)
}

func TestRunAutoApproveBypassesValidators(t *testing.T) {
	h := newHarness(t, types.StatusRejected)
	h.reasoner.confidence = 0.95
	h.deps.Config.AutoApprove = true

	res := NewService(h.deps).Run(context.Background(), "q")
	assert.Equal(t, StateStored, res.State)
	assert.Equal(t, []State{StateClassified, StateResearched, StateReasoned, StateStored}, res.Transitions)
	assert.Equal(t, 0, h.validator.calls)
	assert.True(t, res.Proof.AutoApproved)
	assert.Contains(t, res.Reply(), "Validation: auto-approved")
}

func TestRunAutoApproveBelowThresholdValidates(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	h.reasoner.confidence = 0.89
	h.deps.Config.AutoApprove = true

	res := NewService(h.deps).Run(context.Background(), "q")
	assert.Equal(t, StateStored, res.State)
	assert.Equal(t, 1, h.validator.calls)
	assert.False(t, res.Proof.AutoApproved)
}

func TestRunRevisionLoopStopsAtCap(t *testing.T) {
	h := newHarness(t, types.StatusRevisionRequested)

	res := NewService(h.deps).Run(context.Background(), "q")
	assert.Equal(t, StateDropped, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, h.validator.calls)
	assert.Empty(t, h.capsules.stored)
	assert.Contains(t, res.DropReason, "after 3 attempt(s)")

	require.Len(t, h.reasoner.requests, 3)
	assert.Empty(t, h.reasoner.requests[0].Feedback)
	assert.Equal(t, []string{"logic: weak logical flow"}, h.reasoner.requests[1].Feedback)
	assert.Equal(t, 3, h.reasoner.requests[2].Attempt)
	assert.Contains(t, res.Reply(), "- logic: weak logical flow")
}

func TestRunRevisionDisabled(t *testing.T) {
	h := newHarness(t, types.StatusRevisionRequested)
	h.deps.Config.MaxRevisionAttempts = 0

	res := NewService(h.deps).Run(context.Background(), "q")
	assert.Equal(t, StateDropped, res.State)
	assert.Equal(t, 1, res.Attempts)
}

func TestRunRevisionThenVerified(t *testing.T) {
	h := newHarness(t, types.StatusRevisionRequested, types.StatusVerified)

	res := NewService(h.deps).Run(context.Background(), "q")
	assert.Equal(t, StateStored, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []State{
		StateClassified, StateResearched,
		StateReasoned, StateValidated,
		StateReasoned, StateValidated,
		StateStored,
	}, res.Transitions)
}

func TestRunRejectedIsDropped(t *testing.T) {
	h := newHarness(t, types.StatusRejected)

	res := NewService(h.deps).Run(context.Background(), "q")
	assert.Equal(t, StateDropped, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, h.capsules.stored)
	assert.Contains(t, res.Reply(), "UNVERIFIED ANSWER")
}

func TestRunPersistFailureIsDropped(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	h.capsules.fail = true

	res := NewService(h.deps).Run(context.Background(), "q")
	assert.Equal(t, StateDropped, res.State)
	assert.Nil(t, res.Capsule)
	assert.Equal(t, "capsule could not be persisted", res.DropReason)
}

func TestRunCapsuleLookupAnswered(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	h.deps.Classifier = fakeClassifier{qt: types.QueryCapsuleLookup}
	h.deps.Researcher = fakeResearcher{res: research.Result{Capsules: []types.SearchHit{hitFor("a"), hitFor("gone")}}}
	h.library.capsules = map[string]types.KnowledgeCapsule{"a": {CapsuleID: "a", Query: "old question"}}

	res := NewService(h.deps).Run(context.Background(), "find old question")
	assert.Equal(t, StateAnswered, res.State)
	assert.Equal(t, []string{"a"}, h.library.retrieved)
	assert.Len(t, res.Answers, 1)
	assert.Empty(t, h.reasoner.requests)
	assert.Contains(t, res.Reply(), "VERIFIED KNOWLEDGE FOUND (1 capsule(s))")
}

func TestRunCapsuleLookupWithoutHitsReasons(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	h.deps.Classifier = fakeClassifier{qt: types.QueryCapsuleLookup}

	res := NewService(h.deps).Run(context.Background(), "find anything")
	assert.Equal(t, StateStored, res.State)
	assert.Len(t, h.reasoner.requests, 1)
}

func TestRunClassifierFallback(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	h.deps.Classifier = fakeClassifier{err: errors.New("down")}

	res := NewService(h.deps).Run(context.Background(), "Please verify this proof")
	assert.Equal(t, types.QueryValidationRequest, res.QueryType)

	h.deps.Classifier = nil
	res = NewService(h.deps).Run(context.Background(), "Compare CNNs and RNNs")
	assert.Equal(t, types.QueryComplexReasoning, res.QueryType)
}

// --- end to end over real components ---

func TestServiceEndToEnd(t *testing.T) {
	dir := t.TempDir()
	store, err := capsule.Open(capsule.Options{Dir: dir})
	require.NoError(t, err)
	ix, err := index.Open(index.Options{Dir: dir, Corpus: store.IndexEntries})
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	svc := NewService(Deps{
		Researcher: research.New(research.Options{Index: ix}),
		Reasoner:   reason.New(nil, nil, nil),
		Validator:  validate.NewCoordinator("", nil),
		Capsules:   capsule.NewHandler(store, ix, 0, nil),
		Library:    store,
		Config: types.PipelineConfig{
			AutoApprove:          true,
			AutoApproveThreshold: 0.3,
		},
	})

	first := svc.Run(context.Background(), "How does backpropagation train neural networks?")
	require.Equal(t, StateStored, first.State, first.DropReason)
	assert.False(t, first.Indexed)
	_, err = os.Stat(filepath.Join(dir, "capsules", first.Capsule.CapsuleID+".json"))
	require.NoError(t, err)

	lookup := svc.Run(context.Background(), "retrieve backpropagation neural networks")
	assert.Equal(t, types.QueryCapsuleLookup, lookup.QueryType)
	require.Equal(t, StateAnswered, lookup.State)
	require.Len(t, lookup.Answers, 1)
	assert.Equal(t, first.Capsule.CapsuleID, lookup.Answers[0].CapsuleID)
	assert.Equal(t, 1, lookup.Answers[0].UsageStats.RetrievalCount)
}
