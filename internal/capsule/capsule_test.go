// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capsule

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := baseTime
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir(), Now: now})
	require.NoError(t, err)
	return s
}

func testChain(query string) types.ReasoningChain {
	return types.ReasoningChain{
		Query:              query,
		ReasoningType:      types.ReasoningCausal,
		KeyConcepts:        []string{"Neural Networks", "backprop", "neural networks", "Gradient Descent", "loss", "weights", "layers"},
		ReasoningSteps:     "Because gradients flow backwards, weights update.",
		Confidence:         0.82,
		RequiresValidation: true,
	}
}

func testProof(chain types.ReasoningChain) types.ValidationProof {
	return types.ValidationProof{
		ProofID:        "proof-1",
		Timestamp:      baseTime,
		ReasoningChain: chain,
		Outcome: types.ConsensusOutcome{
			Status:       types.StatusVerified,
			Approvals:    3,
			AverageScore: 0.93,
		},
	}
}

func TestCreate(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("How do neural networks learn?")
	c := s.Create(chain, testProof(chain))

	assert.Len(t, c.CapsuleID, 16)
	assert.Equal(t, CapsuleID(chain.Query, types.ReasoningCausal, c.CreatedAt), c.CapsuleID)
	assert.Equal(t, types.CapsuleVersion, c.Version)
	assert.Equal(t, c.CreatedAt, c.UpdatedAt)
	assert.Equal(t, "causal", c.Metadata.Category)
	assert.True(t, c.Metadata.RequiresValidation)
	assert.False(t, c.Metadata.AutoApproved)
	assert.Equal(t, []string{"neural-networks", "backprop", "gradient-descent", "loss", "weights"}, c.Metadata.Tags)
	assert.Zero(t, c.UsageStats.RetrievalCount)
	assert.Nil(t, c.UsageStats.LastRetrieved)
}

func TestCreateUniqueIDsUnderFixedClock(t *testing.T) {
	s := newTestStore(t, func() time.Time { return baseTime })
	chain := testChain("same query")

	seen := map[string]bool{}
	for range 50 {
		c := s.Create(chain, testProof(chain))
		require.False(t, seen[c.CapsuleID], "duplicate id %s", c.CapsuleID)
		seen[c.CapsuleID] = true
	}
}

func TestTags(t *testing.T) {
	assert.Equal(t, []string{}, Tags(nil))
	assert.Equal(t, []string{"a-b", "c"}, Tags([]string{"  A   B ", "", "a b", "C"}))
}

func TestPersistRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("Why is the sky blue?")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))

	got, ok := s.Retrieve(c.CapsuleID)
	require.True(t, ok)
	assert.Equal(t, 1, got.UsageStats.RetrievalCount)
	assert.True(t, got.UpdatedAt.Equal(c.UpdatedAt))

	got.UsageStats = c.UsageStats
	want, err := json.Marshal(c)
	require.NoError(t, err)
	have, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(have))
}

func TestAddReferenceKeepsUpdatedAt(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("q")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))

	require.True(t, s.AddReference(c.CapsuleID, "other"))
	got, ok := s.Get(c.CapsuleID)
	require.True(t, ok)
	assert.Equal(t, []string{"other"}, got.UsageStats.ReferencedBy)
	assert.True(t, got.UpdatedAt.Equal(c.CreatedAt))
}

func TestRetrieveWriteFailureReturnsStoredCount(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("q")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))

	s.writeDoc = func(string, any) error { return errors.New("disk full") }
	got, ok := s.Retrieve(c.CapsuleID)
	require.True(t, ok)
	assert.Zero(t, got.UsageStats.RetrievalCount)
	assert.Nil(t, got.UsageStats.LastRetrieved)
	assert.Zero(t, s.Stats().TotalRetrievals)

	s.writeDoc = writeJSON
	got, ok = s.Retrieve(c.CapsuleID)
	require.True(t, ok)
	assert.Equal(t, 1, got.UsageStats.RetrievalCount)
	assert.Equal(t, 1, s.Stats().TotalRetrievals)
}

func TestRetrieveIncrementsUsage(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("q")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))

	first, ok := s.Retrieve(c.CapsuleID)
	require.True(t, ok)
	assert.Equal(t, 1, first.UsageStats.RetrievalCount)
	require.NotNil(t, first.UsageStats.LastRetrieved)

	second, ok := s.Retrieve(c.CapsuleID)
	require.True(t, ok)
	assert.Equal(t, 2, second.UsageStats.RetrievalCount)
	assert.True(t, second.UsageStats.LastRetrieved.After(*first.UsageStats.LastRetrieved))

	stored, ok := s.Get(c.CapsuleID)
	require.True(t, ok)
	assert.Equal(t, 2, stored.UsageStats.RetrievalCount)
	assert.Equal(t, 2, s.Stats().TotalRetrievals)
}

func TestRetrieveConcurrentIncrements(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("q")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := s.Retrieve(c.CapsuleID)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	stored, _ := s.Get(c.CapsuleID)
	assert.Equal(t, 20, stored.UsageStats.RetrievalCount)
	assert.Equal(t, 20, s.Stats().TotalRetrievals)
}

func TestRetrieveUnknown(t *testing.T) {
	s := newTestStore(t, stepClock())
	_, ok := s.Retrieve("0000000000000000")
	assert.False(t, ok)
	_, ok = s.Retrieve("../escape")
	assert.False(t, ok)
	assert.Zero(t, s.Stats().TotalRetrievals)
}

func TestPersistUpdatesStatsOnFirstWriteOnly(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("q")
	c := s.Create(chain, testProof(chain))

	require.True(t, s.Persist(c))
	require.True(t, s.Persist(c))

	st := s.Stats()
	assert.Equal(t, 1, st.TotalCapsules)
	require.NotNil(t, st.LastCapsuleCreated)
	assert.True(t, st.LastCapsuleCreated.Equal(c.CreatedAt))
	assert.False(t, st.CreatedAt.IsZero())
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("q")
	c := s.Create(chain, testProof(chain))

	// A directory in the document's place makes the final rename fail.
	require.NoError(t, os.MkdirAll(s.capsulePath(c.CapsuleID), 0o755))

	assert.False(t, s.Persist(c))
	assert.Zero(t, s.Stats().TotalCapsules)

	leftovers, err := filepath.Glob(filepath.Join(s.Dir(), capsulesDir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestListSummariesSkipsMalformedNewestFirst(t *testing.T) {
	s := newTestStore(t, stepClock())
	var ids []string
	for _, q := range []string{"first", "second", "third"} {
		chain := testChain(q)
		c := s.Create(chain, testProof(chain))
		require.True(t, s.Persist(c))
		ids = append(ids, c.CapsuleID)
	}
	dir := filepath.Join(s.Dir(), capsulesDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	rows := s.ListSummaries()
	require.Len(t, rows, 3)
	assert.Equal(t, ids[2], rows[0].CapsuleID)
	assert.Equal(t, "third", rows[0].Query)
	assert.Equal(t, ids[0], rows[2].CapsuleID)

	entries := s.IndexEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, -1, entries[0].Ordinal)
	assert.Equal(t, "first", entries[0].Query)
}

func TestAddReference(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("q")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))

	assert.True(t, s.AddReference(c.CapsuleID, "later1"))
	assert.True(t, s.AddReference(c.CapsuleID, "later1"))
	assert.True(t, s.AddReference(c.CapsuleID, "later2"))
	assert.False(t, s.AddReference("missing", "later1"))
	assert.False(t, s.AddReference(c.CapsuleID, c.CapsuleID))

	got, _ := s.Get(c.CapsuleID)
	assert.Equal(t, []string{"later1", "later2"}, got.UsageStats.ReferencedBy)
	assert.Zero(t, got.UsageStats.RetrievalCount)
}

func TestExport(t *testing.T) {
	s := newTestStore(t, stepClock())
	chain := testChain("Why is the sky blue?")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))
	out := t.TempDir()

	jsonPath, err := s.ExportJSON(out)
	require.NoError(t, err)
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON []ExportEntry
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	require.Len(t, fromJSON, 1)
	assert.Equal(t, c.CapsuleID, fromJSON[0].CapsuleID)
	assert.Equal(t, "VERIFIED", fromJSON[0].Validation.Status)

	yamlPath, err := s.ExportYAML(out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "export.yaml"), yamlPath)
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var fromYAML []ExportEntry
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	require.Len(t, fromYAML, 1)
	assert.Equal(t, c.Metadata.Tags, fromYAML[0].Tags)
}

// --- handler ---

type recordingIndexer struct {
	mu  sync.Mutex
	ids []string
	ok  bool
}

func (r *recordingIndexer) Index(_ context.Context, c types.KnowledgeCapsule) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, c.CapsuleID)
	return r.ok
}

func metaEnvelope(t *testing.T, meta map[string]string, text string) types.Envelope {
	t.Helper()
	env := types.Envelope{ID: "m1", Sender: "orchestrator", Recipient: "capsule", SessionID: "s1", Timestamp: baseTime}
	if text != "" {
		env.Contents = append(env.Contents, types.TextContent{Text: text})
	}
	if meta != nil {
		env.Contents = append(env.Contents, types.MetadataContent{Metadata: meta})
	}
	return env
}

func storeMeta(t *testing.T, chain types.ReasoningChain, proof types.ValidationProof) map[string]string {
	t.Helper()
	cj, err := json.Marshal(chain)
	require.NoError(t, err)
	pj, err := json.Marshal(proof)
	require.NoError(t, err)
	return map[string]string{
		types.MetaReasoningChain:  string(cj),
		types.MetaValidationProof: string(pj),
	}
}

func TestHandlerStoreDefaultAction(t *testing.T) {
	s := newTestStore(t, stepClock())
	idx := &recordingIndexer{ok: true}
	h := NewHandler(s, idx, 0, nil)

	chain := testChain("How do neural networks learn?")
	reply := h.Handle(context.Background(), metaEnvelope(t, storeMeta(t, chain, testProof(chain)), ""))

	assert.Equal(t, "capsule", reply.Sender)
	assert.Equal(t, "orchestrator", reply.Recipient)
	assert.Equal(t, "s1", reply.SessionID)
	assert.True(t, strings.HasPrefix(reply.Text(), "KNOWLEDGE CAPSULE CREATED"))
	assert.Contains(t, reply.Text(), "Indexed: yes")
	assert.Contains(t, reply.Text(), "- Total Capsules: 1")

	id := reply.Metadata()[types.MetaCapsuleID]
	require.Len(t, id, 16)
	assert.Equal(t, []string{id}, idx.ids)
	_, ok := s.Get(id)
	assert.True(t, ok)
}

func TestHandlerStoreMissingInput(t *testing.T) {
	s := newTestStore(t, stepClock())
	h := NewHandler(s, nil, 0, nil)

	chain := testChain("q")
	cases := map[string]map[string]string{
		"no metadata":    nil,
		"chain only":     {types.MetaReasoningChain: storeMeta(t, chain, testProof(chain))[types.MetaReasoningChain]},
		"malformed":      {types.MetaReasoningChain: "{", types.MetaValidationProof: "{}"},
		"explicit store": {types.MetaAction: "store"},
	}
	for name, meta := range cases {
		t.Run(name, func(t *testing.T) {
			reply := h.Handle(context.Background(), metaEnvelope(t, meta, "hello"))
			assert.Contains(t, reply.Text(), "Missing reasoning chain or validation proof")
			assert.Empty(t, reply.Metadata()[types.MetaCapsuleID])
		})
	}
	assert.Empty(t, s.ListSummaries())
	assert.Zero(t, s.Stats().TotalCapsules)
}

func TestHandlerStoreRequiresVerifiedProof(t *testing.T) {
	s := newTestStore(t, stepClock())
	h := NewHandler(s, nil, 0, nil)
	chain := testChain("q")

	for _, status := range []types.ConsensusStatus{types.StatusRejected, types.StatusRevisionRequested, ""} {
		t.Run(string(status), func(t *testing.T) {
			proof := testProof(chain)
			proof.Outcome.Status = status
			reply := h.Handle(context.Background(), metaEnvelope(t, storeMeta(t, chain, proof), ""))
			assert.Contains(t, reply.Text(), "not VERIFIED")
			assert.Empty(t, reply.Metadata()[types.MetaCapsuleID])
		})
	}
	assert.Zero(t, s.Stats().TotalCapsules)

	proof := testProof(chain)
	proof.AutoApproved = true
	reply := h.Handle(context.Background(), metaEnvelope(t, storeMeta(t, chain, proof), ""))
	assert.True(t, strings.HasPrefix(reply.Text(), "KNOWLEDGE CAPSULE CREATED"))
}

func TestHandlerRetrieve(t *testing.T) {
	s := newTestStore(t, stepClock())
	h := NewHandler(s, nil, 0, nil)
	chain := testChain("Why is the sky blue?")
	c := s.Create(chain, testProof(chain))
	require.True(t, s.Persist(c))

	byText := h.Handle(context.Background(), metaEnvelope(t, map[string]string{types.MetaAction: "retrieve"}, c.CapsuleID))
	assert.True(t, strings.HasPrefix(byText.Text(), "KNOWLEDGE CAPSULE RETRIEVED"))
	assert.Contains(t, byText.Text(), "Retrieved: 1 times")

	byMeta := h.Handle(context.Background(), metaEnvelope(t, map[string]string{
		types.MetaAction:    "retrieve",
		types.MetaCapsuleID: c.CapsuleID,
	}, ""))
	assert.Contains(t, byMeta.Text(), "Retrieved: 2 times")

	missing := h.Handle(context.Background(), metaEnvelope(t, map[string]string{types.MetaAction: "retrieve"}, "ffffffffffffffff"))
	assert.Equal(t, "Capsule not found: ffffffffffffffff", missing.Text())
}

func TestHandlerListLimit(t *testing.T) {
	s := newTestStore(t, stepClock())
	h := NewHandler(s, nil, 2, nil)
	for _, q := range []string{"one", "two", "three"} {
		chain := testChain(q)
		require.True(t, s.Persist(s.Create(chain, testProof(chain))))
	}

	reply := h.Handle(context.Background(), metaEnvelope(t, map[string]string{types.MetaAction: "list"}, ""))
	text := reply.Text()
	assert.Contains(t, text, "Total Capsules: 3")
	assert.Contains(t, text, "1. ")
	assert.Contains(t, text, "2. ")
	assert.NotContains(t, text, "3. ")
	assert.Contains(t, text, "... and 1 more capsules")
	assert.Contains(t, text, "Query: three")
}
