// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package capsule persists knowledge capsules as one JSON document each,
// tracks their usage, and maintains the store-wide stats document.
package capsule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/internal/metrics"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

const (
	capsulesDir = "capsules"
	statsFile   = "capsule_stats.json"
	maxTags     = 5
)

// Options configures a Store.
type Options struct {
	// Dir is the base directory (default "data/knowledge_capsules").
	Dir string

	Logger *log.Logger

	// Metrics records operation counts and latencies. Nil records nothing.
	Metrics metrics.Recorder

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store manages capsule documents under Dir/capsules and the stats
// document Dir/capsule_stats.json. It is safe for concurrent use.
type Store struct {
	dir     string
	logger  *log.Logger
	metrics metrics.Recorder
	now     func() time.Time

	locks sync.Map // capsule id -> *sync.Mutex

	statsMu sync.Mutex

	// writeDoc writes capsule documents; tests replace it to inject failures.
	writeDoc func(path string, v any) error

	idMu     sync.Mutex
	lastInst time.Time
}

// Open prepares the store directories and the stats document.
func Open(opts Options) (*Store, error) {
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join("data", "knowledge_capsules")
	}
	if err := os.MkdirAll(filepath.Join(dir, capsulesDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating capsule directory: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		dir:      dir,
		logger:   logging.OrDiscard(opts.Logger).WithPrefix("capsule"),
		metrics:  metrics.OrNop(opts.Metrics),
		now:      now,
		writeDoc: writeJSON,
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if _, err := os.Stat(s.statsPath()); errors.Is(err, fs.ErrNotExist) {
		if err := writeJSON(s.statsPath(), types.StoreStats{CreatedAt: s.now().UTC()}); err != nil {
			return nil, fmt.Errorf("creating stats document: %w", err)
		}
	}
	return s, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) capsulePath(id string) string {
	return filepath.Join(s.dir, capsulesDir, id+".json")
}

func (s *Store) statsPath() string {
	return filepath.Join(s.dir, statsFile)
}

func (s *Store) lock(id string) func() {
	m, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// nextInstant returns a creation instant strictly later than any previous
// one from this store, so ids stay unique within a process.
func (s *Store) nextInstant() time.Time {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	t := s.now().UTC()
	if !t.After(s.lastInst) {
		t = s.lastInst.Add(time.Nanosecond)
	}
	s.lastInst = t
	return t
}

// CapsuleID derives the 16 hex character id for a query, reasoning type,
// and creation instant.
func CapsuleID(query string, rtype types.ReasoningType, at time.Time) string {
	sum := sha256.Sum256([]byte(query + "_" + string(rtype) + "_" + at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// Create builds a capsule from a validated chain and its proof. Nothing is
// written; call Persist.
func (s *Store) Create(chain types.ReasoningChain, proof types.ValidationProof) types.KnowledgeCapsule {
	at := s.nextInstant()
	rtype := chain.ReasoningType
	if rtype == "" {
		rtype = types.ReasoningUnknown
	}
	return types.KnowledgeCapsule{
		CapsuleID:       CapsuleID(chain.Query, rtype, at),
		Version:         types.CapsuleVersion,
		CreatedAt:       at,
		UpdatedAt:       at,
		Query:           chain.Query,
		ReasoningType:   rtype,
		KeyConcepts:     chain.KeyConcepts,
		Confidence:      chain.Confidence,
		ReasoningChain:  chain,
		ValidationProof: proof,
		Metadata: types.CapsuleMetadata{
			AutoApproved:       proof.AutoApproved,
			RequiresValidation: chain.RequiresValidation,
			Tags:               Tags(chain.KeyConcepts),
			Category:           string(rtype),
		},
	}
}

// Tags turns key concepts into at most five lower-case, hyphenated,
// de-duplicated tags in concept order.
func Tags(concepts []string) []string {
	tags := []string{}
	seen := map[string]bool{}
	for _, c := range concepts {
		tag := strings.Join(strings.Fields(strings.ToLower(c)), "-")
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

// Persist writes the capsule document, replacing any earlier version. On
// failure it logs and returns false, leaving the previous document intact.
// The first write of an id updates the stats document.
func (s *Store) Persist(c types.KnowledgeCapsule) bool {
	done := metrics.TimeOp(s.metrics, "capsule_persist")
	if c.CapsuleID == "" {
		s.logger.Error("refusing to persist capsule without id")
		done(false)
		return false
	}

	unlock := s.lock(c.CapsuleID)
	_, statErr := os.Stat(s.capsulePath(c.CapsuleID))
	isNew := errors.Is(statErr, fs.ErrNotExist)
	err := s.writeDoc(s.capsulePath(c.CapsuleID), c)
	unlock()

	if err != nil {
		s.logger.Error("persisting capsule", "capsule", c.CapsuleID, "err", err)
		done(false)
		return false
	}

	if isNew {
		created := c.CreatedAt
		s.updateStats(func(st *types.StoreStats) {
			st.TotalCapsules++
			st.LastCapsuleCreated = &created
		})
	}
	s.logger.Debug("persisted capsule", "capsule", c.CapsuleID, "new", isNew)
	done(true)
	return true
}

// Get reads a capsule without touching its usage stats.
func (s *Store) Get(id string) (types.KnowledgeCapsule, bool) {
	if !validID(id) {
		return types.KnowledgeCapsule{}, false
	}
	unlock := s.lock(id)
	defer unlock()
	c, err := s.read(id)
	if err != nil {
		return types.KnowledgeCapsule{}, false
	}
	return c, true
}

// Retrieve reads a capsule and records the retrieval: the capsule's
// retrieval count and last-retrieved time, and the store's total
// retrievals. If the retrieval cannot be written the capsule is returned
// as stored. An unknown id returns false.
func (s *Store) Retrieve(id string) (types.KnowledgeCapsule, bool) {
	done := metrics.TimeOp(s.metrics, "capsule_retrieve")
	if !validID(id) {
		done(false)
		return types.KnowledgeCapsule{}, false
	}

	unlock := s.lock(id)
	c, err := s.read(id)
	if err != nil {
		unlock()
		if !errors.Is(err, types.ErrNotFound) {
			s.logger.Warn("reading capsule", "capsule", id, "err", err)
		}
		done(false)
		return types.KnowledgeCapsule{}, false
	}

	stored := c
	now := s.now().UTC()
	c.UsageStats.RetrievalCount++
	c.UsageStats.LastRetrieved = &now
	if err := s.writeDoc(s.capsulePath(id), c); err != nil {
		unlock()
		s.logger.Error("recording retrieval", "capsule", id, "err", err)
		done(true)
		return stored, true
	}
	unlock()

	s.updateStats(func(st *types.StoreStats) { st.TotalRetrievals++ })
	done(true)
	return c, true
}

// AddReference records that capsule by used capsule id as research
// context. It returns false if id is unknown.
func (s *Store) AddReference(id, by string) bool {
	if !validID(id) || id == by {
		return false
	}
	unlock := s.lock(id)
	defer unlock()

	c, err := s.read(id)
	if err != nil {
		return false
	}
	for _, ref := range c.UsageStats.ReferencedBy {
		if ref == by {
			return true
		}
	}
	c.UsageStats.ReferencedBy = append(c.UsageStats.ReferencedBy, by)
	if err := s.writeDoc(s.capsulePath(id), c); err != nil {
		s.logger.Error("recording reference", "capsule", id, "err", err)
		return false
	}
	return true
}

// All returns every readable capsule, oldest first. Malformed documents
// are skipped.
func (s *Store) All() []types.KnowledgeCapsule {
	dir := filepath.Join(s.dir, capsulesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("listing capsules", "err", err)
		return nil
	}

	var out []types.KnowledgeCapsule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		c, err := s.read(id)
		if err != nil {
			s.logger.Warn("skipping capsule document", "file", entry.Name(), "err", err)
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CapsuleID < out[j].CapsuleID
	})
	return out
}

// ListSummaries returns one row per readable capsule, newest first.
func (s *Store) ListSummaries() []types.CapsuleSummary {
	all := s.All()
	out := make([]types.CapsuleSummary, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i].Summary())
	}
	return out
}

// IndexEntries describes every stored capsule as an unindexed entry
// (ordinal -1) for keyword search.
func (s *Store) IndexEntries() []types.IndexEntry {
	all := s.All()
	out := make([]types.IndexEntry, len(all))
	for i, c := range all {
		out[i] = types.IndexEntry{
			Ordinal:       -1,
			CapsuleID:     c.CapsuleID,
			Query:         c.Query,
			ReasoningType: c.ReasoningType,
			Content:       c.ReasoningChain.ReasoningSteps,
			Confidence:    c.Confidence,
			Timestamp:     c.CreatedAt,
		}
	}
	return out
}

// Stats returns the stats document. A missing or unreadable document
// yields zero counts.
func (s *Store) Stats() types.StoreStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.readStats()
}

func (s *Store) readStats() types.StoreStats {
	var st types.StoreStats
	data, err := os.ReadFile(s.statsPath())
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("parsing stats document", "err", err)
		return types.StoreStats{}
	}
	return st
}

func (s *Store) updateStats(fn func(*types.StoreStats)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.readStats()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = s.now().UTC()
	}
	fn(&st)
	if err := writeJSON(s.statsPath(), st); err != nil {
		s.logger.Error("writing stats document", "err", err)
	}
}

func (s *Store) read(id string) (types.KnowledgeCapsule, error) {
	data, err := os.ReadFile(s.capsulePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.KnowledgeCapsule{}, types.ErrNotFound
		}
		return types.KnowledgeCapsule{}, fmt.Errorf("reading capsule %s: %w", id, err)
	}
	var c types.KnowledgeCapsule
	if err := json.Unmarshal(data, &c); err != nil {
		return types.KnowledgeCapsule{}, fmt.Errorf("parsing capsule %s: %w", id, err)
	}
	if c.CapsuleID == "" {
		return types.KnowledgeCapsule{}, fmt.Errorf("parsing capsule %s: missing capsule_id", id)
	}
	return c, nil
}

// validID rejects ids that would escape the capsule directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// writeJSON replaces path atomically via a temp file in the same directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
