// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package index keeps the semantic index over knowledge capsules: one
// vector per capsule and a parallel list of IndexEntry rows at the same
// ordinals, persisted together in a SQLite file.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/capsule-engine/internal/embed"
	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/internal/metrics"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

const (
	indexFile    = "capsules.index"
	metadataFile = "capsules_metadata.json"
)

// Options configures an Index.
type Options struct {
	// Dir holds capsules.index and capsules_metadata.json.
	Dir string

	// Embedder turns text into vectors. Nil leaves the index in keyword mode.
	Embedder embed.Provider

	Capabilities types.Capabilities

	// NewSearcher builds the nearest-neighbour primitive. Defaults to FlatL2.
	NewSearcher func() Searcher

	// Corpus supplies extra entries for keyword search, typically every
	// stored capsule, so capsules written while embedding was down stay
	// findable.
	Corpus func() []types.IndexEntry

	// EmbedTimeout bounds each embedding call (default 30s).
	EmbedTimeout time.Duration

	Logger *log.Logger

	// Metrics records operation counts and latencies. Nil records nothing.
	Metrics metrics.Recorder
}

// Index is the capsule similarity index. It is safe for concurrent use.
type Index struct {
	mu          sync.RWMutex
	db          *sql.DB
	dir         string
	embedder    embed.Provider
	caps        types.Capabilities
	newSearcher func() Searcher
	searcher    Searcher
	entries     []types.IndexEntry
	dims        int
	corpus      func() []types.IndexEntry
	timeout     time.Duration
	logger      *log.Logger
	metrics     metrics.Recorder
}

// Open opens or creates the index under opts.Dir and loads every stored
// row into memory.
func Open(opts Options) (*Index, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(opts.Dir, indexFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	newSearcher := opts.NewSearcher
	if newSearcher == nil {
		newSearcher = func() Searcher { return NewFlatL2() }
	}
	timeout := opts.EmbedTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ix := &Index{
		db:          db,
		dir:         opts.Dir,
		embedder:    opts.Embedder,
		caps:        opts.Capabilities,
		newSearcher: newSearcher,
		searcher:    newSearcher(),
		corpus:      opts.Corpus,
		timeout:     timeout,
		logger:      logging.OrDiscard(opts.Logger).WithPrefix("index"),
		metrics:     metrics.OrNop(opts.Metrics),
	}

	if err := ix.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := ix.load(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return ix, nil
}

// Close releases the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			ordinal INTEGER PRIMARY KEY,
			capsule_id TEXT NOT NULL,
			query TEXT NOT NULL,
			reasoning_type TEXT,
			content TEXT NOT NULL,
			confidence REAL,
			timestamp TEXT NOT NULL,
			vector BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_capsule_id ON entries(capsule_id)`,
	}
	for _, stmt := range statements {
		if _, err := ix.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (ix *Index) load(ctx context.Context) error {
	var dimsText string
	err := ix.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dims'`).Scan(&dimsText)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("reading dims: %w", err)
	default:
		if ix.dims, err = strconv.Atoi(dimsText); err != nil {
			return fmt.Errorf("parsing dims %q: %w", dimsText, err)
		}
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT ordinal, capsule_id, query, reasoning_type, content, confidence, timestamp, vector
		 FROM entries ORDER BY ordinal`)
	if err != nil {
		return fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e      types.IndexEntry
			rtype  sql.NullString
			ts     string
			vecRaw []byte
		)
		if err := rows.Scan(&e.Ordinal, &e.CapsuleID, &e.Query, &rtype, &e.Content, &e.Confidence, &ts, &vecRaw); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		if e.Ordinal != len(ix.entries) {
			return fmt.Errorf("ordinal gap at %d (expected %d)", e.Ordinal, len(ix.entries))
		}
		e.ReasoningType = types.ReasoningType(rtype.String)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)

		if err := ix.searcher.Add(decodeVector(vecRaw)); err != nil {
			return fmt.Errorf("loading vector %d: %w", e.Ordinal, err)
		}
		ix.entries = append(ix.entries, e)
	}
	return rows.Err()
}

// Len returns the number of indexed capsules.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimensions returns the vector size fixed at first insert, or zero.
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dims
}

// Entries returns a copy of the metadata list in ordinal order.
func (ix *Index) Entries() []types.IndexEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]types.IndexEntry, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// CanEmbed reports whether vector indexing is possible.
func (ix *Index) CanEmbed() bool {
	return ix.caps.Embedding && ix.embedder != nil
}

// Index embeds capsule (query plus reasoning steps) and appends it. It
// returns false when embedding is unavailable or fails, or when the vector
// size does not match the index; the index is unchanged in that case.
func (ix *Index) Index(ctx context.Context, capsule types.KnowledgeCapsule) bool {
	done := metrics.TimeOp(ix.metrics, "index_add")
	if !ix.CanEmbed() {
		ix.logger.Debug("embedding unavailable, capsule not indexed", "capsule", capsule.CapsuleID)
		done(false)
		return false
	}

	vec, err := ix.embed(ctx, searchableText(capsule))
	if err != nil {
		ix.logger.Warn("embedding failed, capsule not indexed", "capsule", capsule.CapsuleID, "err", err)
		done(false)
		return false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.appendLocked(ctx, []types.KnowledgeCapsule{capsule}, [][]float32{vec}); err != nil {
		ix.logger.Error("indexing capsule", "capsule", capsule.CapsuleID, "err", err)
		done(false)
		return false
	}
	ix.writeMirrorLocked()
	ix.logger.Info("indexed capsule", "capsule", capsule.CapsuleID, "total", len(ix.entries))
	done(true)
	return true
}

// Rebuild discards the stored index and re-embeds capsules in order.
// Capsules that fail to embed are reported on w and skipped. It returns
// the number of capsules indexed.
func (ix *Index) Rebuild(ctx context.Context, capsules []types.KnowledgeCapsule, w io.Writer) (int, error) {
	if !ix.CanEmbed() {
		return 0, fmt.Errorf("rebuilding index: %w", types.ErrCapabilityUnavailable)
	}

	var (
		kept []types.KnowledgeCapsule
		vecs [][]float32
	)
	for _, c := range capsules {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		vec, err := ix.embed(ctx, searchableText(c))
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", c.CapsuleID, err)
			continue
		}
		if len(vecs) > 0 && len(vec) != len(vecs[0]) {
			fmt.Fprintf(w, "failed  %s: vector has %d dimensions, expected %d\n", c.CapsuleID, len(vec), len(vecs[0]))
			continue
		}
		kept = append(kept, c)
		vecs = append(vecs, vec)
		fmt.Fprintf(w, "indexed %s\n", c.CapsuleID)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return 0, fmt.Errorf("clearing entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key = 'dims'`); err != nil {
		return 0, fmt.Errorf("clearing dims: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing reset: %w", err)
	}

	ix.entries = nil
	ix.dims = 0
	ix.searcher = ix.newSearcher()

	if len(kept) > 0 {
		if err := ix.appendLocked(ctx, kept, vecs); err != nil {
			return 0, err
		}
	}
	ix.writeMirrorLocked()
	fmt.Fprintf(w, "\nindexed: %d, failed: %d\n", len(kept), len(capsules)-len(kept))
	return len(kept), nil
}

// appendLocked writes capsules and their vectors in one transaction and
// then extends the in-memory state. Callers hold ix.mu.
func (ix *Index) appendLocked(ctx context.Context, capsules []types.KnowledgeCapsule, vecs [][]float32) error {
	dims := ix.dims
	if dims == 0 {
		dims = len(vecs[0])
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("capsule %s: empty vector", capsules[i].CapsuleID)
		}
		if len(v) != dims {
			return fmt.Errorf("capsule %s: vector has %d dimensions, index has %d", capsules[i].CapsuleID, len(v), dims)
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if ix.dims == 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES ('dims', ?)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, strconv.Itoa(dims))
		if err != nil {
			return fmt.Errorf("recording dims: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (ordinal, capsule_id, query, reasoning_type, content, confidence, timestamp, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	added := make([]types.IndexEntry, len(capsules))
	for i, c := range capsules {
		e := types.IndexEntry{
			Ordinal:       len(ix.entries) + i,
			CapsuleID:     c.CapsuleID,
			Query:         c.Query,
			ReasoningType: c.ReasoningType,
			Content:       c.ReasoningChain.ReasoningSteps,
			Confidence:    c.Confidence,
			Timestamp:     c.CreatedAt,
		}
		_, err := stmt.ExecContext(ctx,
			e.Ordinal, e.CapsuleID, e.Query, string(e.ReasoningType), e.Content,
			e.Confidence, e.Timestamp.UTC().Format(time.RFC3339Nano), encodeVector(vecs[i]),
		)
		if err != nil {
			return fmt.Errorf("inserting entry %s: %w", c.CapsuleID, err)
		}
		added[i] = e
	}

	// The searcher takes the vectors before the commit so a rejected vector
	// never leaves a durable row without an in-memory twin.
	for i, e := range added {
		if err := ix.searcher.Add(vecs[i]); err != nil {
			tx.Rollback()
			ix.reloadLocked()
			return fmt.Errorf("adding vector %d: %w", e.Ordinal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		ix.reloadLocked()
		return fmt.Errorf("committing entries: %w", err)
	}
	ix.entries = append(ix.entries, added...)
	ix.dims = dims
	return nil
}

// reloadLocked rebuilds the in-memory searcher and entries from the
// database. Callers hold ix.mu.
func (ix *Index) reloadLocked() {
	ix.entries = nil
	ix.dims = 0
	ix.searcher = ix.newSearcher()
	if err := ix.load(context.Background()); err != nil {
		ix.logger.Error("reloading index", "err", err)
	}
}

func (ix *Index) embed(ctx context.Context, text string) ([]float32, error) {
	done := metrics.TimeOp(ix.metrics, "embed")
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	vec, err := embed.EmbedOne(ctx, ix.embedder, text)
	if err != nil {
		done(false)
		return nil, fmt.Errorf("%w: %v", types.ErrCapabilityUnavailable, err)
	}
	done(true)
	return vec, nil
}

// writeMirrorLocked rewrites capsules_metadata.json. The SQLite file is
// authoritative; a mirror failure is logged only.
func (ix *Index) writeMirrorLocked() {
	entries := ix.entries
	if entries == nil {
		entries = []types.IndexEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		ix.logger.Warn("marshaling metadata mirror", "err", err)
		return
	}
	path := filepath.Join(ix.dir, metadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		ix.logger.Warn("writing metadata mirror", "err", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		ix.logger.Warn("replacing metadata mirror", "err", err)
		os.Remove(tmp)
	}
}

func searchableText(c types.KnowledgeCapsule) string {
	return c.Query + " " + c.ReasoningChain.ReasoningSteps
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
