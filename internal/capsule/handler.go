// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capsule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// DefaultListLimit caps the rows in a list reply.
const DefaultListLimit = 20

// Indexer adds a persisted capsule to the similarity index.
type Indexer interface {
	Index(ctx context.Context, c types.KnowledgeCapsule) bool
}

// Handler answers capsule store messages: store (the default), retrieve,
// and list.
type Handler struct {
	store     *Store
	indexer   Indexer
	listLimit int
	logger    *log.Logger
	now       func() time.Time
}

// NewHandler returns a Handler over store. indexer may be nil.
func NewHandler(store *Store, indexer Indexer, listLimit int, logger *log.Logger) *Handler {
	if listLimit <= 0 {
		listLimit = DefaultListLimit
	}
	return &Handler{
		store:     store,
		indexer:   indexer,
		listLimit: listLimit,
		logger:    logging.OrDiscard(logger).WithPrefix("capsule"),
		now:       time.Now,
	}
}

// Handle dispatches env on its action metadata and returns the reply
// addressed back to the sender.
func (h *Handler) Handle(ctx context.Context, env types.Envelope) types.Envelope {
	meta := env.Metadata()
	action := strings.ToLower(strings.TrimSpace(meta[types.MetaAction]))

	var (
		text      string
		capsuleID string
	)
	switch action {
	case types.ActionRetrieve:
		id := strings.TrimSpace(meta[types.MetaCapsuleID])
		if id == "" {
			id = strings.TrimSpace(env.Text())
		}
		text, capsuleID = h.retrieve(id)
	case types.ActionList:
		text = h.list()
	default:
		text, capsuleID = h.storeFromMeta(ctx, meta)
	}

	reply := types.Envelope{
		ID:        uuid.NewString(),
		Sender:    env.Recipient,
		Recipient: env.Sender,
		SessionID: env.SessionID,
		Timestamp: h.now().UTC(),
		Contents:  []types.Content{types.TextContent{Text: text}},
	}
	if capsuleID != "" {
		reply.Contents = append(reply.Contents, types.MetadataContent{
			Metadata: map[string]string{types.MetaCapsuleID: capsuleID},
		})
	}
	return reply
}

func (h *Handler) storeFromMeta(ctx context.Context, meta map[string]string) (string, string) {
	var (
		chain types.ReasoningChain
		proof types.ValidationProof
	)
	chainJSON, proofJSON := meta[types.MetaReasoningChain], meta[types.MetaValidationProof]
	if chainJSON == "" || proofJSON == "" ||
		json.Unmarshal([]byte(chainJSON), &chain) != nil ||
		json.Unmarshal([]byte(proofJSON), &proof) != nil {
		h.logger.Warn("store request rejected", "err", types.ErrMissingInput)
		return "Error: Missing reasoning chain or validation proof for capsule creation", ""
	}
	if proof.Outcome.Status != types.StatusVerified {
		h.logger.Warn("store request rejected", "status", proof.Outcome.Status, "err", types.ErrMissingInput)
		return fmt.Sprintf("Error: Validation proof is %s, not VERIFIED; capsule not created", proof.Outcome.Status), ""
	}

	c, indexed, ok := h.Store(ctx, chain, proof)
	if !ok {
		return "Error: Failed to save Knowledge Capsule", ""
	}
	return h.createdText(c, indexed), c.CapsuleID
}

// Store creates, persists, and indexes a capsule. ok is false when the
// document could not be written; indexed reports the index outcome.
func (h *Handler) Store(ctx context.Context, chain types.ReasoningChain, proof types.ValidationProof) (c types.KnowledgeCapsule, indexed, ok bool) {
	c = h.store.Create(chain, proof)
	if !h.store.Persist(c) {
		return c, false, false
	}
	if h.indexer != nil {
		indexed = h.indexer.Index(ctx, c)
	}
	h.logger.Info("capsule created", "capsule", c.CapsuleID, "indexed", indexed)
	return c, indexed, true
}

func (h *Handler) createdText(c types.KnowledgeCapsule, indexed bool) string {
	st := h.store.Stats()
	mark := "no"
	if indexed {
		mark = "yes"
	}

	var b strings.Builder
	b.WriteString("KNOWLEDGE CAPSULE CREATED\n\n")
	fmt.Fprintf(&b, "Capsule ID: %s\n", c.CapsuleID)
	fmt.Fprintf(&b, "Query: %s\n", c.Query)
	fmt.Fprintf(&b, "Type: %s\n", c.ReasoningType)
	fmt.Fprintf(&b, "Confidence: %.2f%%\n", c.Confidence*100)
	fmt.Fprintf(&b, "Validation: %s\n", c.ValidationProof.Outcome.Status)
	fmt.Fprintf(&b, "Indexed: %s\n\n", mark)
	b.WriteString("Knowledge Base Statistics:\n")
	fmt.Fprintf(&b, "- Total Capsules: %d\n", st.TotalCapsules)
	fmt.Fprintf(&b, "- Total Retrievals: %d\n", st.TotalRetrievals)
	return b.String()
}

func (h *Handler) retrieve(id string) (string, string) {
	c, ok := h.store.Retrieve(id)
	if !ok {
		return fmt.Sprintf("Capsule not found: %s", id), ""
	}
	var b strings.Builder
	b.WriteString("KNOWLEDGE CAPSULE RETRIEVED\n\n")
	fmt.Fprintf(&b, "ID: %s\n", c.CapsuleID)
	fmt.Fprintf(&b, "Query: %s\n", c.Query)
	fmt.Fprintf(&b, "Type: %s\n", c.ReasoningType)
	fmt.Fprintf(&b, "Confidence: %.2f%%\n", c.Confidence*100)
	fmt.Fprintf(&b, "Retrieved: %d times\n\n", c.UsageStats.RetrievalCount)
	fmt.Fprintf(&b, "Reasoning:\n%s", c.ReasoningChain.ReasoningSteps)
	return b.String(), c.CapsuleID
}

func (h *Handler) list() string {
	rows := h.store.ListSummaries()

	var b strings.Builder
	b.WriteString("KNOWLEDGE CAPSULE LIBRARY\n\n")
	fmt.Fprintf(&b, "Total Capsules: %d\n\n", len(rows))
	for i, r := range rows {
		if i == h.listLimit {
			fmt.Fprintf(&b, "... and %d more capsules\n", len(rows)-h.listLimit)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.CapsuleID)
		fmt.Fprintf(&b, "   Query: %s\n", truncate(r.Query, 60))
		fmt.Fprintf(&b, "   Type: %s | Confidence: %.2f%%\n", r.ReasoningType, r.Confidence*100)
		fmt.Fprintf(&b, "   Retrieved: %d times\n\n", r.RetrievalCount)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
