// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capsule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

// ExportEntry is the flattened form of a capsule written by the exporters.
type ExportEntry struct {
	CapsuleID      string   `json:"capsule_id" yaml:"capsule_id"`
	Query          string   `json:"query" yaml:"query"`
	ReasoningType  string   `json:"reasoning_type" yaml:"reasoning_type"`
	KeyConcepts    []string `json:"key_concepts" yaml:"key_concepts"`
	ReasoningSteps string   `json:"reasoning_steps" yaml:"reasoning_steps"`
	Confidence     float64  `json:"confidence" yaml:"confidence"`
	Tags           []string `json:"tags" yaml:"tags"`
	CreatedAt      string   `json:"created_at" yaml:"created_at"`
	RetrievalCount int      `json:"retrieval_count" yaml:"retrieval_count"`

	Validation ExportValidation `json:"validation" yaml:"validation"`
}

// ExportValidation holds the proof fields included in each export entry.
type ExportValidation struct {
	ProofID      string  `json:"proof_id" yaml:"proof_id"`
	Status       string  `json:"status" yaml:"status"`
	AverageScore float64 `json:"average_score" yaml:"average_score"`
	AutoApproved bool    `json:"auto_approved" yaml:"auto_approved"`
	Caution      bool    `json:"caution,omitempty" yaml:"caution,omitempty"`
}

// ExportYAML writes every capsule to dir/export.yaml and returns the path.
func (s *Store) ExportYAML(dir string) (string, error) {
	data, err := yaml.Marshal(s.exportEntries())
	if err != nil {
		return "", fmt.Errorf("marshaling YAML: %w", err)
	}
	return writeExport(dir, "export.yaml", data)
}

// ExportJSON writes every capsule to dir/export.json and returns the path.
func (s *Store) ExportJSON(dir string) (string, error) {
	data, err := json.MarshalIndent(s.exportEntries(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return writeExport(dir, "export.json", data)
}

func writeExport(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func (s *Store) exportEntries() []ExportEntry {
	all := s.All()
	entries := make([]ExportEntry, len(all))
	for i, c := range all {
		entries[i] = toExportEntry(c)
	}
	return entries
}

func toExportEntry(c types.KnowledgeCapsule) ExportEntry {
	proof := c.ValidationProof
	return ExportEntry{
		CapsuleID:      c.CapsuleID,
		Query:          c.Query,
		ReasoningType:  string(c.ReasoningType),
		KeyConcepts:    c.KeyConcepts,
		ReasoningSteps: c.ReasoningChain.ReasoningSteps,
		Confidence:     c.Confidence,
		Tags:           c.Metadata.Tags,
		CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
		RetrievalCount: c.UsageStats.RetrievalCount,
		Validation: ExportValidation{
			ProofID:      proof.ProofID,
			Status:       string(proof.Outcome.Status),
			AverageScore: proof.Outcome.AverageScore,
			AutoApproved: proof.AutoApproved,
			Caution:      proof.Outcome.Caution,
		},
	}
}
