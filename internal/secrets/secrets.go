// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key
// name and the file contents (trimmed) are the value.
//
// Recognized key files: openai-api-key, asi-one-api-key,
// embedding-api-key, semantic-scholar-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Key file names.
const (
	OpenAIKey          = "openai-api-key"
	ASIOneKey          = "asi-one-api-key"
	EmbeddingKey       = "embedding-api-key"
	SemanticScholarKey = "semantic-scholar-api-key"
)

// Load reads all files in dir and returns a map of filename to trimmed
// contents. A missing directory is not an error. Unreadable files are
// logged and skipped.
func Load(dir string, logger *log.Logger) (map[string]string, error) {
	logger = logging.OrDiscard(logger).WithPrefix("secrets")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", "name", name, "err", err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills empty credential fields of cfg from s. Values already set
// by the config file or environment win. The chat model takes the
// asi-one key before the openai key; embeddings take their own key before
// the openai key.
func Apply(cfg *types.EngineConfig, s map[string]string) {
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := s[k]; v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&cfg.LLM.APIKey, ASIOneKey, OpenAIKey)
	fill(&cfg.Embedding.APIKey, EmbeddingKey, OpenAIKey)
	fill(&cfg.Research.SemanticScholarAPIKey, SemanticScholarKey)
}
