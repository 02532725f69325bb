// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  map[string]string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, OpenAIKey, "  sk-abc123  \n")
				writeFile(t, dir, SemanticScholarKey, "s2_xyz789")
				return dir
			},
			want: map[string]string{
				OpenAIKey:          "sk-abc123",
				SemanticScholarKey: "s2_xyz789",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ASIOneKey, "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: map[string]string{ASIOneKey: "valid-key"},
		},
		{
			name: "skips dotfiles and subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, EmbeddingKey, "ek_real")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: map[string]string{EmbeddingKey: "ek_real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.setup(t), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")

	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "value123", got["good-key"])
	assert.NotContains(t, got, "bad-key")
}

func TestApply(t *testing.T) {
	t.Run("fills empty fields with preferred keys", func(t *testing.T) {
		var cfg types.EngineConfig
		Apply(&cfg, map[string]string{
			OpenAIKey:          "openai",
			ASIOneKey:          "asi",
			SemanticScholarKey: "s2",
		})
		assert.Equal(t, "asi", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.Embedding.APIKey)
		assert.Equal(t, "s2", cfg.Research.SemanticScholarAPIKey)
	})

	t.Run("configured values win", func(t *testing.T) {
		cfg := types.EngineConfig{LLM: types.LLMConfig{APIKey: "from-config"}}
		Apply(&cfg, map[string]string{ASIOneKey: "asi", EmbeddingKey: "emb"})
		assert.Equal(t, "from-config", cfg.LLM.APIKey)
		assert.Equal(t, "emb", cfg.Embedding.APIKey)
		assert.Empty(t, cfg.Research.SemanticScholarAPIKey)
	})
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
