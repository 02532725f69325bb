// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  log.Level
	}{
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"bogus", log.InfoLevel},
		{"", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, New(&bytes.Buffer{}, tt.level).GetLevel())
		})
	}
}

func TestNewWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").WithPrefix("index").Info("indexed capsule", "capsule", "abc")
	assert.Contains(t, buf.String(), "indexed capsule")
	assert.Contains(t, buf.String(), "capsule=abc")
	assert.Contains(t, buf.String(), "index")
}

func TestOrDiscard(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info")
	assert.Same(t, l, OrDiscard(l))

	d := OrDiscard(nil)
	assert.NotNil(t, d)
	d.Error("dropped")
	assert.Empty(t, buf.String())
}
