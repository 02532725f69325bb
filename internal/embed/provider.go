// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed turns text into fixed-length vectors for the capsule index.
// Providers are selected by configuration; a disabled provider leaves the
// index in keyword-fallback mode.
package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

// DefaultDimensions is the vector size used when none is configured.
const DefaultDimensions = 384

// Provider defines an embeddings provider.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider name (e.g. "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// New builds the provider named in cfg, adapted to cfg.Dimensions. It
// returns nil and no error when cfg.Provider is empty.
func New(cfg types.EmbeddingConfig) (Provider, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var p Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embeddings: api key required")
		}
		p = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, dims, client)
	case "ollama":
		// Ollama models have a fixed native size; the wrapper coerces it.
		p = NewOllama(cfg.BaseURL, cfg.Model, 0, client)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: use openai or ollama", cfg.Provider)
	}
	return WrapToDims(p, dims), nil
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%s returned %d embeddings for 1 input", p.Name(), len(vecs))
	}
	return vecs[0], nil
}

// Func adapts a plain function into a Provider.
type Func struct {
	ProviderName string
	Dims         int
	Fn           func(ctx context.Context, text string) ([]float32, error)
}

func (f Func) Name() string    { return f.ProviderName }
func (f Func) Dimensions() int { return f.Dims }

func (f Func) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		v, err := f.Fn(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func f64to32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
