// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAI returns a provider for model at baseURL (empty for the public
// API). The SDK's own retries are disabled; a failed call is reported as-is.
func NewOpenAI(apiKey, baseURL, model string, dims int, httpClient *http.Client) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   dims,
	}
}

func (p *OpenAIProvider) Name() string    { return "openai" }
func (p *OpenAIProvider) Dimensions() int { return p.dims }

// Embed requests embeddings for inputs, ordered by the response index.
func (p *OpenAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dims > 0 {
		params.Dimensions = openai.Int(int64(p.dims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = f64to32(d.Embedding)
	}
	return out, nil
}
