// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

// OllamaProvider calls a local Ollama server's /api/embed endpoint.
type OllamaProvider struct {
	host  string
	model string
	dims  int
	http  *http.Client
}

// NewOllama returns a provider for model on host.
func NewOllama(host, model string, dims int, client *http.Client) *OllamaProvider {
	if host == "" {
		host = defaultOllamaHost
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaProvider{host: host, model: model, dims: dims, http: client}
}

func (p *OllamaProvider) Name() string    { return "ollama" }
func (p *OllamaProvider) Dimensions() int { return p.dims }

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

// Embed posts inputs to /api/embed.
func (p *OllamaProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	base, err := url.Parse(p.host)
	if err != nil {
		return nil, fmt.Errorf("parsing ollama host: %w", err)
	}
	base.Path = path.Join(base.Path, "/api/embed")

	body, err := json.Marshal(ollamaRequest{Model: p.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	var out ollamaResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", out.Error)
		}
		return nil, fmt.Errorf("ollama returned HTTP %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", decodeErr)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(inputs))
	}
	return out.Embeddings, nil
}
