// Package embedding provides a concrete Embedder backed by a local Ollama
// server. The embedding oracle's own algorithm is out of scope for this
// repo; this package only owns the request/response plumbing to reach it,
// ported from embedding_provider.py's ollama.embeddings(model=..., prompt=...)
// call.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultModel matches the original provider's default.
	DefaultModel = "nomic-embed-text"
	// maxChars truncates the prompt the same way the original provider
	// truncates with text[:max_chars], to keep requests bounded.
	maxChars = 5000
)

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
// There is no Ollama client library in the reference pack, and no other
// HTTP client library appears anywhere in it either, so this single
// request/response round trip is built on net/http directly rather than
// pulling in an unrelated dependency for one JSON POST.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaEmbedder returns an Embedder that talks to an Ollama server at
// baseURL (e.g. "http://127.0.0.1:11434"). If model is empty, DefaultModel
// is used.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if model == "" {
		model = DefaultModel
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for text, truncated to the same
// prompt length the original provider enforced.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxChars {
		text = text[:maxChars]
	}

	body, err := json.Marshal(embeddingsRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding.Embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding.Embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding.Embed: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding.Embed: ollama returned status %d", resp.StatusCode)
	}

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding.Embed: decode response: %w", err)
	}
	return out.Embedding, nil
}
