package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, ep Endpoint, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	vectors, err := c.embed(ctx, ep, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding per input, in input order. Blank inputs
// are rejected so the result stays aligned with texts.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, ep Endpoint, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		trimmed[i] = strings.TrimSpace(t)
		if trimmed[i] == "" {
			return nil, fmt.Errorf("embedding input %d is empty", i)
		}
	}
	vectors, err := c.embed(ctx, ep, trimmed)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(texts))
	}
	return vectors, nil
}

func (c *OpenAICompatibleClient) embed(ctx context.Context, ep Endpoint, input interface{}) ([][]float32, error) {
	resp, err := c.post(ctx, c.httpClient, ep, "/embeddings", map[string]interface{}{
		"model": ep.Model,
		"input": input,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	result := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		pos := i
		if item.Index >= 0 && item.Index < len(result) {
			pos = item.Index
		}
		result[pos] = item.Embedding
	}
	return result, nil
}

// Embedder binds the client to one embedding model so index builds and
// queries share the same vector space.
type Embedder struct {
	client   *OpenAICompatibleClient
	endpoint Endpoint
}

func NewEmbedder(client *OpenAICompatibleClient, ep Endpoint) *Embedder {
	return &Embedder{client: client, endpoint: ep}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.endpoint, text)
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, e.endpoint, texts)
}
