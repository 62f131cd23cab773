package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Endpoint addresses one OpenAI-compatible API. An empty APIKey sends no
// Authorization header, which local servers such as Ollama accept.
type Endpoint struct {
	BaseURL string
	APIKey  string
	Model   string
}

type OpenAICompatibleClient struct {
	httpClient   *http.Client
	streamClient *http.Client
}

func NewOpenAICompatibleClient() *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		// Streams are bounded by the caller's context and the per-token
		// timeout instead of a whole-response deadline.
		streamClient: &http.Client{},
	}
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, ep Endpoint, messages []ChatMessage) (string, error) {
	resp, err := c.post(ctx, c.httpClient, ep, "/chat/completions", map[string]interface{}{
		"model":    ep.Model,
		"messages": messages,
		"stream":   false,
	})
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamComplete reads the SSE body and hands every non-empty delta to
// onChunk. It returns the concatenated text once the server sends [DONE]
// or closes the stream.
func (c *OpenAICompatibleClient) StreamComplete(
	ctx context.Context,
	ep Endpoint,
	messages []ChatMessage,
	onChunk func(chunk string) error,
) (string, error) {
	resp, err := c.post(ctx, c.streamClient, ep, "/chat/completions", map[string]interface{}{
		"model":    ep.Model,
		"messages": messages,
		"stream":   true,
	})
	if err != nil {
		return "", fmt.Errorf("llm stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm stream status %d: %s", resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		text := chunk.Choices[0].Delta.Content
		full.WriteString(text)
		if err := onChunk(text); err != nil {
			return "", err
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan llm stream failed: %w", err)
	}
	return full.String(), nil
}

func (c *OpenAICompatibleClient) post(ctx context.Context, client *http.Client, ep Endpoint, path string, body interface{}) (*http.Response, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	url := strings.TrimRight(ep.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	return client.Do(req)
}

// ChatGenerator binds the client to one chat endpoint.
type ChatGenerator struct {
	client   *OpenAICompatibleClient
	endpoint Endpoint
}

func NewChatGenerator(client *OpenAICompatibleClient, ep Endpoint) *ChatGenerator {
	return &ChatGenerator{client: client, endpoint: ep}
}

func (g *ChatGenerator) Generate(ctx context.Context, messages []ChatMessage) (string, error) {
	return g.client.Complete(ctx, g.endpoint, messages)
}

func (g *ChatGenerator) GenerateStream(ctx context.Context, messages []ChatMessage, onToken func(string) error) (string, error) {
	return g.client.StreamComplete(ctx, g.endpoint, messages, onToken)
}
