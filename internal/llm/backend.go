// HTTP backend client for the model server (Ollama-compatible), the last
// stage of the gateway's call path. Uses a pooled http.Transport and a
// configured per-request timeout, matching the pattern the teacher's
// httpclient module documents for outbound HTTP.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Backend is the minimal model-server contract the gateway calls through.
type Backend interface {
	Chat(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// OllamaBackend talks to an Ollama-compatible HTTP API.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

// NewOllamaBackend constructs a backend with a pooled transport and the
// given per-request timeout.
func NewOllamaBackend(baseURL string, timeout time.Duration) *OllamaBackend {
	return &OllamaBackend{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Chat issues a single non-streaming chat completion request.
func (b *OllamaBackend) Chat(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
	}
	var out chatResponse
	if err := b.post(ctx, "/api/chat", reqBody, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed issues a single embedding request.
func (b *OllamaBackend) Embed(ctx context.Context, model, text string) ([]float32, error) {
	reqBody := embedRequest{Model: model, Input: text}
	var out embedResponse
	if err := b.post(ctx, "/api/embed", reqBody, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("llm: backend returned no embeddings")
	}
	return out.Embeddings[0], nil
}

func (b *OllamaBackend) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		// Propagated verbatim: net/http wraps timeouts and connection
		// errors in messages containing "timeout"/"connection", which is
		// exactly the classification withRetry keys on.
		return fmt.Errorf("llm: backend request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("llm: backend server error (connection unstable): status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("llm: backend rejected request: status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}
