// Package openai implements assistant.Client against OpenAI-compatible
// chat endpoints.
//
// It speaks the Chat Completions format (OpenAI, OpenRouter, vLLM,
// llama.cpp). When the endpoint ends with /api/generate it switches to
// Ollama's native generate format.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agrospeak/agrospeak/internal/assistant"
	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/fallback"
)

// Client calls a chat completion endpoint.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	referer  string
	title    string
	client   *http.Client
}

// New creates a chat client from config.
func New(cfg config.OpenAIConfig, timeout time.Duration) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		referer:  cfg.Referer,
		title:    cfg.Title,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (c *Client) Name() string { return "openai" }

// Complete sends the persona and query and returns the first choice.
func (c *Client) Complete(ctx context.Context, r assistant.Request) (string, error) {
	bodyBytes, err := c.requestBody(r)
	if err != nil {
		return "", fmt.Errorf("marshalling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fallback.Errorf(fallback.Status, "chat failed (status %d): %s", resp.StatusCode, respBody)
	}

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading chat response: %w", err)
	}

	content, ok := extractContent(respData)
	if !ok {
		return "", fallback.Errorf(fallback.Parse, "unrecognised chat response: %.200s", respData)
	}

	slog.Debug("chat completion complete", "model", c.model, "length", len(content))
	return content, nil
}

func (c *Client) requestBody(r assistant.Request) ([]byte, error) {
	if strings.HasSuffix(c.endpoint, "/api/generate") {
		return json.Marshal(generateRequest{
			Model:  c.model,
			System: r.System,
			Prompt: r.Query,
			Stream: false,
			Options: generateOptions{
				NumPredict:  r.MaxTokens,
				Temperature: r.Temperature,
			},
		})
	}
	return json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.Query},
		},
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	})
}

// --- Internal types and helpers ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

func extractContent(data []byte) (string, bool) {
	// OpenAI-compatible format: {"choices": [{"message": {"content": "..."}}]}
	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chatResp); err == nil && len(chatResp.Choices) > 0 {
		return chatResp.Choices[0].Message.Content, true
	}

	// Ollama format: {"response": "..."}
	var ollamaResp struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(data, &ollamaResp); err == nil && ollamaResp.Response != nil {
		return *ollamaResp.Response, true
	}

	return "", false
}
