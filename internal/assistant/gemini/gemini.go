// Package gemini implements assistant.Client using Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/agrospeak/agrospeak/internal/assistant"
	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/fallback"
)

// Client wraps a genai client bound to one model.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini client. baseURL overrides the API host and is only
// set in tests.
func New(ctx context.Context, cfg config.GeminiConfig, baseURL string) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Name returns the backend identifier.
func (c *Client) Name() string { return "gemini" }

// Complete sends the query with the persona as system instruction.
func (c *Client) Complete(ctx context.Context, r assistant.Request) (string, error) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(r.Temperature)),
	}
	if r.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(r.System, genai.RoleUser)
	}
	if r.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(r.MaxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(r.Query, genai.RoleUser)}, gc)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fallback.Errorf(fallback.Empty, "gemini: no candidates returned")
	}

	text := resp.Text()
	slog.Debug("gemini completion complete", "model", c.model, "length", len(text))
	return text, nil
}
