package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/fallback"
)

// Client calls the AgroSpeak translation service.
//
//	POST {endpoint}  {"text": "...", "sourceLang": "Bemba", "targetLang": "English"}
//	200              {"translation": "..."}
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a translation client from config.
func NewClient(cfg config.TranslationConfig, timeout time.Duration) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

// Translate implements Translator.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	if err != nil {
		return "", fmt.Errorf("marshalling translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fallback.Errorf(fallback.Status, "translate failed (status %d): %s", resp.StatusCode, respBody)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fallback.Wrap(fallback.Parse, fmt.Errorf("decoding translation: %w", err))
	}

	slog.Debug("translation complete", "source", sourceLang, "target", targetLang, "text_length", len(out.Translation))
	return out.Translation, nil
}
