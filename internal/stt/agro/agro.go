// Package agro implements stt.Transcriber against the AgroSpeak speech
// backend, which serves local-language (Bemba, Nyanja) recognition.
//
//	POST {endpoint}  multipart/form-data: audio=<recording.wav>, language=<hint>
//	200              {"transcription": "..."}
package agro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/agrospeak/agrospeak/internal/fallback"
	"github.com/agrospeak/agrospeak/internal/stt"
)

// Transcriber posts recordings to the AgroSpeak /transcribe endpoint.
type Transcriber struct {
	endpoint string
	client   *http.Client
}

// New creates a new AgroSpeak transcriber.
func New(endpoint string, timeout time.Duration) *Transcriber {
	return &Transcriber{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "agrospeak" }

// Transcribe uploads audio with the language hint.
func (t *Transcriber) Transcribe(ctx context.Context, audio stt.Audio, opts stt.TranscribeOpts) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "recording"+stt.ExtFromContentType(audio.ContentType))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio.Data)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if opts.Language != "" {
		_ = writer.WriteField("language", strings.ToLower(opts.Language))
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fallback.Errorf(fallback.Status, "transcription failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fallback.Wrap(fallback.Parse, fmt.Errorf("decoding transcription: %w", err))
	}

	slog.Debug("agrospeak transcription complete", "text_length", len(result.Transcription), "language", opts.Language)
	return result.Transcription, nil
}
