// Package whisper implements stt.Transcriber using Whisper-compatible
// endpoints.
//
// Two flavours are supported:
//   - "openai": OpenAI-compatible /v1/audio/transcriptions (OpenAI,
//     whisper.cpp server, faster-whisper)
//   - "asr":    ahmetoner/whisper-asr-webservice (POST /asr with query params)
//
// Whisper has no Bemba model, so this backend suits English sessions or
// deployments that route local languages elsewhere.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/fallback"
	"github.com/agrospeak/agrospeak/internal/stt"
)

// Transcriber calls a Whisper-compatible transcription service.
type Transcriber struct {
	endpoint  string
	flavour   string // "openai" or "asr"
	apiKey    string
	model     string
	vadFilter bool
	client    *http.Client
}

// New creates a Whisper transcriber from config.
func New(endpoint string, cfg config.WhisperConfig, timeout time.Duration) *Transcriber {
	flavour := cfg.Type
	if flavour == "" {
		flavour = "openai"
	}
	return &Transcriber{
		endpoint:  endpoint,
		flavour:   flavour,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		vadFilter: cfg.VADFilter,
		client:    &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "whisper" }

// Transcribe sends audio to the configured Whisper flavour.
func (t *Transcriber) Transcribe(ctx context.Context, audio stt.Audio, opts stt.TranscribeOpts) (string, error) {
	if t.flavour == "asr" {
		return t.transcribeASR(ctx, audio, opts)
	}
	return t.transcribeOpenAI(ctx, audio, opts)
}

// transcribeASR handles the ahmetoner/whisper-asr-webservice format.
// API: POST /asr?task=transcribe&language=en&output=json&vad_filter=true
// Body: multipart/form-data with field "audio_file"
func (t *Transcriber) transcribeASR(ctx context.Context, audio stt.Audio, opts stt.TranscribeOpts) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio_file", "audio"+stt.ExtFromContentType(audio.ContentType))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio.Data)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	writer.Close()

	q := make(url.Values)
	q.Set("task", "transcribe")
	q.Set("output", "json")
	if lang := isoCode(opts.Language); lang != "" {
		q.Set("language", lang)
	}
	if opts.Prompt != "" {
		q.Set("initial_prompt", opts.Prompt)
	}
	if t.vadFilter {
		q.Set("vad_filter", "true")
	}

	reqURL := t.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	slog.Debug("whisper-asr request", "url", reqURL)
	return t.do(req)
}

// transcribeOpenAI handles OpenAI-compatible whisper endpoints.
func (t *Transcriber) transcribeOpenAI(ctx context.Context, audio stt.Audio, opts stt.TranscribeOpts) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio"+stt.ExtFromContentType(audio.ContentType))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio.Data)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if t.model != "" {
		_ = writer.WriteField("model", t.model)
	}
	if lang := isoCode(opts.Language); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if opts.Prompt != "" {
		_ = writer.WriteField("prompt", opts.Prompt)
	}
	_ = writer.WriteField("response_format", "json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	return t.do(req)
}

func (t *Transcriber) do(req *http.Request) (string, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fallback.Errorf(fallback.Status, "whisper transcription failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fallback.Wrap(fallback.Parse, fmt.Errorf("decoding transcription: %w", err))
	}

	slog.Debug("whisper transcription complete", "flavour", t.flavour, "text_length", len(result.Text))
	return result.Text, nil
}

// isoCode converts a display language name to the ISO-639-1 code Whisper
// expects. Languages Whisper does not know are omitted so the service can
// auto-detect.
func isoCode(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if len(l) == 2 {
		return l
	}
	known := map[string]string{
		"english":    "en",
		"french":     "fr",
		"portuguese": "pt",
		"swahili":    "sw",
		"shona":      "sn",
	}
	return known[l]
}
