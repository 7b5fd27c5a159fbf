// Package remote implements tts.Synthesizer against the AgroSpeak speech
// service.
//
// The service takes {"text": "..."} and answers {"audioUrl": "..."}; the
// audio is then fetched from that URL. A relative audioUrl is resolved
// against the endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agrospeak/agrospeak/internal/fallback"
	"github.com/agrospeak/agrospeak/internal/tts"
)

// maxAudioBytes caps a fetched clip.
const maxAudioBytes = 20 << 20

// Synthesizer calls the remote speech endpoint.
type Synthesizer struct {
	endpoint string
	client   *http.Client
}

// New returns a remote synthesizer posting to endpoint.
func New(endpoint string, timeout time.Duration) *Synthesizer {
	return &Synthesizer{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// Synthesize requests an audio reference for text and downloads it.
// Pitch, rate and voice are chosen by the service.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	if s.endpoint == "" {
		return nil, fallback.Errorf(fallback.Unavailable, "no remote speech endpoint configured")
	}

	audioURL, err := s.requestAudioURL(ctx, text)
	if err != nil {
		return nil, err
	}
	slog.Debug("remote speech audio ready", "language", opts.Language, "url", audioURL)
	return s.fetch(ctx, audioURL)
}

// Close is a no-op.
func (s *Synthesizer) Close() error { return nil }

func (s *Synthesizer) requestAudioURL(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("marshalling speak request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating speak request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("speak request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fallback.Errorf(fallback.Status, "speak failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		AudioURL string `json:"audioUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fallback.Wrap(fallback.Parse, fmt.Errorf("decoding speak response: %w", err))
	}
	if strings.TrimSpace(result.AudioURL) == "" {
		return "", fallback.Errorf(fallback.Empty, "speak response has no audioUrl")
	}

	base, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	ref, err := url.Parse(result.AudioURL)
	if err != nil {
		return "", fallback.Wrap(fallback.Parse, fmt.Errorf("parsing audioUrl: %w", err))
	}
	return base.ResolveReference(ref).String(), nil
}

func (s *Synthesizer) fetch(ctx context.Context, audioURL string) (*tts.SynthesizeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating audio request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fallback.Errorf(fallback.Status, "fetching audio (status %d)", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fallback.Errorf(fallback.Empty, "audio at %s is empty", audioURL)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = http.DetectContentType(audio)
	}
	return &tts.SynthesizeResult{Audio: audio, ContentType: ct}, nil
}
