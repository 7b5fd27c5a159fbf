// Package stt defines speech-to-text transcription for recorded utterances.
//
// Backends implement Transcriber and return errors. The Adapter turns any
// failure into a fixed placeholder so the conversation can always record
// the user's turn and move on.
package stt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// Placeholder is the transcript used when transcription fails.
const Placeholder = "transcription failed, please retry"

// Audio is a captured recording.
type Audio struct {
	// Data is the encoded audio (WAV by default).
	Data []byte

	// ContentType is the MIME type of Data (e.g., "audio/wav").
	ContentType string
}

// Empty reports whether the recording carries no samples.
func (a Audio) Empty() bool { return len(a.Data) == 0 }

// TranscribeOpts controls transcription behavior.
type TranscribeOpts struct {
	// Language is the hint sent to the backend (e.g., "bemba", "en").
	Language string

	// Prompt provides context to improve recognition of domain terms.
	Prompt string
}

// Transcriber converts audio to text.
type Transcriber interface {
	// Name returns the backend identifier (e.g., "agrospeak", "whisper").
	Name() string

	// Transcribe returns the best transcript for audio.
	Transcribe(ctx context.Context, audio Audio, opts TranscribeOpts) (string, error)
}

// Result is the outcome of an Adapter call.
type Result struct {
	Text   string
	Reason fallback.Reason
}

// Failed reports whether Text is the placeholder rather than a transcript.
func (r Result) Failed() bool { return r.Reason.Degraded() }

// Observer receives fallback notifications. Satisfied by metrics.Metrics.
type Observer interface {
	ObserveFallback(adapter string, reason fallback.Reason)
}

// Adapter wraps a Transcriber with the placeholder contract.
type Adapter struct {
	backend  Transcriber
	observer Observer
	logger   *slog.Logger
}

// NewAdapter returns an Adapter over backend.
func NewAdapter(backend Transcriber, observer Observer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{backend: backend, observer: observer, logger: logger}
}

// Transcribe never fails; a failed call yields Placeholder.
func (a *Adapter) Transcribe(ctx context.Context, audio Audio, opts TranscribeOpts) Result {
	if a.backend == nil {
		return a.degrade(fallback.Unavailable, nil)
	}
	if audio.Empty() {
		return a.degrade(fallback.Empty, nil)
	}
	text, err := a.backend.Transcribe(ctx, audio, opts)
	if err != nil {
		return a.degrade(fallback.Classify(err), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return a.degrade(fallback.Empty, nil)
	}
	return Result{Text: text}
}

func (a *Adapter) degrade(reason fallback.Reason, err error) Result {
	a.logger.Warn("transcription failed, using placeholder", "reason", reason.String(), "error", err)
	if a.observer != nil {
		a.observer.ObserveFallback("stt", reason)
	}
	return Result{Text: Placeholder, Reason: reason}
}

// ExtFromContentType picks a filename extension for multipart uploads.
func ExtFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "ogg"):
		return ".ogg"
	case strings.Contains(ct, "mp3"), strings.Contains(ct, "mpeg"):
		return ".mp3"
	case strings.Contains(ct, "flac"):
		return ".flac"
	case strings.Contains(ct, "webm"):
		return ".webm"
	case strings.Contains(ct, "m4a"), strings.Contains(ct, "mp4"):
		return ".m4a"
	default:
		return ".wav"
	}
}
