// Package tts defines text-to-speech synthesis and the per-session
// speech queue.
//
// English replies are synthesized locally. Other languages are requested
// from a remote synthesis service first and fall back to local synthesis
// when that fails.
package tts

import (
	"context"
	"strings"
)

// Default prosody used when a session does not override it.
const (
	DefaultPitch = 1.0
	DefaultRate  = 0.9
)

// SynthesizeOpts controls synthesis behavior.
type SynthesizeOpts struct {
	// Language is the session language (e.g., "English", "Bemba") or an
	// ISO-639-1 code.
	Language string

	// Voice overrides automatic language-based voice selection.
	Voice string

	// Pitch and Rate are prosody multipliers; 1.0 is neutral.
	Pitch float64
	Rate  float64
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Synthesize generates playable audio from the given text.
	Synthesize(ctx context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}

// SynthesizeResult holds the output of TTS synthesis.
type SynthesizeResult struct {
	// Audio is the synthesized audio (WAV for local synthesis, whatever
	// the remote service serves otherwise).
	Audio []byte

	// ContentType is the MIME type of the audio (e.g., "audio/wav").
	ContentType string

	// SampleRate is the audio sample rate in Hz (e.g., 22050). Zero if unknown.
	SampleRate int

	// Channels is the number of audio channels. Zero if unknown.
	Channels int
}

// IsEnglish reports whether lang selects local synthesis.
func IsEnglish(lang string) bool {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "english", "en", "en-us", "en-gb", "eng":
		return true
	}
	return false
}
