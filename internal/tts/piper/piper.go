// Package piper implements tts.Synthesizer using a Piper Wyoming server.
//
// Piper is the local ("on-device") voice: it answers English replies and
// stands in for the remote speech service when that fails. Piper has no
// Bemba or Nyanja voices, so those languages are read with the English
// voice unless a voice is configured for them. The Wyoming synthesize
// event carries no prosody controls; pitch and rate are not applied.
package piper

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/tts"
)

// defaultVoices maps ISO-639-1 language codes to Piper voice model names.
var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"sw": "sw_CD-lanfrica-medium",
	"fr": "fr_FR-siwis-medium",
	"pt": "pt_BR-faber-medium",
}

// languageCodes maps session language names to ISO-639-1 codes.
var languageCodes = map[string]string{
	"english":    "en",
	"swahili":    "sw",
	"french":     "fr",
	"portuguese": "pt",
	"bemba":      "bem",
	"nyanja":     "ny",
	"chichewa":   "ny",
	"tonga":      "toi",
	"lozi":       "loz",
}

// Synthesizer implements tts.Synthesizer using the Wyoming protocol.
type Synthesizer struct {
	endpoint  string            // default host:port of the Piper Wyoming server
	endpoints map[string]string // language code -> host:port for per-language instances
	voices    map[string]string // language code -> voice name
	logger    *slog.Logger
}

// New creates a Piper synthesizer from config.
func New(cfg config.PiperConfig, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}

	voices := make(map[string]string, len(defaultVoices)+len(cfg.Voices))
	for k, v := range defaultVoices {
		voices[k] = v
	}
	for k, v := range cfg.Voices {
		voices[langCode(k)] = v
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[langCode(lang)] = cleanEndpoint(ep)
	}

	return &Synthesizer{
		endpoint:  cleanEndpoint(cfg.Endpoint),
		endpoints: endpoints,
		voices:    voices,
		logger:    logger,
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	return strings.TrimPrefix(ep, "http://")
}

// langCode normalises "English", "en" or "EN" to "en". Unknown names are
// lowercased and returned as-is.
func langCode(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	return l
}

// voiceFor picks the voice and endpoint for a language.
func (s *Synthesizer) voiceFor(opts tts.SynthesizeOpts) (voice, endpoint string) {
	code := langCode(opts.Language)

	voice = opts.Voice
	if voice == "" {
		voice = s.voices[code]
	}
	if voice == "" {
		voice = s.voices["en"]
	}

	endpoint = s.endpoints[code]
	if endpoint == "" {
		endpoint = s.endpoint
	}
	return voice, endpoint
}

// Synthesize sends text to the Piper server and returns the audio as WAV.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}

	voice, endpoint := s.voiceFor(opts)
	if endpoint == "" {
		return nil, fmt.Errorf("no piper endpoint configured for language %q", opts.Language)
	}

	s.logger.Debug("piper synthesize", "text_length", len(text), "voice", voice, "language", opts.Language, "endpoint", endpoint)

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	synth := wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text":  text,
			"voice": map[string]any{"name": voice},
		},
	}
	if err := writeEvent(conn, synth, nil); err != nil {
		return nil, fmt.Errorf("sending synthesize event: %w", err)
	}

	// audio-start, audio-chunk*, audio-stop
	var (
		pcm        bytes.Buffer
		sampleRate = 22050
		channels   = 1
		width      = 2
		r          = bufio.NewReader(conn)
	)
	for {
		evt, payload, err := readEvent(r)
		if err != nil {
			return nil, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if v, ok := evt.Data["rate"].(float64); ok {
				sampleRate = int(v)
			}
			if v, ok := evt.Data["channels"].(float64); ok {
				channels = int(v)
			}
			if v, ok := evt.Data["width"].(float64); ok {
				width = int(v)
			}

		case "audio-chunk":
			pcm.Write(payload)

		case "audio-stop":
			s.logger.Debug("piper audio-stop", "pcm_bytes", pcm.Len(), "rate", sampleRate)
			return &tts.SynthesizeResult{
				Audio:       pcmToWAV(pcm.Bytes(), sampleRate, channels, width),
				ContentType: "audio/wav",
				SampleRate:  sampleRate,
				Channels:    channels,
			}, nil

		case "error":
			msg := "unknown error"
			if t, ok := evt.Data["text"].(string); ok {
				msg = t
			}
			return nil, fmt.Errorf("piper error: %s", msg)
		}
	}
}

// Close is a no-op; connections are per-request.
func (s *Synthesizer) Close() error { return nil }
