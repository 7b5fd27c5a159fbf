package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// ErrClosed is returned by Speak after Close.
var ErrClosed = errors.New("speaker closed")

// queueSize bounds pending speak jobs per session; Speak blocks when full.
const queueSize = 32

// State is the speech output state.
type State int

const (
	Idle State = iota
	RequestingRemoteAudio
	SpeakingRemote
	SpeakingLocal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingRemoteAudio:
		return "requesting_remote_audio"
	case SpeakingRemote:
		return "speaking_remote"
	case SpeakingLocal:
		return "speaking_local"
	default:
		return "unknown"
	}
}

// Path records how a reply was voiced.
type Path string

const (
	PathNone          Path = "none"
	PathLocal         Path = "local"
	PathRemote        Path = "remote"
	PathLocalFallback Path = "local_fallback"
)

// Outcome is the result of one Speak call.
type Outcome struct {
	Path  Path
	Audio *SynthesizeResult

	// Reason is set when remote synthesis was attempted and failed.
	Reason fallback.Reason

	// Err is set when nothing could be played.
	Err error
}

// Observer receives fallback notifications. Satisfied by metrics.Metrics.
type Observer interface {
	ObserveFallback(adapter string, reason fallback.Reason)
}

// SpeakerConfig wires a Speaker.
type SpeakerConfig struct {
	Local    Synthesizer
	Remote   Synthesizer
	Player   Player
	Pitch    float64
	Rate     float64
	Observer Observer
	Logger   *slog.Logger
}

type job struct {
	ctx    context.Context
	text   string
	lang   string
	result chan Outcome
}

// Speaker voices replies one at a time. Concurrent Speak calls are queued
// in arrival order and never overlap.
type Speaker struct {
	local    Synthesizer
	remote   Synthesizer
	player   Player
	pitch    float64
	rate     float64
	observer Observer
	logger   *slog.Logger

	jobs chan *job
	quit chan struct{}
	done chan struct{}

	mu        sync.Mutex
	state     State
	closeOnce sync.Once
}

// NewSpeaker starts the queue worker. Call Close to stop it.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	s := &Speaker{
		local:    cfg.Local,
		remote:   cfg.Remote,
		player:   cfg.Player,
		pitch:    cfg.Pitch,
		rate:     cfg.Rate,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		jobs:     make(chan *job, queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if s.player == nil {
		s.player = NopPlayer{}
	}
	if s.pitch == 0 {
		s.pitch = DefaultPitch
	}
	if s.rate == 0 {
		s.rate = DefaultRate
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	go s.run()
	return s
}

// State returns the current speech state.
func (s *Speaker) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speak queues text and waits for it to be voiced. If ctx ends first the
// call returns early with ctx's error; a job that has not started yet is
// then skipped.
func (s *Speaker) Speak(ctx context.Context, text, lang string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Outcome{Path: PathNone}
	}

	j := &job{ctx: ctx, text: text, lang: lang, result: make(chan Outcome, 1)}
	select {
	case <-s.quit:
		return Outcome{Path: PathNone, Err: ErrClosed}
	default:
	}
	select {
	case s.jobs <- j:
	case <-s.quit:
		return Outcome{Path: PathNone, Err: ErrClosed}
	case <-ctx.Done():
		return Outcome{Path: PathNone, Err: ctx.Err()}
	}

	select {
	case out := <-j.result:
		return out
	case <-s.done:
		select {
		case out := <-j.result:
			return out
		default:
			return Outcome{Path: PathNone, Err: ErrClosed}
		}
	case <-ctx.Done():
		return Outcome{Path: PathNone, Err: ctx.Err()}
	}
}

// Close stops the worker. Queued jobs that have not started get ErrClosed.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func (s *Speaker) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.drain()
			return
		case j := <-s.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- Outcome{Path: PathNone, Err: err}
				continue
			}
			j.result <- s.speak(j.ctx, j.text, j.lang)
		}
	}
}

func (s *Speaker) drain() {
	for {
		select {
		case j := <-s.jobs:
			j.result <- Outcome{Path: PathNone, Err: ErrClosed}
		default:
			return
		}
	}
}

func (s *Speaker) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Speaker) speak(ctx context.Context, text, lang string) Outcome {
	defer s.setState(Idle)

	opts := SynthesizeOpts{Language: lang, Pitch: s.pitch, Rate: s.rate}
	if IsEnglish(lang) || s.remote == nil {
		return s.speakLocal(ctx, text, opts, PathLocal, fallback.None)
	}

	s.setState(RequestingRemoteAudio)
	audio, err := s.remote.Synthesize(ctx, text, opts)
	if err == nil && (audio == nil || len(audio.Audio) == 0) {
		err = fallback.Errorf(fallback.Empty, "remote synthesis returned no audio")
	}
	if err != nil {
		reason := fallback.Classify(err)
		s.logger.Warn("remote synthesis failed, using local voice", "language", lang, "reason", reason, "error", err)
		if s.observer != nil {
			s.observer.ObserveFallback("tts", reason)
		}
		return s.speakLocal(ctx, text, opts, PathLocalFallback, reason)
	}

	s.setState(SpeakingRemote)
	if err := s.player.Play(ctx, audio); err != nil {
		s.logger.Warn("playback failed", "path", PathRemote, "error", err)
		return Outcome{Path: PathRemote, Audio: audio, Err: err}
	}
	return Outcome{Path: PathRemote, Audio: audio}
}

func (s *Speaker) speakLocal(ctx context.Context, text string, opts SynthesizeOpts, path Path, reason fallback.Reason) Outcome {
	if s.local == nil {
		return Outcome{Path: PathNone, Reason: reason, Err: errors.New("no local synthesizer configured")}
	}

	s.setState(SpeakingLocal)
	audio, err := s.local.Synthesize(ctx, text, opts)
	if err != nil {
		s.logger.Warn("local synthesis failed", "language", opts.Language, "error", err)
		return Outcome{Path: PathNone, Reason: reason, Err: err}
	}
	if err := s.player.Play(ctx, audio); err != nil {
		s.logger.Warn("playback failed", "path", path, "error", err)
		return Outcome{Path: path, Audio: audio, Reason: reason, Err: err}
	}
	return Outcome{Path: path, Audio: audio, Reason: reason}
}
