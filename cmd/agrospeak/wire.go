package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/agrospeak/agrospeak/internal/action"
	"github.com/agrospeak/agrospeak/internal/assistant"
	"github.com/agrospeak/agrospeak/internal/assistant/gemini"
	"github.com/agrospeak/agrospeak/internal/assistant/openai"
	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/conversation"
	"github.com/agrospeak/agrospeak/internal/dispatch"
	"github.com/agrospeak/agrospeak/internal/metrics"
	"github.com/agrospeak/agrospeak/internal/profile"
	"github.com/agrospeak/agrospeak/internal/store"
	"github.com/agrospeak/agrospeak/internal/stt"
	"github.com/agrospeak/agrospeak/internal/stt/agro"
	"github.com/agrospeak/agrospeak/internal/stt/whisper"
	"github.com/agrospeak/agrospeak/internal/translate"
	"github.com/agrospeak/agrospeak/internal/tts"
	"github.com/agrospeak/agrospeak/internal/tts/piper"
	"github.com/agrospeak/agrospeak/internal/tts/remote"
	"github.com/agrospeak/agrospeak/internal/weather"
)

// transcribePrompt biases recognition towards farming vocabulary.
const transcribePrompt = "Farming in Zambia: maize, cassava, groundnuts, fertilizer, rainfall, soil, market prices."

// app is the assembled service.
type app struct {
	manager    *conversation.Manager
	dispatcher *dispatch.Dispatcher
	archive    *store.SQLiteStore
	speech     bool
	closers    []func() error
}

// Close releases everything buildApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// buildApp wires every adapter from cfg. reg may be nil to skip metrics
// registration.
func buildApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (_ *app, err error) {
	logger := slog.Default()
	timeout := cfg.Timeouts.Network
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	// Speech input.
	var transcriber stt.Transcriber
	switch cfg.STT.Backend {
	case "whisper":
		transcriber = whisper.New(cfg.STT.Endpoint, cfg.STT.Whisper, timeout)
	default:
		transcriber = agro.New(cfg.STT.Endpoint, timeout)
	}
	logger.Info("using transcriber", "backend", transcriber.Name(), "endpoint", cfg.STT.Endpoint)

	// Remote assistant.
	var backend assistant.Client
	switch cfg.Assistant.Backend {
	case "gemini":
		backend, err = gemini.New(ctx, cfg.Assistant.Gemini, "")
		if err != nil {
			return nil, err
		}
	default:
		backend = openai.New(cfg.Assistant.OpenAI, timeout)
	}
	logger.Info("using assistant", "backend", backend.Name())

	// Local handlers.
	var cache weather.Cache
	switch cfg.Weather.CacheBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Weather.RedisAddr, Password: cfg.Weather.RedisPassword})
		a.closers = append(a.closers, rdb.Close)
		cache = weather.NewRedisCache(rdb)
	default:
		cache = weather.NewMemoryCache()
	}
	weatherClient := weather.NewClient(cfg.Backend.BaseURL, timeout,
		weather.WithCache(cache, cfg.Weather.CacheTTL),
		weather.WithForecastDays(cfg.Weather.ForecastDays),
		weather.WithLogger(logger),
	)
	handlers := action.Handlers(action.Config{
		Weather: weatherClient,
		Profile: profile.NewClient(cfg.Backend.BaseURL, timeout),
		DefaultLocation: conversation.Location{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
			Name:      cfg.Location.Name,
		},
	})

	deps := conversation.Deps{
		Recorder:    conversation.BufferRecorder{MaxBytes: cfg.Session.MaxAudioBytes},
		Transcriber: stt.NewAdapter(transcriber, m, logger),
		Translator:  translate.NewAdapter(translate.NewClient(cfg.Translation, timeout), m, logger),
		Assistant: assistant.NewAdapter(backend, assistant.Options{
			MaxTokens:   cfg.Assistant.MaxTokens,
			Temperature: cfg.Assistant.Temperature,
		}, m, logger),
		Handlers: handlers,
		Metrics:  m,
		Logger:   logger,
		Prompt:   transcribePrompt,
	}

	if cfg.Store.Enabled {
		a.archive, err = store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening turn archive: %w", err)
		}
		a.closers = append(a.closers, a.archive.Close)
		deps.Sink = a.archive
		logger.Info("turn archive enabled", "path", cfg.Store.Path)
	}

	speakers, err := speakerFactory(cfg, m, logger, a)
	if err != nil {
		return nil, err
	}
	a.speech = speakers != nil

	a.manager = conversation.NewManager(conversation.ManagerConfig{
		DefaultLanguage: cfg.Session.DefaultLanguage,
		IdleTTL:         cfg.Session.IdleTTL,
		NewSpeaker:      speakers,
	}, deps)

	var archive dispatch.Archive
	if a.archive != nil {
		archive = a.archive
	}
	a.dispatcher = dispatch.New(a.manager, archive, a.speech, logger)
	return a, nil
}

// speakerFactory returns nil when neither synthesizer is configured.
func speakerFactory(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger, a *app) (conversation.SpeakerFactory, error) {
	var local, remoteSynth tts.Synthesizer
	if cfg.TTS.Piper.Endpoint != "" || len(cfg.TTS.Piper.Endpoints) > 0 {
		p := piper.New(cfg.TTS.Piper, logger)
		a.closers = append(a.closers, p.Close)
		local = p
	}
	if cfg.TTS.Remote.Endpoint != "" {
		r := remote.New(cfg.TTS.Remote.Endpoint, cfg.Timeouts.Network)
		a.closers = append(a.closers, r.Close)
		remoteSynth = r
	}
	if local == nil && remoteSynth == nil {
		logger.Info("speech output disabled")
		return nil, nil
	}

	var player tts.Player = tts.NopPlayer{}
	switch cfg.TTS.Player.Type {
	case "dir":
		p, err := tts.NewDirPlayer(cfg.TTS.Player.Dir)
		if err != nil {
			return nil, err
		}
		player = p
	case "command":
		p, err := tts.NewCommandPlayer(cfg.TTS.Player.Command)
		if err != nil {
			return nil, err
		}
		player = p
	}
	logger.Info("speech output enabled",
		"local", local != nil,
		"remote", remoteSynth != nil,
		"player", cfg.TTS.Player.Type)

	return func() conversation.Speaker {
		return tts.NewSpeaker(tts.SpeakerConfig{
			Local:    local,
			Remote:   remoteSynth,
			Player:   player,
			Pitch:    cfg.TTS.Pitch,
			Rate:     cfg.TTS.Rate,
			Observer: m,
			Logger:   logger,
		})
	}, nil
}
