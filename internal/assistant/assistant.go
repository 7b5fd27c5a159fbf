// Package assistant sends free-form farming questions to a remote
// conversational model.
//
// Backends implement Client and return errors. The Adapter applies the
// AgroSpeak persona and turns any failure into a fixed apology so the
// conversation always has a reply to record.
package assistant

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// Persona is the system instruction sent with every query.
const Persona = "You are AgroSpeak, a helpful agricultural assistant for Zambian farmers. " +
	"Provide concise, practical answers about farming, crops, weather, soil, and agriculture. " +
	"Focus on local Zambian context. Keep responses clear, actionable and under 150 words."

// Apology is the reply used when the assistant cannot be reached.
const Apology = "Sorry, I'm having trouble connecting right now. Please check your connection and try again."

// Request is one completion request.
type Request struct {
	System      string
	Query       string
	MaxTokens   int
	Temperature float64
}

// Client is a remote chat model.
type Client interface {
	// Name returns the backend identifier (e.g., "openai", "gemini").
	Name() string

	// Complete returns the model's reply to req.
	Complete(ctx context.Context, req Request) (string, error)
}

// Result is the outcome of an Adapter call.
type Result struct {
	Text   string
	Reason fallback.Reason
}

// Observer receives fallback notifications. Satisfied by metrics.Metrics.
type Observer interface {
	ObserveFallback(adapter string, reason fallback.Reason)
}

// Options tunes generation.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Adapter wraps a Client with the persona and apology contract.
type Adapter struct {
	backend  Client
	opts     Options
	observer Observer
	logger   *slog.Logger
}

// NewAdapter returns an Adapter over backend.
func NewAdapter(backend Client, opts Options, observer Observer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	return &Adapter{backend: backend, opts: opts, observer: observer, logger: logger}
}

// Ask never fails; a failed or empty reply yields Apology.
func (a *Adapter) Ask(ctx context.Context, query string) Result {
	if a.backend == nil {
		return a.degrade(fallback.Unavailable, nil)
	}

	text, err := a.backend.Complete(ctx, Request{
		System:      Persona,
		Query:       query,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	})
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
	name := "none"
	if a.backend != nil {
		name = a.backend.Name()
	}
	a.logger.Warn("assistant unavailable, using apology", "backend", name, "reason", reason, "error", err)
	if a.observer != nil {
		a.observer.ObserveFallback("assistant", reason)
	}
	return Result{Text: Apology, Reason: reason}
}
