// Package transport defines the contract between client-facing transports
// and the conversation service.
//
// Each transport (HTTP/WebSocket, gRPC, MQTT) decodes client requests and
// calls a Service. The service doesn't care how requests arrive.
package transport

import (
	"context"
	"errors"

	"github.com/agrospeak/agrospeak/internal/message"
)

// Error kinds a Service wraps its errors with so transports can map them
// to status codes without knowing the conversation package.
var (
	ErrInvalid     = errors.New("invalid request")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
)

// Service is what transports expose to clients.
type Service interface {
	// Converse runs one text or complete-audio turn.
	Converse(ctx context.Context, req *message.TurnRequest) (*message.TurnResult, error)

	// History returns the session's turns in order.
	History(ctx context.Context, sessionID string) (*message.History, error)

	// ClearHistory empties the session's history.
	ClearHistory(ctx context.Context, sessionID string) error

	// SetLanguage changes the session's language preference.
	SetLanguage(ctx context.Context, sessionID, language string) error

	// Classify reports the intent of text without running a turn.
	Classify(text string) message.Classification

	// StartCapture begins a streamed recording for the session.
	StartCapture(ctx context.Context, sessionID string) error

	// WriteCapture appends audio to the active recording.
	WriteCapture(sessionID string, audio []byte) error

	// StopCapture ends the recording and runs the turn. req carries the
	// per-turn context; its audio and text are ignored.
	StopCapture(ctx context.Context, req *message.TurnRequest) (*message.TurnResult, error)

	// CancelCapture discards the active recording, or cancels a turn in
	// progress.
	CancelCapture(sessionID string) error
}

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http", "mqtt").
	Name() string

	// Listen starts accepting requests and hands them to svc.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, svc Service) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
