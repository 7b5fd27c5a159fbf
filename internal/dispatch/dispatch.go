// Package dispatch implements transport.Service on top of the session
// Manager.
//
// Transports decode client requests into message types; the dispatcher
// finds (or creates) the device session, runs the turn and encodes the
// result. The sender always receives a result for a turn that started,
// even when every adapter fell back.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agrospeak/agrospeak/internal/conversation"
	"github.com/agrospeak/agrospeak/internal/intent"
	"github.com/agrospeak/agrospeak/internal/message"
	"github.com/agrospeak/agrospeak/internal/stt"
	"github.com/agrospeak/agrospeak/internal/transport"
)

// Archive serves history for sessions that are not live, e.g. after a
// restart. Satisfied by *store.SQLiteStore.
type Archive interface {
	ListTurns(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Dispatcher is the central routing engine.
type Dispatcher struct {
	sessions *conversation.Manager
	archive  Archive
	speech   bool
	logger   *slog.Logger
}

var _ transport.Service = (*Dispatcher)(nil)

// New creates a Dispatcher. archive may be nil. speech reports whether
// sessions synthesize replies, which sets the default response mode.
func New(sessions *conversation.Manager, archive Archive, speech bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sessions: sessions, archive: archive, speech: speech, logger: logger}
}

// resolveResponseMode determines the effective ResponseMode for a request.
// If the caller didn't specify one, the default depends on whether speech
// is available.
func (d *Dispatcher) resolveResponseMode(mode message.ResponseMode) message.ResponseMode {
	switch mode {
	case message.ResponseModeText, message.ResponseModeAudio, message.ResponseModeTextAudio:
		return mode
	default:
		if d.speech {
			return message.ResponseModeTextAudio
		}
		return message.ResponseModeText
	}
}

func wantText(mode message.ResponseMode) bool {
	return mode == message.ResponseModeText || mode == message.ResponseModeTextAudio
}

func wantAudio(mode message.ResponseMode) bool {
	return mode == message.ResponseModeAudio || mode == message.ResponseModeTextAudio
}

// Converse runs one text or complete-audio turn.
func (d *Dispatcher) Converse(ctx context.Context, req *message.TurnRequest) (*message.TurnResult, error) {
	sess, err := d.session(req.SessionID)
	if err != nil {
		return nil, err
	}
	var res *conversation.TurnResult
	switch {
	case req.HasAudio():
		contentType := req.ContentType
		if contentType == "" {
			contentType = "audio/wav"
		}
		res, err = sess.SubmitAudio(ctx, stt.Audio{Data: req.Audio, ContentType: contentType}, turnInput(req))
	case strings.TrimSpace(req.Text) != "":
		res, err = sess.SubmitText(ctx, req.Text, turnInput(req))
	default:
		return nil, fmt.Errorf("%w: request has no audio and no text", transport.ErrInvalid)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return d.encode(res, req.ResponseMode), nil
}

// History returns the live history, or the archived one when the session
// is not in memory.
func (d *Dispatcher) History(ctx context.Context, sessionID string) (*message.History, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", transport.ErrInvalid)
	}
	out := &message.History{SessionID: sessionID, Turns: []message.Turn{}}

	if sess, ok := d.sessions.Lookup(sessionID); ok {
		out.Language = sess.Language()
		out.Turns = encodeTurns(sess.History())
		return out, nil
	}
	if d.archive != nil {
		turns, err := d.archive.ListTurns(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
		}
		out.Turns = encodeTurns(turns)
	}
	return out, nil
}

// ClearHistory empties the session's history, live and archived.
func (d *Dispatcher) ClearHistory(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", transport.ErrInvalid)
	}
	if sess, ok := d.sessions.Lookup(sessionID); ok {
		return mapError(sess.Clear(ctx))
	}
	if d.archive != nil {
		if err := d.archive.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
		}
	}
	return nil
}

// SetLanguage changes the session's language preference.
func (d *Dispatcher) SetLanguage(_ context.Context, sessionID, language string) error {
	sess, err := d.session(sessionID)
	if err != nil {
		return err
	}
	if err := sess.SetLanguage(language); err != nil {
		return mapError(err)
	}
	d.logger.Info("language changed", "session_id", sessionID, "language", language)
	return nil
}

// Classify reports the intent of text without running a turn.
func (d *Dispatcher) Classify(text string) message.Classification {
	it := intent.Classify(text)
	return message.Classification{
		Text:   text,
		Intent: it.String(),
		Route:  string(d.sessions.RouteFor(it)),
	}
}

// StartCapture begins a streamed recording.
func (d *Dispatcher) StartCapture(ctx context.Context, sessionID string) error {
	sess, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return mapError(sess.StartRecording(ctx))
}

// WriteCapture appends audio to the active recording.
func (d *Dispatcher) WriteCapture(sessionID string, audio []byte) error {
	sess, ok := d.sessions.Lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: session %q", transport.ErrNotFound, sessionID)
	}
	return mapError(sess.WriteAudio(audio))
}

// StopCapture ends the recording and runs the turn.
func (d *Dispatcher) StopCapture(ctx context.Context, req *message.TurnRequest) (*message.TurnResult, error) {
	sess, ok := d.sessions.Lookup(req.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %q", transport.ErrNotFound, req.SessionID)
	}
	res, err := sess.StopRecording(ctx, turnInput(req))
	if err != nil {
		return nil, mapError(err)
	}
	return d.encode(res, req.ResponseMode), nil
}

// CancelCapture discards the active recording or cancels a running turn.
func (d *Dispatcher) CancelCapture(sessionID string) error {
	sess, ok := d.sessions.Lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: session %q", transport.ErrNotFound, sessionID)
	}
	return mapError(sess.CancelRecording())
}

func (d *Dispatcher) session(id string) (*conversation.Session, error) {
	sess, err := d.sessions.Get(id)
	if err != nil {
		return nil, mapError(err)
	}
	return sess, nil
}

func (d *Dispatcher) encode(res *conversation.TurnResult, mode message.ResponseMode) *message.TurnResult {
	mode = d.resolveResponseMode(mode)
	out := &message.TurnResult{
		SessionID:  res.SessionID,
		Language:   res.Language,
		User:       encodeTurn(res.User),
		Response:   encodeTurn(res.Response),
		Intent:     res.Intent.String(),
		Route:      string(res.Route),
		SpeechPath: string(res.Speech.Path),
		DurationMS: res.Duration.Milliseconds(),
	}
	for _, deg := range res.Degradations {
		out.Degradations = append(out.Degradations, message.Degradation{Stage: deg.Stage, Reason: string(deg.Reason)})
	}
	if wantText(mode) {
		out.ResponseText = res.Response.Text
	}
	if wantAudio(mode) && res.Speech.Audio != nil {
		out.SetResponseAudioBytes(res.Speech.Audio.Audio)
		out.ResponseContentType = res.Speech.Audio.ContentType
	}

	d.logger.Debug("turn encoded",
		"session_id", out.SessionID,
		"intent", out.Intent,
		"route", out.Route,
		"response_mode", mode,
		"degraded", len(out.Degradations) > 0,
	)
	return out
}

func turnInput(req *message.TurnRequest) conversation.TurnInput {
	in := conversation.TurnInput{AuthToken: req.AuthToken, Language: req.Language}
	if req.Location != nil {
		in.Location = &conversation.Location{
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
			Name:      req.Location.Name,
		}
	}
	return in
}

func encodeTurn(t conversation.Turn) message.Turn {
	return message.Turn{ID: t.ID, Role: string(t.Role), Text: t.Text, CreatedAt: t.CreatedAt}
}

func encodeTurns(turns []conversation.Turn) []message.Turn {
	out := make([]message.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, encodeTurn(t))
	}
	return out
}

// mapError wraps conversation errors with a transport error kind.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, conversation.ErrInvalidSessionID),
		errors.Is(err, conversation.ErrEmptyInput),
		errors.Is(err, conversation.ErrNoLanguage),
		errors.Is(err, conversation.ErrCapture):
		return fmt.Errorf("%w: %w", transport.ErrInvalid, err)
	case errors.Is(err, conversation.ErrBusy),
		errors.Is(err, conversation.ErrNotRecording):
		return fmt.Errorf("%w: %w", transport.ErrConflict, err)
	case errors.Is(err, conversation.ErrSessionClosed):
		return fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
	default:
		return err
	}
}
