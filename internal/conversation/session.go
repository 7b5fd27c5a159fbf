// Package conversation runs voice and text turns for a session: capture,
// transcription, classification, local handling or the remote assistant,
// translation, speech and the append-only history.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agrospeak/agrospeak/internal/assistant"
	"github.com/agrospeak/agrospeak/internal/fallback"
	"github.com/agrospeak/agrospeak/internal/intent"
	"github.com/agrospeak/agrospeak/internal/metrics"
	"github.com/agrospeak/agrospeak/internal/stt"
	"github.com/agrospeak/agrospeak/internal/translate"
	"github.com/agrospeak/agrospeak/internal/tts"
)

var (
	ErrBusy          = errors.New("conversation: a turn is already in progress")
	ErrNotRecording  = errors.New("conversation: not recording")
	ErrCapture       = errors.New("conversation: audio capture failed")
	ErrSessionClosed = errors.New("conversation: session closed")
	ErrEmptyInput    = errors.New("conversation: empty input")
	ErrNoLanguage    = errors.New("conversation: language must not be empty")
)

// Messages carried by error turns. They are always English and never spoken.
const (
	MsgAudioError  = "Error processing audio. Please try again."
	MsgCancelled   = "Request cancelled."
	MsgActionError = "Sorry, I couldn't get that information right now. Please try again."
)

// State is the orchestrator state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateClassifying
	StateLocalAction
	StateRemoteQuery
	StateTranslating
	StateResponding
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateRecording:    "recording",
	StateTranscribing: "transcribing",
	StateClassifying:  "classifying",
	StateLocalAction:  "local_action",
	StateRemoteQuery:  "remote_query",
	StateTranslating:  "translating",
	StateResponding:   "responding",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Route says how a reply was produced.
type Route string

const (
	RouteNone   Route = "none"
	RouteLocal  Route = "local"
	RouteRemote Route = "remote"
)

// Location is where the farmer is.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// TurnInput is per-turn context supplied by the client.
type TurnInput struct {
	Location  *Location
	AuthToken string

	// Language, when set, becomes the language preference as the turn
	// starts. A turn refused with ErrBusy leaves the preference alone.
	Language string
}

// Request is what a LocalHandler receives.
type Request struct {
	// Query is the English form of the utterance.
	Query string

	// Original is the utterance as transcribed or typed.
	Original  string
	Intent    intent.Intent
	Language  string
	Location  *Location
	AuthToken string
}

// LocalHandler answers an intent without the remote assistant. The reply
// is English.
type LocalHandler interface {
	Handle(ctx context.Context, req Request) (string, error)
}

// HandlerFunc adapts a function to LocalHandler.
type HandlerFunc func(ctx context.Context, req Request) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Degradation notes an adapter that fell back during a turn.
type Degradation struct {
	Stage  string          `json:"stage"`
	Reason fallback.Reason `json:"reason"`
}

// TurnResult describes a completed turn.
type TurnResult struct {
	SessionID    string
	Language     string
	User         Turn
	Response     Turn
	Intent       intent.Intent
	Route        Route
	Degradations []Degradation
	Speech       tts.Outcome
	Duration     time.Duration
}

// Degraded reports whether any adapter fell back.
func (r *TurnResult) Degraded() bool { return len(r.Degradations) > 0 }

// Transcriber is satisfied by *stt.Adapter.
type Transcriber interface {
	Transcribe(ctx context.Context, audio stt.Audio, opts stt.TranscribeOpts) stt.Result
}

// Translator is satisfied by *translate.Adapter.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) translate.Result
}

// Assistant is satisfied by *assistant.Adapter.
type Assistant interface {
	Ask(ctx context.Context, query string) assistant.Result
}

// Speaker is satisfied by *tts.Speaker.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) tts.Outcome
	Close() error
}

// TurnSink archives turns outside the in-memory history.
type TurnSink interface {
	AppendTurn(ctx context.Context, sessionID string, t Turn) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Recorder    Recorder
	Transcriber Transcriber
	Translator  Translator
	Assistant   Assistant
	Handlers    map[intent.Intent]LocalHandler
	Sink        TurnSink
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Tracer      trace.Tracer

	// Prompt is passed to the transcriber to help with farming terms.
	Prompt string

	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Recorder == nil {
		d.Recorder = BufferRecorder{}
	}
	if d.Transcriber == nil {
		d.Transcriber = stt.NewAdapter(nil, d.Metrics, d.Logger)
	}
	if d.Translator == nil {
		d.Translator = translate.NewAdapter(nil, d.Metrics, d.Logger)
	}
	if d.Assistant == nil {
		d.Assistant = assistant.NewAdapter(nil, assistant.Options{}, d.Metrics, d.Logger)
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("agrospeak.internal.conversation")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Session is one device's conversation. Only one turn runs at a time.
type Session struct {
	id      string
	deps    Deps
	speaker Speaker
	logger  *slog.Logger
	history History

	mu         sync.Mutex
	state      State
	language   string
	capture    Capture
	cancelTurn context.CancelFunc
	closed     bool
	lastActive time.Time
}

// NewSession returns an idle session. speaker may be nil to disable speech.
func NewSession(id, language string, speaker Speaker, deps Deps) *Session {
	deps = deps.withDefaults()
	if language == "" {
		language = translate.English
	}
	return &Session{
		id:         id,
		deps:       deps,
		speaker:    speaker,
		logger:     deps.Logger.With("session_id", id),
		language:   language,
		lastActive: deps.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the orchestrator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Language returns the active language preference.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// SetLanguage changes the language preference. A turn in progress keeps
// the language it started with.
func (s *Session) SetLanguage(lang string) error {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ErrNoLanguage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.language = lang
	s.lastActive = s.deps.Now()
	return nil
}

// History returns a copy of the turns in order.
func (s *Session) History() []Turn { return s.history.Turns() }

// Clear empties the history. It is refused while a turn is in progress.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.history.Clear()
	s.lastActive = s.deps.Now()
	s.mu.Unlock()

	if s.deps.Sink != nil {
		if err := s.deps.Sink.DeleteSession(ctx, s.id); err != nil {
			s.logger.Warn("archive clear failed", "error", err)
		}
	}
	s.logger.Info("history cleared")
	return nil
}

// LastActive returns when the session was last used.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// StartRecording begins a voice capture.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateIdle {
		return ErrBusy
	}
	capture, err := s.deps.Recorder.Start(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
	s.capture = capture
	s.state = StateRecording
	s.lastActive = s.deps.Now()
	s.logger.Debug("recording started")
	return nil
}

// WriteAudio appends bytes to the active capture.
func (s *Session) WriteAudio(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateRecording {
		return ErrNotRecording
	}
	_, err := s.capture.Write(p)
	return err
}

// StopRecording ends the capture and runs the turn. A capture error
// aborts the turn before anything is recorded.
func (s *Session) StopRecording(ctx context.Context, in TurnInput) (*TurnResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	capture := s.capture
	s.capture = nil
	turnCtx, lang := s.beginLocked(ctx, StateTranscribing, in)
	s.mu.Unlock()

	audio, err := capture.Stop(ctx)
	if err != nil {
		s.end()
		if !errors.Is(err, ErrCapture) {
			err = fmt.Errorf("%w: %w", ErrCapture, err)
		}
		return nil, err
	}
	return s.run(turnCtx, lang, &audio, "", in), nil
}

// SubmitAudio runs a turn on an already complete recording.
func (s *Session) SubmitAudio(ctx context.Context, audio stt.Audio, in TurnInput) (*TurnResult, error) {
	if audio.Empty() {
		return nil, fmt.Errorf("%w: no audio captured", ErrCapture)
	}
	turnCtx, lang, err := s.begin(ctx, StateTranscribing, in)
	if err != nil {
		return nil, err
	}
	return s.run(turnCtx, lang, &audio, "", in), nil
}

// SubmitText runs a turn on typed input, skipping capture and
// transcription.
func (s *Session) SubmitText(ctx context.Context, text string, in TurnInput) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	turnCtx, lang, err := s.begin(ctx, StateClassifying, in)
	if err != nil {
		return nil, err
	}
	return s.run(turnCtx, lang, nil, text, in), nil
}

// CancelRecording discards an active capture without recording a turn.
// During processing it cancels the turn, which then ends with an error
// turn.
func (s *Session) CancelRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.state == StateRecording:
		s.capture.Cancel()
		s.capture = nil
		s.state = StateIdle
		s.logger.Debug("recording cancelled")
		return nil
	case s.state != StateIdle && s.cancelTurn != nil:
		s.cancelTurn()
		s.logger.Info("turn cancelled", "state", s.state)
		return nil
	default:
		return ErrNotRecording
	}
}

// Close cancels any work and stops the speaker.
func (s *Session) Close() error {
	s.mu.Lock()
	first := s.closeLocked()
	s.mu.Unlock()
	if !first {
		return nil
	}
	return s.stopSpeaker()
}

// closeLocked marks the session closed and cancels capture and turn work.
// It reports false if the session was already closed.
func (s *Session) closeLocked() bool {
	if s.closed {
		return false
	}
	s.closed = true
	if s.capture != nil {
		s.capture.Cancel()
		s.capture = nil
	}
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	return true
}

func (s *Session) stopSpeaker() error {
	if s.speaker != nil {
		return s.speaker.Close()
	}
	return nil
}

// touch records use of the session. It reports false once closed.
func (s *Session) touch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.lastActive = s.deps.Now()
	return true
}

// retireIfIdle closes the session if it is idle and unused since cutoff.
// The check and the close happen under one lock so a turn cannot begin
// in between. The caller stops the speaker.
func (s *Session) retireIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateIdle || !s.lastActive.Before(cutoff) {
		return false
	}
	return s.closeLocked()
}

func (s *Session) begin(ctx context.Context, next State, in TurnInput) (context.Context, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "", ErrSessionClosed
	}
	if s.state != StateIdle {
		return nil, "", ErrBusy
	}
	turnCtx, lang := s.beginLocked(ctx, next, in)
	return turnCtx, lang, nil
}

func (s *Session) beginLocked(ctx context.Context, next State, in TurnInput) (context.Context, string) {
	if lang := strings.TrimSpace(in.Language); lang != "" {
		s.language = lang
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelTurn = cancel
	s.state = next
	s.lastActive = s.deps.Now()
	return turnCtx, s.language
}

func (s *Session) end() {
	s.mu.Lock()
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.state = StateIdle
	s.lastActive = s.deps.Now()
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) appendTurn(ctx context.Context, role Role, text string) Turn {
	t := s.history.Append(newTurn(role, text, s.deps.Now()))
	if s.deps.Sink != nil {
		if err := s.deps.Sink.AppendTurn(context.WithoutCancel(ctx), s.id, t); err != nil {
			s.logger.Warn("archive append failed", "turn_id", t.ID, "error", err)
		}
	}
	return t
}

// run executes one turn from transcription (audio != nil) or
// classification onward. It always leaves the session Idle.
func (s *Session) run(ctx context.Context, lang string, audio *stt.Audio, text string, in TurnInput) *TurnResult {
	start := s.deps.Now()
	ctx, span := s.deps.Tracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("language", lang),
		attribute.Bool("voice", audio != nil),
	))
	defer span.End()
	defer s.end()

	res := &TurnResult{SessionID: s.id, Language: lang, Route: RouteNone, Intent: intent.Unknown}
	outcome := s.respond(ctx, res, lang, audio, text, in)

	res.Duration = s.deps.Now().Sub(start)
	span.SetAttributes(
		attribute.String("intent", res.Intent.String()),
		attribute.String("route", string(res.Route)),
		attribute.String("outcome", outcome),
	)
	if outcome == "error" || outcome == "cancelled" {
		span.SetStatus(codes.Error, res.Response.Text)
	}
	s.deps.Metrics.ObserveTurn(string(res.Route), outcome, res.Duration)
	s.logger.Info("turn complete",
		"turn_id", res.User.ID,
		"intent", res.Intent,
		"route", res.Route,
		"outcome", outcome,
		"degradations", len(res.Degradations),
		"duration", res.Duration,
	)
	return res
}

// respond fills res and returns the outcome label.
func (s *Session) respond(ctx context.Context, res *TurnResult, lang string, audio *stt.Audio, text string, in TurnInput) string {
	degrade := func(stage string, r fallback.Reason) {
		if r.Degraded() {
			res.Degradations = append(res.Degradations, Degradation{Stage: stage, Reason: r})
		}
	}
	fail := func(msg string) string {
		res.Response = s.appendTurn(ctx, RoleError, msg)
		if ctx.Err() != nil {
			return "cancelled"
		}
		return "error"
	}

	// Transcribing
	if audio != nil {
		sctx, span := s.deps.Tracer.Start(ctx, "conversation.transcribe")
		r := s.deps.Transcriber.Transcribe(sctx, *audio, stt.TranscribeOpts{Language: lang, Prompt: s.deps.Prompt})
		span.End()
		text = r.Text
		degrade("transcribe", r.Reason)
		res.User = s.appendTurn(ctx, RoleUser, text)
		if ctx.Err() != nil {
			return fail(MsgCancelled)
		}
		if r.Failed() {
			return fail(MsgAudioError)
		}
	} else {
		res.User = s.appendTurn(ctx, RoleUser, text)
	}

	// Classifying
	s.setState(StateClassifying)
	it := intent.Classify(text)
	english := text
	needsTranslation := !translate.IsEnglish(lang)
	if needsTranslation {
		s.setState(StateTranslating)
		sctx, span := s.deps.Tracer.Start(ctx, "conversation.translate_query")
		tr := s.deps.Translator.Translate(sctx, text, lang, translate.English)
		span.End()
		english = tr.Text
		degrade("translate_query", tr.Reason)
		if it == intent.Unknown {
			it = intent.Classify(english)
		}
	}
	res.Intent = it
	s.deps.Metrics.ObserveIntent(it.String())
	if ctx.Err() != nil {
		return fail(MsgCancelled)
	}

	// LocalAction | RemoteQuery
	var reply string
	if h, ok := s.deps.Handlers[it]; ok && h != nil {
		res.Route = RouteLocal
		s.setState(StateLocalAction)
		sctx, span := s.deps.Tracer.Start(ctx, "conversation.local_action", trace.WithAttributes(attribute.String("intent", it.String())))
		out, err := h.Handle(sctx, Request{
			Query:     english,
			Original:  text,
			Intent:    it,
			Language:  lang,
			Location:  in.Location,
			AuthToken: in.AuthToken,
		})
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if ctx.Err() != nil {
			return fail(MsgCancelled)
		}
		if err != nil || strings.TrimSpace(out) == "" {
			s.logger.Warn("local handler failed", "intent", it, "error", err)
			return fail(MsgActionError)
		}
		reply = out
	} else {
		res.Route = RouteRemote
		s.setState(StateRemoteQuery)
		sctx, span := s.deps.Tracer.Start(ctx, "conversation.remote_query")
		ar := s.deps.Assistant.Ask(sctx, english)
		span.End()
		degrade("assistant", ar.Reason)
		if ctx.Err() != nil {
			return fail(MsgCancelled)
		}
		reply = ar.Text
	}

	// Translating
	if needsTranslation {
		s.setState(StateTranslating)
		sctx, span := s.deps.Tracer.Start(ctx, "conversation.translate_reply")
		tr := s.deps.Translator.Translate(sctx, reply, translate.English, lang)
		span.End()
		reply = tr.Text
		degrade("translate_reply", tr.Reason)
		if ctx.Err() != nil {
			return fail(MsgCancelled)
		}
	}

	// Responding
	s.setState(StateResponding)
	res.Response = s.appendTurn(ctx, RoleAssistant, reply)
	if s.speaker != nil {
		sctx, span := s.deps.Tracer.Start(ctx, "conversation.speak")
		res.Speech = s.speaker.Speak(sctx, reply, lang)
		span.SetAttributes(attribute.String("path", string(res.Speech.Path)))
		span.End()
		degrade("speech", res.Speech.Reason)
		s.deps.Metrics.ObserveSpeech(string(res.Speech.Path))
		if res.Speech.Err != nil {
			s.logger.Warn("reply not spoken", "path", res.Speech.Path, "error", res.Speech.Err)
		}
	}

	if res.Degraded() {
		return "degraded"
	}
	return "ok"
}
