package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/agrospeak/agrospeak/internal/message"
	"github.com/agrospeak/agrospeak/internal/transport"
)

// streamMessage is a control frame from the client. Audio arrives as
// binary frames between "start" and "stop".
type streamMessage struct {
	Type         string               `json:"type"` // start, stop, cancel, language, ping
	Language     string               `json:"language,omitempty"`
	Location     *message.Location    `json:"location,omitempty"`
	AuthToken    string               `json:"auth_token,omitempty"`
	ResponseMode message.ResponseMode `json:"response_mode,omitempty"`
}

// streamEvent is a frame sent to the client.
type streamEvent struct {
	Type   string              `json:"type"` // recording, processing, result, cancelled, language, pong, error
	Result *message.TurnResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and drives a capture session.
//
// @Summary     Stream a recording
// @Description Send {"type":"start"}, then binary audio frames, then {"type":"stop"} to run the turn.
// @Description {"type":"cancel"} discards the recording, or cancels a turn that is processing.
// @Tags        turns
// @Param       id  path  string  true  "Session (device) id"
// @Router      /ws/sessions/{id} [get]
func (h *handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	logger := slog.With("session_id", sessionID)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := &stream{svc: h.svc, ws: ws, sessionID: sessionID, logger: logger}
	s.readLoop(ctx)

	// Discard a capture or turn this connection left open. Turns started
	// by another transport on the same session are not touched.
	if s.owns.Load() {
		if err := h.svc.CancelCapture(sessionID); err != nil && !errors.Is(err, transport.ErrConflict) && !errors.Is(err, transport.ErrNotFound) {
			logger.Debug("cancel on disconnect failed", "error", err)
		}
	}
	s.wg.Wait()
	logger.Info("stream ended")
}

type stream struct {
	svc       transport.Service
	ws        *websocket.Conn
	sessionID string
	logger    *slog.Logger
	wg        sync.WaitGroup

	// owns is set while a capture or turn started by this stream is live.
	owns atomic.Bool
}

func (s *stream) readLoop(ctx context.Context) {
	for {
		typ, data, err := s.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("websocket closed by client")
			} else if ctx.Err() == nil {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			if err := s.svc.WriteCapture(s.sessionID, data); err != nil {
				s.sendError(ctx, err)
			}
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ctx, errors.New("invalid control message"))
			continue
		}
		s.handleControl(ctx, msg)
	}
}

func (s *stream) handleControl(ctx context.Context, msg streamMessage) {
	switch msg.Type {
	case "start":
		if err := s.svc.StartCapture(ctx, s.sessionID); err != nil {
			s.sendError(ctx, err)
			return
		}
		s.owns.Store(true)
		s.send(ctx, streamEvent{Type: "recording"})
	case "stop":
		req := &message.TurnRequest{
			SessionID:    s.sessionID,
			Location:     msg.Location,
			AuthToken:    msg.AuthToken,
			ResponseMode: msg.ResponseMode,
		}
		s.send(ctx, streamEvent{Type: "processing"})
		// The turn runs off the read loop so a cancel frame can reach it.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.owns.Store(false)
			result, err := s.svc.StopCapture(ctx, req)
			if err != nil {
				s.sendError(ctx, err)
				return
			}
			s.send(ctx, streamEvent{Type: "result", Result: result})
		}()
	case "cancel":
		if err := s.svc.CancelCapture(s.sessionID); err != nil {
			s.sendError(ctx, err)
			return
		}
		s.owns.Store(false)
		s.send(ctx, streamEvent{Type: "cancelled"})
	case "language":
		if err := s.svc.SetLanguage(ctx, s.sessionID, msg.Language); err != nil {
			s.sendError(ctx, err)
			return
		}
		s.send(ctx, streamEvent{Type: "language"})
	case "ping":
		s.send(ctx, streamEvent{Type: "pong"})
	default:
		s.sendError(ctx, errors.New("unknown message type "+msg.Type))
	}
}

func (s *stream) sendError(ctx context.Context, err error) {
	s.send(ctx, streamEvent{Type: "error", Error: err.Error()})
}

func (s *stream) send(ctx context.Context, ev streamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal stream event", "error", err)
		return
	}
	if err := s.ws.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", "type", ev.Type, "error", err)
	}
}
