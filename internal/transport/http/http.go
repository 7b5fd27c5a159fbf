// Package http implements the HTTP/WebSocket transport for agrospeak.
//
// This transport exposes a REST API for whole turns, history and language
// preference, and a WebSocket endpoint that streams a recording from the
// device while the farmer holds the microphone button.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/agrospeak/agrospeak/internal/message"
	"github.com/agrospeak/agrospeak/internal/transport"
)

// maxBodyBytes caps uploads (25 MB).
const maxBodyBytes = 25 << 20

// Headers used with raw audio uploads.
const (
	HeaderLanguage     = "X-AgroSpeak-Language"
	HeaderLocation     = "X-AgroSpeak-Location" // "lat,lon"
	HeaderResponseMode = "X-AgroSpeak-Response-Mode"
)

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port   int
	server *http.Server
}

// New creates a new HTTP transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler builds the router for svc.
func (t *Transport) Handler(svc transport.Service) http.Handler {
	h := &handler{svc: svc}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/{id}/turns", h.handleTurn)
		r.Get("/sessions/{id}/history", h.handleHistory)
		r.Delete("/sessions/{id}/history", h.handleClearHistory)
		r.Put("/sessions/{id}/language", h.handleSetLanguage)
		r.Get("/classify", h.handleClassify)
	})

	// WebSocket capture stream.
	r.Get("/ws/sessions/{id}", h.handleStream)

	// Swagger UI serves the OpenAPI docs registered by package docs.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return r
}

// Listen starts the HTTP server and routes incoming requests to svc.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

type handler struct {
	svc transport.Service
}

// handleTurn processes a POST /v1/sessions/{id}/turns request.
//
// @Summary     Run a voice or text turn
// @Description Accepts a JSON turn request (text, or base64 audio) or raw audio bytes.
// @Description The utterance is transcribed, classified, answered locally or by the remote assistant,
// @Description translated to the session language and spoken on the session's player.
// @Tags        turns
// @Accept      json
// @Accept      audio/wav
// @Produce     json
// @Param       id                         path    string               true   "Session (device) id"
// @Param       request                    body    message.TurnRequest  true   "Turn request (JSON). For raw audio, POST the bytes directly with the appropriate Content-Type."
// @Param       X-AgroSpeak-Language       header  string               false  "Language preference (raw audio uploads)"
// @Param       X-AgroSpeak-Location       header  string               false  "lat,lon (raw audio uploads)"
// @Param       X-AgroSpeak-Response-Mode  header  string               false  "text, audio or text+audio (raw audio uploads)"
// @Success     200  {object}  message.TurnResult  "Completed turn"
// @Failure     400  {object}  message.Error       "Invalid request"
// @Failure     409  {object}  message.Error       "A turn is already in progress"
// @Router      /v1/sessions/{id}/turns [post]
func (h *handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req message.TurnRequest

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid json: %w", transport.ErrInvalid, err))
			return
		}
	default:
		// Treat body as raw audio; read turn context from headers.
		audio, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, fmt.Errorf("%w: reading audio: %w", transport.ErrInvalid, err))
			return
		}
		req.Audio = audio
		req.ContentType = contentType
		req.Language = r.Header.Get(HeaderLanguage)
		req.ResponseMode = message.ResponseMode(r.Header.Get(HeaderResponseMode))
		if raw := r.Header.Get(HeaderLocation); raw != "" {
			loc, err := ParseLocation(raw)
			if err != nil {
				writeError(w, err)
				return
			}
			req.Location = loc
		}
	}
	req.SessionID = chi.URLParam(r, "id")
	if token := bearerToken(r); token != "" {
		req.AuthToken = token
	}

	result, err := h.svc.Converse(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHistory returns a session's conversation.
//
// @Summary  Get conversation history
// @Tags     sessions
// @Produce  json
// @Param    id   path      string  true  "Session (device) id"
// @Success  200  {object}  message.History
// @Router   /v1/sessions/{id}/history [get]
func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// handleClearHistory empties a session's conversation.
//
// @Summary  Clear conversation history
// @Tags     sessions
// @Param    id   path  string  true  "Session (device) id"
// @Success  204
// @Failure  409  {object}  message.Error  "A turn is in progress"
// @Router   /v1/sessions/{id}/history [delete]
func (h *handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearHistory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type languageRequest struct {
	Language string `json:"language"`
}

// handleSetLanguage changes the language preference.
//
// @Summary  Set language preference
// @Tags     sessions
// @Accept   json
// @Param    id       path  string           true  "Session (device) id"
// @Param    request  body  languageRequest  true  "Language, e.g. Bemba"
// @Success  204
// @Failure  400  {object}  message.Error
// @Router   /v1/sessions/{id}/language [put]
func (h *handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json: %w", transport.ErrInvalid, err))
		return
	}
	if err := h.svc.SetLanguage(r.Context(), chi.URLParam(r, "id"), req.Language); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClassify reports the intent of a query.
//
// @Summary  Classify a query
// @Tags     classify
// @Produce  json
// @Param    q    query     string  true  "Text to classify"
// @Success  200  {object}  message.Classification
// @Router   /v1/classify [get]
func (h *handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeError(w, fmt.Errorf("%w: query parameter q is required", transport.ErrInvalid))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Classify(q))
}

// ParseLocation parses "lat,lon".
func ParseLocation(raw string) (*message.Location, error) {
	latRaw, lonRaw, ok := strings.Cut(raw, ",")
	if !ok {
		return nil, fmt.Errorf("%w: location must be \"lat,lon\"", transport.ErrInvalid)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("%w: invalid latitude %q", transport.ErrInvalid, latRaw)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: invalid longitude %q", transport.ErrInvalid, lonRaw)
	}
	return &message.Location{Latitude: lat, Longitude: lon}, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// StatusCode maps a service error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, transport.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, transport.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, code, message.Error{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request with slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}
