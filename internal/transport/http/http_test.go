package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrospeak/agrospeak/internal/message"
	"github.com/agrospeak/agrospeak/internal/transport"
)

// fakeService records calls and answers from canned values.
type fakeService struct {
	mu        sync.Mutex
	requests  []message.TurnRequest
	language  map[string]string
	captured  map[string][]byte
	recording map[string]bool
	cancels   int
	cleared   []string
	err       error
}

func newFakeService() *fakeService {
	return &fakeService{
		language:  make(map[string]string),
		captured:  make(map[string][]byte),
		recording: make(map[string]bool),
	}
}

func (f *fakeService) result(req *message.TurnRequest, user string) *message.TurnResult {
	return &message.TurnResult{
		SessionID:    req.SessionID,
		User:         message.Turn{Role: "user", Text: user},
		Response:     message.Turn{Role: "assistant", Text: "ok"},
		ResponseText: "ok",
		Intent:       "weather",
		Route:        "local",
	}
}

func (f *fakeService) Converse(_ context.Context, req *message.TurnRequest) (*message.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, *req)
	user := req.Text
	if req.HasAudio() {
		user = fmt.Sprintf("%d bytes", len(req.Audio))
	}
	return f.result(req, user), nil
}

func (f *fakeService) History(_ context.Context, id string) (*message.History, error) {
	return &message.History{SessionID: id, Turns: []message.Turn{{Role: "user", Text: "hi"}}}, nil
}

func (f *fakeService) ClearHistory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
	return f.err
}

func (f *fakeService) SetLanguage(_ context.Context, id, lang string) error {
	if strings.TrimSpace(lang) == "" {
		return fmt.Errorf("%w: empty language", transport.ErrInvalid)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.language[id] = lang
	return nil
}

func (f *fakeService) Classify(text string) message.Classification {
	return message.Classification{Text: text, Intent: "weather", Route: "local"}
}

func (f *fakeService) StartCapture(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording[id] {
		return fmt.Errorf("%w: busy", transport.ErrConflict)
	}
	f.recording[id] = true
	f.captured[id] = nil
	return nil
}

func (f *fakeService) WriteCapture(id string, audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording[id] {
		return fmt.Errorf("%w: not recording", transport.ErrConflict)
	}
	f.captured[id] = append(f.captured[id], audio...)
	return nil
}

func (f *fakeService) StopCapture(_ context.Context, req *message.TurnRequest) (*message.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording[req.SessionID] {
		return nil, fmt.Errorf("%w: not recording", transport.ErrConflict)
	}
	f.recording[req.SessionID] = false
	return f.result(req, string(f.captured[req.SessionID])), nil
}

func (f *fakeService) CancelCapture(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if !f.recording[id] {
		return fmt.Errorf("%w: not recording", transport.ErrConflict)
	}
	f.recording[id] = false
	f.captured[id] = nil
	return nil
}

func (f *fakeService) reqs() []message.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.TurnRequest(nil), f.requests...)
}

func (f *fakeService) lang(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.language[id]
}

func (f *fakeService) isRecording(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording[id]
}

func (f *fakeService) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeService) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newServer(t *testing.T, svc transport.Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(0).Handler(svc))
	t.Cleanup(srv.Close)
	return srv
}

func TestTurnJSON(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	body := `{"text":"will it rain","language":"Bemba","location":{"latitude":-15.4,"longitude":28.3}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/sessions/phone-1/turns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res message.TurnResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "phone-1", res.SessionID)
	assert.Equal(t, "will it rain", res.User.Text)

	reqs := svc.reqs()
	require.Len(t, reqs, 1)
	got := reqs[0]
	assert.Equal(t, "phone-1", got.SessionID)
	assert.Equal(t, "Bemba", got.Language)
	assert.Equal(t, "tok-123", got.AuthToken)
	require.NotNil(t, got.Location)
	assert.InDelta(t, -15.4, got.Location.Latitude, 1e-9)
}

func TestTurnRawAudio(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/sessions/phone-2/turns", bytes.NewReader([]byte("RIFFdata")))
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set(HeaderLanguage, "Nyanja")
	req.Header.Set(HeaderLocation, "-13.0, 28.6")
	req.Header.Set(HeaderResponseMode, "text")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reqs := svc.reqs()
	require.Len(t, reqs, 1)
	got := reqs[0]
	assert.Equal(t, []byte("RIFFdata"), got.Audio)
	assert.Equal(t, "audio/wav", got.ContentType)
	assert.Equal(t, "Nyanja", got.Language)
	assert.Equal(t, message.ResponseModeText, got.ResponseMode)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 28.6, got.Location.Longitude, 1e-9)
}

func TestTurnErrors(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	resp, err := http.Post(srv.URL+"/v1/sessions/a/turns", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/sessions/a/turns", strings.NewReader("RIFF"))
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set(HeaderLocation, "north")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	svc.setErr(fmt.Errorf("%w: busy", transport.ErrConflict))
	resp, err = http.Post(srv.URL+"/v1/sessions/a/turns", "application/json", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var e message.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Contains(t, e.Error, "busy")
}

func TestHistoryRoutes(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	resp, err := http.Get(srv.URL + "/v1/sessions/a/history")
	require.NoError(t, err)
	var h message.History
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	resp.Body.Close()
	assert.Equal(t, "a", h.SessionID)
	assert.Len(t, h.Turns, 1)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/a/history", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	svc.mu.Lock()
	assert.Equal(t, []string{"a"}, svc.cleared)
	svc.mu.Unlock()
}

func TestSetLanguageRoute(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	put := func(body string) int {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/sessions/a/language", strings.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusNoContent, put(`{"language":"Tonga"}`))
	assert.Equal(t, "Tonga", svc.lang("a"))
	assert.Equal(t, http.StatusBadRequest, put(`{"language":""}`))
	assert.Equal(t, http.StatusBadRequest, put(`nope`))
}

func TestClassifyRoute(t *testing.T) {
	srv := newServer(t, newFakeService())

	resp, err := http.Get(srv.URL + "/v1/classify?q=rain+tomorrow")
	require.NoError(t, err)
	var c message.Classification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	resp.Body.Close()
	assert.Equal(t, "rain tomorrow", c.Text)
	assert.Equal(t, "weather", c.Intent)

	resp, err = http.Get(srv.URL + "/v1/classify")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("-15.3875,28.3228")
	require.NoError(t, err)
	assert.InDelta(t, -15.3875, loc.Latitude, 1e-9)

	for _, bad := range []string{"", "1", "x,2", "91,0", "0,181"} {
		_, err := ParseLocation(bad)
		assert.ErrorIs(t, err, transport.ErrInvalid, bad)
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(transport.ErrInvalid))
	assert.Equal(t, http.StatusNotFound, StatusCode(fmt.Errorf("x: %w", transport.ErrNotFound)))
	assert.Equal(t, http.StatusConflict, StatusCode(transport.ErrConflict))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(transport.ErrUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(io.EOF))
}

func readEvent(t *testing.T, ctx context.Context, c *websocket.Conn) streamEvent {
	t.Helper()
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var ev streamEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func writeControl(t *testing.T, ctx context.Context, c *websocket.Conn, msg streamMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

func TestStreamCapture(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/phone-1", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	writeControl(t, ctx, c, streamMessage{Type: "ping"})
	assert.Equal(t, "pong", readEvent(t, ctx, c).Type)

	writeControl(t, ctx, c, streamMessage{Type: "start"})
	assert.Equal(t, "recording", readEvent(t, ctx, c).Type)

	require.NoError(t, c.Write(ctx, websocket.MessageBinary, []byte("RIFF")))
	require.NoError(t, c.Write(ctx, websocket.MessageBinary, []byte("data")))

	writeControl(t, ctx, c, streamMessage{Type: "stop", AuthToken: "tok"})
	assert.Equal(t, "processing", readEvent(t, ctx, c).Type)

	ev := readEvent(t, ctx, c)
	require.Equal(t, "result", ev.Type)
	require.NotNil(t, ev.Result)
	assert.Equal(t, "RIFFdata", ev.Result.User.Text)
	assert.Equal(t, "phone-1", ev.Result.SessionID)
}

func TestStreamCancelAndErrors(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/phone-1", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	// Audio without start is rejected.
	require.NoError(t, c.Write(ctx, websocket.MessageBinary, []byte("RIFF")))
	assert.Equal(t, "error", readEvent(t, ctx, c).Type)

	writeControl(t, ctx, c, streamMessage{Type: "start"})
	assert.Equal(t, "recording", readEvent(t, ctx, c).Type)
	writeControl(t, ctx, c, streamMessage{Type: "cancel"})
	assert.Equal(t, "cancelled", readEvent(t, ctx, c).Type)

	svc.mu.Lock()
	assert.False(t, svc.recording["phone-1"])
	svc.mu.Unlock()

	writeControl(t, ctx, c, streamMessage{Type: "language", Language: "Lozi"})
	assert.Equal(t, "language", readEvent(t, ctx, c).Type)

	writeControl(t, ctx, c, streamMessage{Type: "dance"})
	ev := readEvent(t, ctx, c)
	assert.Equal(t, "error", ev.Type)
	assert.Contains(t, ev.Error, "dance")

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("not json")))
	assert.Equal(t, "error", readEvent(t, ctx, c).Type)
}

func TestStreamDisconnectCancelsOwnCapture(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/phone-1", nil)
	require.NoError(t, err)

	writeControl(t, ctx, c, streamMessage{Type: "start"})
	assert.Equal(t, "recording", readEvent(t, ctx, c).Type)
	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))

	assert.Eventually(t, func() bool { return !svc.isRecording("phone-1") }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamDisconnectLeavesOtherCaptures(t *testing.T) {
	svc := newFakeService()
	srv := newServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A capture started through another transport.
	require.NoError(t, svc.StartCapture(ctx, "phone-1"))

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/phone-1", nil)
	require.NoError(t, err)
	writeControl(t, ctx, c, streamMessage{Type: "ping"})
	assert.Equal(t, "pong", readEvent(t, ctx, c).Type)
	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))

	assert.Never(t, func() bool { return svc.cancelCount() > 0 }, 300*time.Millisecond, 10*time.Millisecond)
	assert.True(t, svc.isRecording("phone-1"))
}
