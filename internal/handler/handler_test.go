package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"catwatch/internal/config"
	"catwatch/internal/dto"
	"catwatch/internal/logger"
	"catwatch/internal/metrics"
	wshub "catwatch/internal/services/websocket"
	"catwatch/internal/testutil"
	"catwatch/internal/visibility"

	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu      sync.Mutex
	frame   dto.Frame
	ready   bool
	entries []dto.LogEntry
	viewers map[string]visibility.State
	forgot  []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{viewers: make(map[string]visibility.State)}
}

func (s *fakeSession) Status() dto.StatusResponse {
	return dto.StatusResponse{
		Status:       "😺 Cat detected!",
		Cycle:        dto.CycleState{Active: true, Generation: 3, InnerRunning: true},
		CameraActive: true,
		ReadyState:   "enough_data",
		Visible:      true,
	}
}

func (s *fakeSession) Frame() (dto.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.ready
}

func (s *fakeSession) LogEntries() []dto.LogEntry {
	return s.entries
}

func (s *fakeSession) UpdateVisibility(viewerID string, state visibility.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[viewerID] = state
}

func (s *fakeSession) ForgetViewer(viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, viewerID)
	s.forgot = append(s.forgot, viewerID)
}

func (s *fakeSession) Greeting() []dto.Message {
	return []dto.Message{{Type: dto.MessageStatus, Payload: "🔍 Starting detection..."}}
}

func (s *fakeSession) snapshot() (map[string]visibility.State, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	viewers := make(map[string]visibility.State, len(s.viewers))
	for k, v := range s.viewers {
		viewers[k] = v
	}
	return viewers, append([]string(nil), s.forgot...)
}

func quietLogger() *logger.Logger {
	return logger.NewWriterLogger(io.Discard)
}

func TestFrameHandler(t *testing.T) {
	session := newFakeSession()
	h := FrameHandler(session)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/frame", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	session.frame = testutil.SampleFrame()
	session.frame.Seq = 7
	session.ready = true

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/frame", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "7", rec.Header().Get("X-Frame-Seq"))
	assert.Equal(t, session.frame.Data, rec.Body.Bytes())
}

func TestStreamHandler_WritesPartsUntilClientLeaves(t *testing.T) {
	session := newFakeSession()
	session.frame = testutil.SampleFrame()
	session.ready = true
	m := metrics.New()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	StreamHandler(session, 5*time.Millisecond, m, quietLogger())(rec, req)

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	body := rec.Body.Bytes()
	assert.GreaterOrEqual(t, bytes.Count(body, []byte("--frame\r\n")), 2)
	assert.True(t, bytes.Contains(body, session.frame.Data))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.MJPEGClients))
}

func TestStreamHandler_BlankFrameWhenNotReady(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	StreamHandler(newFakeSession(), 5*time.Millisecond, metrics.New(), quietLogger())(rec, req)

	blank, err := blankJPEG()
	require.NoError(t, err)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), blank))
}

func TestVisibilityHandler(t *testing.T) {
	session := newFakeSession()
	h := VisibilityHandler(session, quietLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/visibility", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/visibility", strings.NewReader(`{"state":"prerender"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/visibility", strings.NewReader(`{"state":"hidden"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/visibility", strings.NewReader(`{"viewer":"kiosk","state":"visible"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	viewers, _ := session.snapshot()
	assert.Equal(t, map[string]visibility.State{
		httpViewer: visibility.Hidden,
		"kiosk":    visibility.Visible,
	}, viewers)
}

func TestStatusHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	StatusHandler(newFakeSession(), quietLogger())(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got dto.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "😺 Cat detected!", got.Status)
	assert.True(t, got.Cycle.Active)
	assert.Equal(t, uint64(3), got.Cycle.Generation)
	assert.Equal(t, "enough_data", got.ReadyState)
}

func TestJournalHandler(t *testing.T) {
	session := newFakeSession()
	session.entries = []dto.LogEntry{
		{Message: "Found cat: true"},
		{Message: "Predictions:", Raw: `[{"class":"cat","score":0.9,"bbox":[1,2,3,4]}]`},
	}

	rec := httptest.NewRecorder()
	JournalHandler(session, quietLogger())(rec, httptest.NewRequest(http.MethodGet, "/api/logs", nil))

	var got []dto.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Found cat: true", got[0].Message)
	assert.Contains(t, got[1].Raw, `"bbox":[1,2,3,4]`)
	assert.Contains(t, rec.Body.String(), `"color":"blue"`)
}

func TestLogFileHandlers(t *testing.T) {
	dir := t.TempDir()
	l, err := logger.NewLogger(dir)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	l.Info("hello %s", "there")

	rec := httptest.NewRecorder()
	ShowLogsHandler(l, "info.log")(rec, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello there")

	rec = httptest.NewRecorder()
	ClearLogsHandler(l, "error.log")(rec, httptest.NewRequest(http.MethodGet, "/logs/error/clear", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	ClearLogsHandler(l, "warning.log")(rec, httptest.NewRequest(http.MethodPost, "/logs/warning/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, os.Remove(filepath.Join(dir, "error.log")))
	rec = httptest.NewRecorder()
	ShowLogsHandler(l, "error.log")(rec, httptest.NewRequest(http.MethodGet, "/logs/error", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginHandler(t *testing.T) {
	h := LoginHandler(&config.Config{Password: "whiskers"}, quietLogger())

	form := func(password string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(url.Values{"password": {password}}.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r
	}

	rec := httptest.NewRecorder()
	h(rec, form("dog"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = httptest.NewRecorder()
	h(rec, form("whiskers"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, "true", rec.Result().Cookies()[0].Value)

	rec = httptest.NewRecorder()
	LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Less(t, rec.Result().Cookies()[0].MaxAge, 0)
}

func TestViewWebsocketHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	hub := wshub.NewHubService(quietLogger(), m)
	go hub.Run(ctx)

	session := newFakeSession()
	srv := httptest.NewServer(ViewWebsocketHandler(session, hub, quietLogger()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	var greeting dto.Message
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, dto.MessageStatus, greeting.Type)
	assert.Equal(t, "🔍 Starting detection...", greeting.Payload)

	hub.BroadcastMessage(dto.Message{Type: dto.MessageLog, Payload: dto.LogEntry{Message: "Found cat: false"}})
	var broadcast map[string]any
	require.NoError(t, conn.ReadJSON(&broadcast))
	assert.Equal(t, dto.MessageLog, broadcast["type"])
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Viewers))

	require.NoError(t, conn.WriteJSON(dto.Message{Type: dto.MessageVisibility, State: "hidden"}))
	require.Eventually(t, func() bool {
		viewers, _ := session.snapshot()
		return len(viewers) == 1
	}, time.Second, time.Millisecond)
	viewers, _ := session.snapshot()
	for _, state := range viewers {
		assert.Equal(t, visibility.Hidden, state)
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		viewers, forgot := session.snapshot()
		return len(viewers) == 0 && len(forgot) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, time.Millisecond)
}
