package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/fleetguard/internal/identity"
	"github.com/ashureev/fleetguard/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOperator = "op_0123456789abcdef0123456789abcdef"

func newTestRouter(t *testing.T, model Proposer, cfg HandlerConfig) http.Handler {
	t.Helper()
	f := newServiceFixture(t, model, nil, ServiceConfig{})
	h := NewHandler(f.service, cfg, nil)
	t.Cleanup(h.rateLimiter.Stop)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: identity.OperatorCookieName, Value: testOperator})
	if sessionID != "" {
		req.Header.Set(identity.SessionHeaderName, sessionID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleTurnReturnsModelReply(t *testing.T) {
	router := newTestRouter(t, &fakeModel{script: []*Proposal{{Reply: "Hello, operator."}}}, HandlerConfig{})

	rec := doRequest(t, router, http.MethodPost, "/api/agent/turn", "sess-a", `{"text":"hi","page_context":"busDashboard"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sess-a", rec.Header().Get(identity.SessionHeaderName))

	var resp TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "sess-a", resp.SessionID)
	assert.Equal(t, "Hello, operator.", resp.Response)
	assert.False(t, resp.AwaitingConfirmation)
}

func TestHandleTurnErrorResponses(t *testing.T) {
	tests := []struct {
		name   string
		model  *fakeModel
		body   string
		status int
	}{
		{"invalid json", &fakeModel{}, `{"text":`, http.StatusBadRequest},
		{"empty text", &fakeModel{}, `{"text":"","page_context":"bus_dashboard"}`, http.StatusBadRequest},
		{"model unavailable", &fakeModel{err: ErrModelUnavailable}, `{"text":"hi","page_context":"bus_dashboard"}`, http.StatusBadGateway},
		{"model timeout", &fakeModel{err: ErrModelTimeout}, `{"text":"hi","page_context":"bus_dashboard"}`, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, tt.model, HandlerConfig{})
			rec := doRequest(t, router, http.MethodPost, "/api/agent/turn", "sess-a", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleTurnRejectsOversizedBody(t *testing.T) {
	router := newTestRouter(t, &fakeModel{}, HandlerConfig{MaxRequestBody: 64})
	body := `{"text":"` + strings.Repeat("a", 200) + `"}`
	rec := doRequest(t, router, http.MethodPost, "/api/agent/turn", "sess-a", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleTurnRateLimited(t *testing.T) {
	model := &fakeModel{script: []*Proposal{{Reply: "one"}, {Reply: "two"}}}
	router := newTestRouter(t, model, HandlerConfig{RequestsPerWindow: 1, Window: time.Minute})

	rec := doRequest(t, router, http.MethodPost, "/api/agent/turn", "sess-a", `{"text":"hi","page_context":"bus_dashboard"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/agent/turn", "sess-b", `{"text":"hi","page_context":"bus_dashboard"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "rotating the session id must not bypass the limit")
	assert.Equal(t, 1, model.calls())
}

func TestSessionInspectAndReset(t *testing.T) {
	router := newTestRouter(t, &fakeModel{script: []*Proposal{{Reply: "Hello."}}}, HandlerConfig{})

	rec := doRequest(t, router, http.MethodGet, "/api/agent/session", "sess-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/agent/turn", "sess-a", `{"text":"hi","page_context":"bus_dashboard"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/agent/session", "sess-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Len(t, view.Turns, 2)
	assert.Equal(t, "bus_dashboard", view.PageContext)

	rec = doRequest(t, router, http.MethodDelete, "/api/agent/session", "sess-a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/agent/session", "sess-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{session.ErrBusy, http.StatusConflict},
		{session.ErrNotOwner, http.StatusForbidden},
		{session.ErrNotFound, http.StatusNotFound},
		{ErrInvalidImage, http.StatusBadRequest},
		{ErrModelTimeout, http.StatusGatewayTimeout},
		{ErrModelUnavailable, http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, msg := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
}

func TestHandleWebSocketTurns(t *testing.T) {
	router := newTestRouter(t, &fakeModel{script: []*Proposal{{Reply: "Hello over ws."}}}, HandlerConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Add("Cookie", identity.OperatorCookieName+"="+testOperator)
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/agent/ws?session_id=sess-ws", &websocket.DialOptions{
		HTTPHeader: header,
	})
	require.NoError(t, err)
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	read := func() map[string]any {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		return got
	}

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", read()["type"])

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"text":"hi","page_context":"bus_dashboard"}`)))
	got := read()
	assert.Equal(t, "turn", got["type"])
	assert.Equal(t, "sess-ws", got["session_id"])
	assert.Equal(t, "Hello over ws.", got["response"])

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"text":""}`)))
	got = read()
	assert.Equal(t, "error", got["type"])
	assert.EqualValues(t, http.StatusBadRequest, got["status"])
}

func TestWebSocketReplacedAndClosedOnReset(t *testing.T) {
	router := newTestRouter(t, &fakeModel{}, HandlerConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial := func() *websocket.Conn {
		header := http.Header{}
		header.Add("Cookie", identity.OperatorCookieName+"="+testOperator)
		ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/agent/ws?session_id=sess-dup", &websocket.DialOptions{
			HTTPHeader: header,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = ws.CloseNow() })
		return ws
	}

	first := dial()
	second := dial()

	_, _, err := first.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	// The second connection is live until the session is reset.
	require.NoError(t, second.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	_, data, err := second.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pong")

	rec := doRequest(t, router, http.MethodDelete, "/api/agent/session", "sess-dup", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, _, err = second.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}
