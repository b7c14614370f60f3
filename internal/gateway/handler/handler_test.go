package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalcoach/internal/adapter"
	domain "goalcoach/internal/conversation"
	"goalcoach/internal/gateway/middleware"
	convsvc "goalcoach/internal/gateway/service/conversation"
	"goalcoach/internal/memory"
)

type failingAdapter struct{}

func (failingAdapter) Name() string { return "failing" }

func (failingAdapter) Generate(context.Context, adapter.Input) (adapter.Output, error) {
	return adapter.Output{}, errors.New("model unavailable")
}

const testAdminToken = "operator-secret"

func adminRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func newTestServer(t *testing.T) (*httptest.Server, *convsvc.Service) {
	t.Helper()
	reg := adapter.NewRegistry(adapter.NewSimulated(0), failingAdapter{})
	svc, err := convsvc.New(memory.New(nil), reg, adapter.NewSelector(""), convsvc.Config{ReplayCacheSize: 16}, nil)
	require.NoError(t, err)

	conv := NewConversationHandler(svc, nil)
	admin := NewAdminHandler(svc, testAdminToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversation", conv.HandleConverse)
	mux.HandleFunc("/api/conversation/ws", conv.HandleConversationWS)
	mux.HandleFunc("/health", admin.HandleHealth)
	mux.HandleFunc("/api/adapters", admin.RequireToken(admin.HandleAdapters))
	mux.HandleFunc("/api/state", admin.RequireToken(admin.HandleState))

	srv := httptest.NewServer(middleware.RequestID(mux))
	t.Cleanup(srv.Close)
	return srv, svc
}

func postConversation(t *testing.T, srv *httptest.Server, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/conversation", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestConverseHTTP(t *testing.T) {
	srv, svc := newTestServer(t)

	resp, body := postConversation(t, srv, `{"message":"I feel hopeful about the next chapter."}`, map[string]string{
		"x-user-id":        " user-123 ",
		"x-user-phase":     "Dance",
		"x-session-id":     " session-789 ",
		"x-client-version": "1.2.3",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	assert.Contains(t, body["reply"], "spark")
	sentiment := body["sentiment"].(map[string]any)
	assert.Equal(t, "bright", sentiment["label"])
	meta := body["meta"].(map[string]any)
	assert.Equal(t, "deterministic", meta["adapter"])
	assert.Equal(t, "dance", meta["phase"])
	assert.EqualValues(t, 2, meta["historySize"])
	assert.Contains(t, meta, "personalityHint")
	assert.Equal(t, "discovering", meta["personality"].(map[string]any)["stage"])

	assert.Len(t, svc.State("user-123").History, 2)
}

func TestConverseHTTPValidation(t *testing.T) {
	srv, svc := newTestServer(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing message", `{}`, "message"},
		{"empty message", `{"message":""}`, "message"},
		{"bad role", `{"message":"hi","history":[{"role":"bot","content":"x"}]}`, "history.0.role"},
		{"empty content", `{"message":"hi","history":[{"role":"user","content":""}]}`, "history.0.content"},
		{"bad sentiment", `{"message":"hi","history":[{"role":"user","content":"x","sentiment":"angry"}]}`, "history.0.sentiment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postConversation(t, srv, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "invalid_request", body["error"])
			fields := body["details"].(map[string]any)["fieldErrors"].(map[string]any)
			assert.Contains(t, fields, tt.field)
		})
	}

	var many []string
	for i := 0; i < domain.MaxHistory+1; i++ {
		many = append(many, `{"role":"user","content":"x"}`)
	}
	resp, body := postConversation(t, srv, `{"message":"hi","history":[`+strings.Join(many, ",")+`]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])

	resp, body = postConversation(t, srv, `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])

	assert.Empty(t, svc.State("").History, "rejected requests never touch state")
}

func TestConverseHTTPAdapterFailure(t *testing.T) {
	srv, svc := newTestServer(t)
	svc.SetAdapter("failing")

	resp, body := postConversation(t, srv, `{"message":"hello"}`, map[string]string{"x-user-id": "f"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal_error", body["error"])

	state := svc.State("f")
	require.Len(t, state.History, 1)
	assert.Equal(t, domain.RoleUser, state.History[0].Role)
}

func TestConverseHTTPReplaysRequestID(t *testing.T) {
	srv, svc := newTestServer(t)
	headers := map[string]string{"x-user-id": "r", "x-request-id": "retry-1"}

	_, first := postConversation(t, srv, `{"message":"hello"}`, headers)
	_, second := postConversation(t, srv, `{"message":"hello"}`, headers)
	assert.Equal(t, first, second)
	assert.Len(t, svc.State("r").History, 2)
}

func TestConverseHTTPWithoutRequestIDAdvancesEachTime(t *testing.T) {
	srv, svc := newTestServer(t)
	headers := map[string]string{"x-user-id": "fresh"}

	first, _ := postConversation(t, srv, `{"message":"hello"}`, headers)
	second, _ := postConversation(t, srv, `{"message":"hello"}`, headers)
	assert.NotEqual(t, first.Header.Get(middleware.RequestIDHeader), second.Header.Get(middleware.RequestIDHeader))
	assert.Len(t, svc.State("fresh").History, 4)
}

func TestConverseHTTPReusedRequestIDWithNewMessage(t *testing.T) {
	srv, svc := newTestServer(t)
	headers := map[string]string{"x-user-id": "reuse", "x-request-id": "r1"}

	postConversation(t, srv, `{"message":"I feel hopeful"}`, headers)
	_, body := postConversation(t, srv, `{"message":"I am anxious and stuck"}`, headers)
	assert.Equal(t, "heavy", body["sentiment"].(map[string]any)["label"])
	assert.Len(t, svc.State("reuse").History, 4)
}

func TestConverseMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/conversation")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthAndAdapters(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Post(srv.URL+"/api/adapters", "application/json", bytes.NewBufferString(`{"adapter":"Mock-OpenAI"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = adminRequest(t, http.MethodPost, srv.URL+"/api/adapters", `{"adapter":"Mock-OpenAI"}`)
	var adapters struct {
		Active     string   `json:"active"`
		Registered []string `json:"registered"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&adapters))
	resp.Body.Close()
	assert.Equal(t, "mock-openai", adapters.Active)
	assert.Equal(t, []string{"deterministic", "failing", "mock-openai"}, adapters.Registered)

	_, body := postConversation(t, srv, `{"message":"hello"}`, nil)
	assert.Equal(t, "mock-openai", body["meta"].(map[string]any)["adapter"])

	resp = adminRequest(t, http.MethodGet, srv.URL+"/api/state?user=anonymous", "")
	var state domain.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Len(t, state.History, 2)
}

func TestConversationWebsocket(t *testing.T) {
	srv, svc := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversation/ws?user=ws-user&phase=Integration"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var out wsOutbound
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "pong", out.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "message": "I'm anxious and stuck. what now?", "requestId": "w1"}))
	out = wsOutbound{}
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "reply", out.Type)
	assert.Equal(t, "w1", out.RequestID)
	assert.Contains(t, out.Reply, "not rush it")
	require.NotNil(t, out.Sentiment)
	assert.Equal(t, domain.ToneHeavy, out.Sentiment.Label)
	assert.Equal(t, "integration", out.Meta["phase"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "message": ""}))
	out = wsOutbound{}
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "invalid_request", out.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	out = wsOutbound{}
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "error", out.Type)

	assert.Len(t, svc.State("ws-user").History, 2)
}
