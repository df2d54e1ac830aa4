package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"RoleplayChat/internal/backend"
	"RoleplayChat/internal/config"
	"RoleplayChat/internal/session"
	"RoleplayChat/internal/store"
)

type fakeGateway struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []backend.Request
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Complete(ctx context.Context, req backend.Request) (backend.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return backend.Completion{}, g.err
	}
	return backend.Completion{Text: g.reply, Model: "fake-1"}, nil
}

func (g *fakeGateway) last() backend.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type testEnv struct {
	store   *store.Store
	gateway *fakeGateway
	handler http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "chat.db"),
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gw := &fakeGateway{reply: "The innkeeper nods."}
	svc := NewService(Deps{Store: st, Gateway: gw, Logger: discardLogger()})
	srv := NewServer(config.ServerConfig{
		Addr:           "127.0.0.1:0",
		AllowedOrigins: []string{"http://localhost:3000"},
		AppendTimeout:  5 * time.Second,
	}, svc, discardLogger(), nil, nil)

	return &testEnv{store: st, gateway: gw, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func appendBody(sessionID string, turns ...session.Turn) string {
	b, _ := json.Marshal(AppendRequest{Messages: turns, SessionID: sessionID})
	return string(b)
}

func TestHistorySeedsGreetingOnce(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/chat?sessionId=tavern", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET #%d status = %d", i, rec.Code)
		}
		resp := decode[HistoryResponse](t, rec)
		if len(resp.Messages) != 1 {
			t.Fatalf("GET #%d returned %d messages, want 1", i, len(resp.Messages))
		}
		if resp.Messages[0].Role != session.RoleAssistant || resp.Messages[0].Content != session.Greeting {
			t.Errorf("GET #%d message = %+v", i, resp.Messages[0])
		}
	}
}

func TestHistoryRequiresSessionID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/chat", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "sessionId is required" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestAppendTurnPersistsBothSides(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/chat?sessionId=s1", "")

	body := appendBody("s1",
		session.Turn{Role: session.RoleAssistant, Content: session.Greeting},
		session.Turn{Role: session.RoleUser, Content: "I enter the tavern."},
	)
	rec := env.do(t, http.MethodPost, "/api/chat", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[MessageResponse](t, rec); got.Message != "The innkeeper nods." {
		t.Errorf("message = %q", got.Message)
	}

	req := env.gateway.last()
	if req.System != SystemPrompt || req.Temperature != Temperature || req.MaxTokens != MaxOutputTokens {
		t.Errorf("request params = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[1].Content != "I enter the tavern." {
		t.Errorf("gateway saw %+v", req.Messages)
	}

	hist := decode[HistoryResponse](t, env.do(t, http.MethodGet, "/api/chat?sessionId=s1", ""))
	want := []session.Turn{
		{Role: session.RoleAssistant, Content: session.Greeting},
		{Role: session.RoleUser, Content: "I enter the tavern."},
		{Role: session.RoleAssistant, Content: "The innkeeper nods."},
	}
	if len(hist.Messages) != len(want) {
		t.Fatalf("history = %+v", hist.Messages)
	}
	for i := range want {
		if hist.Messages[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, hist.Messages[i], want[i])
		}
	}
}

func TestAppendTurnStoresOnlyLastTurn(t *testing.T) {
	env := newTestEnv(t)

	body := appendBody("s2",
		session.Turn{Role: session.RoleUser, Content: "first"},
		session.Turn{Role: session.RoleAssistant, Content: "made up"},
		session.Turn{Role: session.RoleUser, Content: "second"},
	)
	if rec := env.do(t, http.MethodPost, "/api/chat", body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	msgs, err := env.store.List(context.Background(), "s2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "second" || msgs[1].Role != session.RoleAssistant {
		t.Errorf("stored = %+v", msgs)
	}
}

func TestAppendTurnGatewayFailureKeepsUserTurn(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.err = errors.New("quota exceeded")

	body := appendBody("s3", session.Turn{Role: session.RoleUser, Content: "Hello?"})
	rec := env.do(t, http.MethodPost, "/api/chat", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "Failed to generate response" {
		t.Errorf("error = %q", got.Error)
	}

	msgs, err := env.store.List(context.Background(), "s3")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Role != session.RoleUser {
		t.Errorf("stored = %+v, want only the user turn", msgs)
	}
}

func TestAppendTurnRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"messages":`},
		{"missing session", appendBody("", session.Turn{Role: session.RoleUser, Content: "hi"})},
		{"no messages", `{"sessionId":"s4","messages":[]}`},
		{"unknown role", `{"sessionId":"s4","messages":[{"role":"system","content":"hi"}]}`},
		{"last turn not user", appendBody("s4", session.Turn{Role: session.RoleAssistant, Content: "hi"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/chat", tt.body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if got := decode[ErrorResponse](t, rec); got.Error != "Failed to generate response" {
				t.Errorf("error = %q", got.Error)
			}
			if len(env.gateway.requests) != 0 {
				t.Error("gateway was called")
			}
			msgs, _ := env.store.List(context.Background(), "s4")
			if len(msgs) != 0 {
				t.Errorf("stored %d messages", len(msgs))
			}
		})
	}
}

func TestDeleteHistory(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/chat", appendBody("s5", session.Turn{Role: session.RoleUser, Content: "hi"}))

	rec := env.do(t, http.MethodDelete, "/api/chat?sessionId=s5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[MessageResponse](t, rec); got.Message != "Chat history deleted" {
		t.Errorf("message = %q", got.Message)
	}

	// A deleted session starts over from the greeting.
	hist := decode[HistoryResponse](t, env.do(t, http.MethodGet, "/api/chat?sessionId=s5", ""))
	if len(hist.Messages) != 1 || hist.Messages[0].Content != session.Greeting {
		t.Errorf("history after delete = %+v", hist.Messages)
	}
}

func TestDeleteHistoryEdgeCases(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/chat", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/chat?sessionId=never-used", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown id status = %d, want 200", rec.Code)
	}
	if got := decode[MessageResponse](t, rec); got.Message != "Chat history deleted" {
		t.Errorf("unknown id message = %q, want %q", got.Message, "Chat history deleted")
	}
}

func TestSessionsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/chat?sessionId=a", "")
	env.do(t, http.MethodGet, "/api/chat?sessionId=b", "")

	rec := env.do(t, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", rec.Code)
	}
	resp := decode[struct {
		Sessions []store.Summary `json:"sessions"`
	}](t, rec)
	if len(resp.Sessions) != 2 {
		t.Errorf("sessions = %+v", resp.Sessions)
	}

	if rec := env.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPut, "/api/chat", "{}"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT status = %d, want 405", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat?sessionId=x", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

type failingStore struct{ err error }

func (f failingStore) Append(context.Context, string, session.Role, string) (session.Message, error) {
	return session.Message{}, f.err
}
func (f failingStore) SeedIfEmpty(context.Context, string, string) ([]session.Message, bool, error) {
	return nil, false, f.err
}
func (f failingStore) DeleteSession(context.Context, string) (int64, error) { return 0, f.err }
func (f failingStore) Sessions(context.Context) ([]store.Summary, error) { return nil, f.err }
func (f failingStore) Ping(context.Context) error { return f.err }

func TestStoreFailures(t *testing.T) {
	svc := NewService(Deps{Store: failingStore{err: errors.New("disk full")}, Gateway: &fakeGateway{}, Logger: discardLogger()})
	srv := NewServer(config.ServerConfig{}, svc, discardLogger(), nil, nil)
	h := srv.Handler()

	tests := []struct {
		method, target, body string
		status               int
		msg                  string
	}{
		{http.MethodGet, "/api/chat?sessionId=x", "", http.StatusInternalServerError, "Failed to load chat history"},
		{http.MethodPost, "/api/chat", appendBody("x", session.Turn{Role: session.RoleUser, Content: "hi"}), http.StatusInternalServerError, "Failed to generate response"},
		{http.MethodDelete, "/api/chat?sessionId=x", "", http.StatusInternalServerError, "Failed to delete chat history"},
		{http.MethodGet, "/healthz", "", http.StatusServiceUnavailable, "store unavailable"},
	}
	for _, tt := range tests {
		var body io.Reader
		if tt.body != "" {
			body = strings.NewReader(tt.body)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, body))
		if rec.Code != tt.status {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.target, rec.Code, tt.status)
			continue
		}
		if got := decode[ErrorResponse](t, rec); got.Error != tt.msg {
			t.Errorf("%s %s error = %q, want %q", tt.method, tt.target, got.Error, tt.msg)
		}
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(Deps{Store: env.store, Gateway: env.gateway, Logger: discardLogger()})
	srv := NewServer(config.ServerConfig{Addr: "127.0.0.1:0"}, svc, discardLogger(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
