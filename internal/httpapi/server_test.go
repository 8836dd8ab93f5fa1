package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wabridge/internal/fetch"
	"github.com/danmuck/wabridge/internal/messenger"
	"github.com/danmuck/wabridge/internal/session"
	"github.com/danmuck/wabridge/internal/testutil/fakemessenger"
	"github.com/danmuck/wabridge/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type stubSession struct {
	mu         sync.Mutex
	status     session.Status
	lastErr    string
	qr         string
	credential string
	capability messenger.Capability
}

func (s *stubSession) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Snapshot{
		Status:        s.status,
		LastError:     s.lastErr,
		HasCredential: s.credential != "",
		Since:         time.Unix(1700000000, 0),
	}
}

func (s *stubSession) PairingArtifact() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr, s.status == session.StatusQRPending && s.qr != ""
}

func (s *stubSession) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential, s.credential != ""
}

func (s *stubSession) Handle() (messenger.Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != session.StatusReady {
		return nil, fmt.Errorf("%w: %s", session.ErrNotReady, s.status)
	}
	return s.capability, nil
}

func readySession(credential string) (*stubSession, *fakemessenger.Capability) {
	fake := fakemessenger.New()
	fake.Chats = []messenger.Chat{
		{ID: "old@c.us", Name: "Old", Timestamp: 1700000000},
		{ID: "new@c.us", Name: "New", Timestamp: 1700000900},
		{ID: "mid@g.us", Name: "Mid", IsGroup: true, Timestamp: 1700000500},
	}
	fake.Messages["new@c.us"] = []messenger.Message{
		{ID: "m1", Body: "one", Timestamp: 1700000001},
		{ID: "m2", Body: "two", Timestamp: 1700000002},
		{ID: "m3", Body: "three", FromMe: true, Timestamp: 1700000003},
	}
	return &stubSession{status: session.StatusReady, credential: credential, capability: fake}, fake
}

func newTestServer(t *testing.T, sess Session, fcfg fetch.Config, requireCredential bool) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if fcfg.Budget == 0 {
		fcfg.Budget = time.Second
	}
	s, err := New(Config{Addr: "127.0.0.1:0", RequireCredential: requireCredential}, sess, fetch.New(fcfg))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

type call struct {
	method string
	target string
	body   string
	header map[string]string
	remote string
}

func do(t *testing.T, s *Server, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if c.body != "" {
		body = bytes.NewReader([]byte(c.body))
	} else {
		body = bytes.NewReader(nil)
	}
	method := c.method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, c.target, body)
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	if c.remote != "" {
		req.RemoteAddr = c.remote
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestNewRejectsNilDependencies(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}, nil, fetch.New(fetch.Config{})); err != ErrNilSession {
		t.Fatalf("expected ErrNilSession, got %v", err)
	}
	if _, err := New(Config{}, &stubSession{}, nil); err != ErrNilFetcher {
		t.Fatalf("expected ErrNilFetcher, got %v", err)
	}
}

func TestHealthAndStatus(t *testing.T) {
	testlog.Start(t)
	sess := &stubSession{status: session.StatusDisconnected, lastErr: "navigation timeout"}
	s := newTestServer(t, sess, fetch.Config{}, true)

	rr := do(t, s, call{target: "/health"})
	if rr.Code != http.StatusOK {
		t.Fatalf("health status %d", rr.Code)
	}
	body := decode(t, rr)
	if body["status"] != "ok" || body["timestamp"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected health body: %#v", body)
	}

	rr = do(t, s, call{target: "/status"})
	body = decode(t, rr)
	if rr.Code != http.StatusOK || body["status"] != "disconnected" || body["error"] != "navigation timeout" {
		t.Fatalf("unexpected status body: %d %#v", rr.Code, body)
	}
	if body["hasCredential"] != false {
		t.Fatalf("expected hasCredential=false: %#v", body)
	}

	sess.lastErr = ""
	body = decode(t, do(t, s, call{target: "/status"}))
	if v, ok := body["error"]; !ok || v != nil {
		t.Fatalf("expected null error, got %#v", body)
	}
}

func TestQRRoutes(t *testing.T) {
	testlog.Start(t)
	sess := &stubSession{status: session.StatusInitializing}
	s := newTestServer(t, sess, fetch.Config{}, true)

	rr := do(t, s, call{target: "/qr"})
	body := decode(t, rr)
	if rr.Code != http.StatusNotFound || body["status"] != "error" || body["message"] == "" {
		t.Fatalf("expected 404 error body, got %d %#v", rr.Code, body)
	}

	sess.status = session.StatusQRPending
	sess.qr = "2@abc,def,ghi"
	body = decode(t, do(t, s, call{target: "/qr"}))
	if body["status"] != "ok" || body["qr"] != "2@abc,def,ghi" {
		t.Fatalf("unexpected qr body: %#v", body)
	}

	for _, c := range []call{
		{target: "/qr?format=png"},
		{target: "/qr", header: map[string]string{"Accept": "image/png"}},
	} {
		rr = do(t, s, c)
		if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
			t.Fatalf("expected png for %+v, got %d %q", c, rr.Code, rr.Header().Get("Content-Type"))
		}
		if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
			t.Fatalf("body is not a png")
		}
	}
}

func TestAPIRequiresReadySession(t *testing.T) {
	testlog.Start(t)
	sess := &stubSession{status: session.StatusQRPending}
	s := newTestServer(t, sess, fetch.Config{}, true)

	for _, target := range []string{"/api/chats", "/api/chats/recent", "/api/chats/x@c.us/messages"} {
		rr := do(t, s, call{target: target})
		body := decode(t, rr)
		if rr.Code != http.StatusServiceUnavailable || body["success"] != false || body["status"] != "qr_pending" {
			t.Fatalf("%s: expected 503 not ready, got %d %#v", target, rr.Code, body)
		}
	}
}

func TestCredentialMismatchIsRejected(t *testing.T) {
	testlog.Start(t)
	sess, _ := readySession("abc123")
	s := newTestServer(t, sess, fetch.Config{}, true)

	rr := do(t, s, call{target: "/api/chats", header: map[string]string{"Authorization": "Bearer wrongvalue"}})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"error":"Invalid API key","success":false}` {
		t.Fatalf("unexpected 401 body: %s", got)
	}

	if rr := do(t, s, call{target: "/api/chats"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	for _, c := range []call{
		{target: "/api/chats", header: map[string]string{"Authorization": "Bearer abc123"}},
		{target: "/api/chats", header: map[string]string{"X-API-Key": "abc123"}},
		{target: "/api/chats?api_key=abc123"},
	} {
		if rr := do(t, s, c); rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %+v, got %d %s", c, rr.Code, rr.Body.String())
		}
	}
}

func TestCredentialPolicyOpenBeforeIssueAndWhenDisabled(t *testing.T) {
	testlog.Start(t)
	sess, _ := readySession("")
	s := newTestServer(t, sess, fetch.Config{}, true)
	if rr := do(t, s, call{target: "/api/chats"}); rr.Code != http.StatusOK {
		t.Fatalf("expected open access before credential issue, got %d", rr.Code)
	}

	sess2, _ := readySession("abc123")
	s2 := newTestServer(t, sess2, fetch.Config{}, false)
	if rr := do(t, s2, call{target: "/api/chats", header: map[string]string{"Authorization": "Bearer nope"}}); rr.Code != http.StatusOK {
		t.Fatalf("expected open access when not required, got %d", rr.Code)
	}
}

func TestListAndRecentChats(t *testing.T) {
	testlog.Start(t)
	sess, _ := readySession("")
	s := newTestServer(t, sess, fetch.Config{}, true)

	rr := do(t, s, call{target: "/api/chats"})
	body := decode(t, rr)
	chats, _ := body["chats"].([]any)
	if rr.Code != http.StatusOK || body["success"] != true || len(chats) != 3 || body["source"] != "primary" {
		t.Fatalf("unexpected chats body: %d %#v", rr.Code, body)
	}
	first := chats[0].(map[string]any)
	if first["id"] != "old@c.us" || first["timestamp"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected first chat: %#v", first)
	}

	body = decode(t, do(t, s, call{target: "/api/chats/recent"}))
	chat := body["chat"].(map[string]any)
	if chat["id"] != "new@c.us" || chat["name"] != "New" {
		t.Fatalf("expected most recent chat, got %#v", chat)
	}
}

func TestListChatsPlaceholderWhenExhausted(t *testing.T) {
	testlog.Start(t)
	sess, fake := readySession("")
	fake.Chats = nil
	s := newTestServer(t, sess, fetch.Config{}, true)

	body := decode(t, do(t, s, call{target: "/api/chats"}))
	chats, _ := body["chats"].([]any)
	if body["success"] != true || body["placeholder"] != true || len(chats) != 1 {
		t.Fatalf("expected single placeholder, got %#v", body)
	}
}

func TestListMessages(t *testing.T) {
	testlog.Start(t)
	sess, _ := readySession("")
	s := newTestServer(t, sess, fetch.Config{}, true)

	rr := do(t, s, call{target: "/api/chats/new@c.us/messages?limit=2"})
	body := decode(t, rr)
	msgs, _ := body["messages"].([]any)
	if rr.Code != http.StatusOK || body["chatId"] != "new@c.us" || len(msgs) != 2 {
		t.Fatalf("unexpected messages body: %d %#v", rr.Code, body)
	}
	last := msgs[1].(map[string]any)
	if last["id"] != "m3" || last["body"] != "three" || last["fromMe"] != true {
		t.Fatalf("unexpected last message: %#v", last)
	}

	for _, limit := range []string{"abc", "0", "-3"} {
		if rr := do(t, s, call{target: "/api/chats/new@c.us/messages?limit=" + limit}); rr.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: expected 400, got %d", limit, rr.Code)
		}
	}
}

func TestFetchTimeoutMapsTo504(t *testing.T) {
	testlog.Start(t)
	sess, _ := readySession("")
	release := make(chan struct{})
	defer close(release)
	hang := fetch.StrategyFunc{Label: "hang", Fn: func(context.Context, messenger.Capability, fetch.Query) (fetch.Raw, error) {
		<-release
		return fetch.Raw{}, nil
	}}
	s := newTestServer(t, sess, fetch.Config{Budget: 20 * time.Millisecond, Conversations: []fetch.Strategy{hang}}, true)

	rr := do(t, s, call{target: "/api/chats"})
	body := decode(t, rr)
	if rr.Code != http.StatusGatewayTimeout || body["success"] != false {
		t.Fatalf("expected 504, got %d %#v", rr.Code, body)
	}
}

func TestSendMessage(t *testing.T) {
	testlog.Start(t)
	sess, fake := readySession("")
	fake.SendHook = func(_ context.Context, id, body string) (messenger.Message, error) {
		if id != "new@c.us" {
			return messenger.Message{}, messenger.ErrConversationNotFound
		}
		return messenger.Message{ID: "sent-1", Body: body, FromMe: true, Timestamp: 1700000000}, nil
	}
	s := newTestServer(t, sess, fetch.Config{}, true)

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{name: "bad json", target: "/api/chats/new@c.us/messages", body: `{"message":`, want: http.StatusBadRequest},
		{name: "empty body", target: "/api/chats/new@c.us/messages", body: "", want: http.StatusBadRequest},
		{name: "missing message", target: "/api/chats/new@c.us/messages", body: `{"text":"hi"}`, want: http.StatusBadRequest},
		{name: "blank message", target: "/api/chats/new@c.us/messages", body: `{"message":"   "}`, want: http.StatusBadRequest},
		{name: "unknown chat", target: "/api/chats/ghost@c.us/messages", body: `{"message":"hi"}`, want: http.StatusNotFound},
		{name: "ok", target: "/api/chats/new@c.us/messages", body: `{"message":"hello there"}`, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, s, call{
				method: http.MethodPost,
				target: tc.target,
				body:   tc.body,
				header: map[string]string{"Content-Type": "application/json"},
			})
			body := decode(t, rr)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d %#v", tc.want, rr.Code, body)
			}
			if tc.want != http.StatusOK {
				if body["success"] != false || body["error"] == "" {
					t.Fatalf("expected error body, got %#v", body)
				}
				return
			}
			msg := body["message"].(map[string]any)
			if msg["id"] != "sent-1" || msg["body"] != "hello there" || msg["fromMe"] != true {
				t.Fatalf("unexpected sent message: %#v", msg)
			}
		})
	}
}

func TestCredentialRouteIsLoopbackOnly(t *testing.T) {
	testlog.Start(t)
	sess, _ := readySession("abc123")
	s := newTestServer(t, sess, fetch.Config{}, true)

	if rr := do(t, s, call{target: "/api/credential", remote: "203.0.113.9:4000"}); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 from remote caller, got %d", rr.Code)
	}
	rr := do(t, s, call{target: "/api/credential", remote: "127.0.0.1:4000"})
	body := decode(t, rr)
	if rr.Code != http.StatusOK || body["apiKey"] != "abc123" {
		t.Fatalf("unexpected credential response: %d %#v", rr.Code, body)
	}

	sess.credential = ""
	if rr := do(t, s, call{target: "/api/credential", remote: "[::1]:4000"}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before issue, got %d", rr.Code)
	}
}

func TestPanicsBecome500(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, &stubSession{status: session.StatusReady}, fetch.Config{}, false)
	s.router.GET("/boom", func(*gin.Context) { panic("boom") })

	rr := do(t, s, call{target: "/boom"})
	body := decode(t, rr)
	if rr.Code != http.StatusInternalServerError || body["success"] != false || body["error"] != "internal server error" {
		t.Fatalf("unexpected panic response: %d %#v", rr.Code, body)
	}
	if rr := do(t, s, call{target: "/health"}); rr.Code != http.StatusOK {
		t.Fatalf("server must keep serving after a panic, got %d", rr.Code)
	}
}
