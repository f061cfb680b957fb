package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reeve-agent/reeve/internal/agent"
	"github.com/reeve-agent/reeve/internal/assemble"
	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/policy"
	"github.com/reeve-agent/reeve/internal/session"
	"github.com/reeve-agent/reeve/internal/tools"
)

// fixedProvider streams the same scripted deltas for every request.
type fixedProvider struct {
	deltas []string
}

func (p *fixedProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return p.ChatStream(ctx, req, func(llm.StreamEvent) {})
}

func (p *fixedProvider) ChatStream(ctx context.Context, req llm.Request, cb llm.StreamCallback) (*llm.Response, error) {
	var text strings.Builder
	for _, d := range p.deltas {
		text.WriteString(d)
		cb(llm.StreamEvent{Kind: llm.KindToken, Token: d})
	}
	return &llm.Response{
		Message:    llm.Message{Role: "assistant", Content: text.String()},
		StopReason: llm.StopNatural,
	}, nil
}

func (p *fixedProvider) CountTokens(ctx context.Context, messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

func (p *fixedProvider) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, limiter *RateLimiter) (*Server, *httptest.Server) {
	t.Helper()

	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	registry := tools.NewRegistry()
	registry.RegisterSystemTools()
	executor := tools.NewExecutor(registry,
		policy.New(config.PolicyConfig{ExecMode: policy.ExecDeny, Sandbox: config.SandboxConfig{Mode: "host"}}, nil),
		config.ToolsConfig{DefaultTimeoutSec: 5, MaxOutputBytes: 20 * 1024}, nil)

	assembler, err := assemble.New("", nil, config.ContextConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ag := agent.New(agent.Options{
		Client:        &fixedProvider{deltas: []string{"hi ", "there"}},
		Model:         "test-model",
		Store:         store,
		Registry:      registry,
		Executor:      executor,
		Assembler:     assembler,
		MaxIterations: 25,
		Retry:         llm.RetryConfig{Attempts: 1},
	})

	srv := NewServer("127.0.0.1", 0, ag, store, limiter, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", srv.handleChat)
	mux.HandleFunc("GET /v1/events", srv.handleEvents)
	mux.HandleFunc("POST /v1/sessions/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("GET /v1/sessions", srv.handleSessionList)
	mux.HandleFunc("GET /health", srv.handleHealth)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestChatStreamsSSE(t *testing.T) {
	_, ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"sessionId": "s1", "message": "hello"})
	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(kinds) == 0 {
		t.Fatal("no SSE events received")
	}
	if kinds[len(kinds)-1] != string(agent.EventTerminal) {
		t.Errorf("last event = %q, want terminal", kinds[len(kinds)-1])
	}
	sawDelta := false
	for _, k := range kinds {
		if k == string(agent.EventTextDelta) {
			sawDelta = true
		}
	}
	if !sawDelta {
		t.Errorf("no text_delta events in %v", kinds)
	}
}

func TestChatGeneratesSessionID(t *testing.T) {
	_, ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Session-Id") == "" {
		t.Error("missing generated session id header")
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	_, ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"sessionId": "s1", "message": ""})
	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	_, ts := newTestServer(t, NewRateLimiter(0.001, 1))

	body, _ := json.Marshal(map[string]string{"sessionId": "s1", "message": "hello"})
	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp2, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp2.StatusCode)
	}
}

func TestEventsOverWebSocket(t *testing.T) {
	_, ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"sessionId": "ws1", "message": "hello"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last agent.Event
	for {
		var ev agent.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		last = ev
	}
	if last.Kind != agent.EventTerminal {
		t.Errorf("last event kind = %q, want terminal", last.Kind)
	}
}

func TestCancelEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/v1/sessions/idle-session/cancel", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	// Nothing in flight: reported, not an error.
	if out["cancelled"] != false {
		t.Errorf("cancelled = %v", out["cancelled"])
	}
}

func TestSessionList(t *testing.T) {
	_, ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"sessionId": "listed", "message": "hello"})
	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	// Drain so the invocation fully completes before listing.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
	}
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var out struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Sessions) != 1 || out.Sessions[0] != "listed" {
		t.Errorf("sessions = %v", out.Sessions)
	}
}
