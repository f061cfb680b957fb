package compact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/memory"
	"github.com/reeve-agent/reeve/internal/prompts"
	"github.com/reeve-agent/reeve/internal/session"
)

// scriptedClient answers Chat from a function so tests can
// differentiate flush prompts from summary prompts.
type scriptedClient struct {
	respond func(req llm.Request) string
	calls   int
}

func (c *scriptedClient) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.calls++
	return &llm.Response{
		Message:    llm.Message{Role: "assistant", Content: c.respond(req)},
		StopReason: llm.StopNatural,
	}, nil
}

func (c *scriptedClient) ChatStream(ctx context.Context, req llm.Request, cb llm.StreamCallback) (*llm.Response, error) {
	return c.Chat(ctx, req)
}

func (c *scriptedClient) CountTokens(ctx context.Context, messages []llm.Message) (int, error) {
	return 0, fmt.Errorf("not implemented")
}

func (c *scriptedClient) Ping(ctx context.Context) error { return nil }

func isFlushPrompt(req llm.Request) bool {
	return strings.Contains(req.Messages[0].Content, prompts.NothingNotable)
}

func testConfig() config.CompactionConfig {
	return config.CompactionConfig{KeepRecent: 10, MinMessages: 6, FlushWindow: 20}
}

func makeSession(n int) *session.Session {
	sess := &session.Session{ID: "s1"}
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		sess.Messages = append(sess.Messages, session.NewMessage(role, fmt.Sprintf("message %d", i)))
	}
	return sess
}

func TestCompactReplacesOldSpanWithSummary(t *testing.T) {
	client := &scriptedClient{respond: func(req llm.Request) string {
		if isFlushPrompt(req) {
			return prompts.NothingNotable
		}
		return "- discussed the message history"
	}}
	c := New(client, "test-model", nil, testConfig(), nil)

	sess := makeSession(30)
	last := sess.Messages[29].Content

	changed, err := c.Compact(context.Background(), sess)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if len(sess.Messages) != 11 {
		t.Fatalf("got %d messages, want summary + 10", len(sess.Messages))
	}
	if !sess.Messages[0].Compacted || !strings.HasPrefix(sess.Messages[0].Content, prompts.SummaryPrefix) {
		t.Errorf("first message should be the summary: %+v", sess.Messages[0])
	}
	if sess.Messages[0].Role != "system" {
		t.Errorf("summary role = %q, want synthetic system message", sess.Messages[0].Role)
	}
	if sess.Messages[10].Content != last {
		t.Error("most recent message must survive verbatim")
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	client := &scriptedClient{respond: func(req llm.Request) string {
		if isFlushPrompt(req) {
			return prompts.NothingNotable
		}
		return "summary"
	}}
	c := New(client, "test-model", nil, testConfig(), nil)

	sess := makeSession(30)
	if _, err := c.Compact(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	after := len(sess.Messages)

	changed, err := c.Compact(context.Background(), sess)
	if err != nil {
		t.Fatalf("second Compact: %v", err)
	}
	if changed {
		t.Error("second compaction must be a no-op")
	}
	if len(sess.Messages) != after {
		t.Errorf("message count changed: %d -> %d", after, len(sess.Messages))
	}
}

func TestCompactSkipsShortTranscripts(t *testing.T) {
	client := &scriptedClient{respond: func(req llm.Request) string { return "summary" }}
	c := New(client, "test-model", nil, testConfig(), nil)

	sess := makeSession(12) // only 2 above keepRecent, below minMessages
	changed, err := c.Compact(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	if changed || client.calls != 0 {
		t.Errorf("short transcript should be untouched (changed=%v calls=%d)", changed, client.calls)
	}
}

func TestCompactKeepsToolPairsTogether(t *testing.T) {
	client := &scriptedClient{respond: func(req llm.Request) string {
		if isFlushPrompt(req) {
			return prompts.NothingNotable
		}
		return "summary"
	}}
	c := New(client, "test-model", nil, testConfig(), nil)

	sess := makeSession(19)
	// The tool result lands exactly on the default cut (len-10), which
	// would separate it from the assistant call before it.
	asst := session.NewAssistantMessage("", []llm.ToolCall{{ID: "c1", Name: "read_file"}})
	sess.Messages = append(sess.Messages, asst, session.NewToolResultMessage("c1", "data"))
	for i := 0; i < 9; i++ {
		sess.Messages = append(sess.Messages, session.NewMessage("user", "tail"))
	}

	if _, err := c.Compact(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	for i, m := range sess.Messages {
		if m.Role == "tool" {
			if i == 0 || len(sess.Messages[i-1].ToolCalls) == 0 {
				t.Fatalf("tool result at %d separated from its call", i)
			}
		}
	}
}

func TestCompactFlushesFactsToMemory(t *testing.T) {
	facts, err := memory.NewStore(filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer facts.Close()

	client := &scriptedClient{respond: func(req llm.Request) string {
		if isFlushPrompt(req) {
			return "- The project uses Go modules\n- The user prefers concise replies"
		}
		return "summary"
	}}
	c := New(client, "test-model", facts, testConfig(), nil)

	sess := makeSession(30)
	if _, err := c.Compact(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	got, err := facts.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("flushed facts = %v", got)
	}
}
