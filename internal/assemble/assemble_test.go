package assemble

import (
	"context"
	"strings"
	"testing"

	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/session"
)

type fakeSearcher struct {
	facts []string
	err   error
	query string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	f.query = query
	return f.facts, f.err
}

func TestAssembleOrder(t *testing.T) {
	mem := &fakeSearcher{facts: []string{"prefers short answers"}}
	a, err := New("Speak plainly.", mem, config.ContextConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	sess := &session.Session{ID: "s1"}
	sess.Messages = append(sess.Messages, session.NewMessage("user", "hello there"))
	schemas := []llm.ToolSchema{{Name: "read_file"}}

	msgs, outSchemas := a.Assemble(context.Background(), sess, "hello there", schemas)

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want system + 1 history", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("first message role = %q", msgs[0].Role)
	}

	sys := msgs[0].Content
	persona := strings.Index(sys, "Speak plainly.")
	memory := strings.Index(sys, "prefers short answers")
	if persona < 0 || memory < 0 {
		t.Fatalf("system prompt missing sections:\n%s", sys)
	}
	// Instructions come first, then persona, then memory.
	if !(persona < memory) {
		t.Error("persona must precede memory excerpts")
	}
	if msgs[1].Content != "hello there" {
		t.Errorf("history message = %q", msgs[1].Content)
	}
	if len(outSchemas) != 1 || outSchemas[0].Name != "read_file" {
		t.Errorf("schemas = %+v", outSchemas)
	}
	if mem.query != "hello there" {
		t.Errorf("memory searched with %q", mem.query)
	}
}

func TestAssembleWithoutPersonaOrMemory(t *testing.T) {
	a, err := New("", nil, config.ContextConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	msgs, _ := a.Assemble(context.Background(), &session.Session{ID: "s1"}, "hi", nil)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if strings.Contains(msgs[0].Content, "## Persona") || strings.Contains(msgs[0].Content, "## Things you remember") {
		t.Error("empty sections must be omitted entirely")
	}
}

func TestNewRejectsOversizedPersona(t *testing.T) {
	if _, err := New(strings.Repeat("x", defaultPersonaCap+1), nil, config.ContextConfig{}, nil); err == nil {
		t.Fatal("oversized persona must fail construction, not truncate")
	}
}

func TestConfiguredCapsOverrideDefaults(t *testing.T) {
	cfg := config.ContextConfig{PersonaMaxBytes: 64, MemoryMaxBytes: 32, MemoryTopK: 1}

	if _, err := New(strings.Repeat("x", 65), nil, cfg, nil); err == nil {
		t.Error("persona over the configured cap must fail construction")
	}

	mem := &fakeSearcher{facts: []string{strings.Repeat("f", 100), "second"}}
	a, err := New("", mem, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := a.Assemble(context.Background(), &session.Session{ID: "s1"}, "query", nil)
	if strings.Contains(msgs[0].Content, strings.Repeat("f", 100)) {
		t.Error("memory section ignored the configured byte cap")
	}
}

func TestMemoryExcerptsRespectByteCap(t *testing.T) {
	big := strings.Repeat("f", 3000)
	mem := &fakeSearcher{facts: []string{big, big, big}}
	a, err := New("", mem, config.ContextConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	msgs, _ := a.Assemble(context.Background(), &session.Session{ID: "s1"}, "query", nil)
	if len(msgs[0].Content) > len(basePrompt())+defaultMemoryCap+64 {
		t.Errorf("memory section exceeded cap: %d bytes total", len(msgs[0].Content))
	}
}

func basePrompt() string {
	a, _ := New("", nil, config.ContextConfig{}, nil)
	msgs, _ := a.Assemble(context.Background(), &session.Session{ID: "s"}, "", nil)
	return msgs[0].Content
}
