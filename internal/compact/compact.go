// Package compact shrinks long transcripts in place: durable facts are
// flushed to long-term memory first, then the old span is replaced by a
// model-written summary.
package compact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/memory"
	"github.com/reeve-agent/reeve/internal/prompts"
	"github.com/reeve-agent/reeve/internal/session"
)

// Compactor rewrites a session's transcript when the context budget
// says so. It never touches storage itself; the caller saves the
// mutated session.
type Compactor struct {
	client     llm.Client
	model      string
	facts      *memory.Store
	keepRecent int
	minMsgs    int
	flushWin   int
	logger     *slog.Logger
}

// New builds a Compactor. facts may be nil to disable the flush phase.
func New(client llm.Client, model string, facts *memory.Store, cfg config.CompactionConfig, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		client:     client,
		model:      model,
		facts:      facts,
		keepRecent: cfg.KeepRecent,
		minMsgs:    cfg.MinMessages,
		flushWin:   cfg.FlushWindow,
		logger:     logger,
	}
}

// Compact summarizes everything but the most recent messages. Returns
// whether the transcript changed. Running twice in a row changes
// nothing the second time: a span that is already just a summary is
// left alone.
func (c *Compactor) Compact(ctx context.Context, sess *session.Session) (bool, error) {
	cut := len(sess.Messages) - c.keepRecent
	// Never split an assistant's tool calls from their results: pull
	// the boundary back until the tail starts on a clean message.
	for cut > 0 && sess.Messages[cut].Role == "tool" {
		cut--
	}
	if cut < c.minMsgs {
		return false, nil
	}

	head := sess.Messages[:cut]
	if allCompacted(head) {
		return false, nil
	}

	c.flushFacts(ctx, head)

	text := renderConversation(head)
	resp, err := c.client.Chat(ctx, llm.Request{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "user", Content: prompts.CompactionPrompt(text)},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return false, fmt.Errorf("summarizing conversation: %w", err)
	}
	summaryText := strings.TrimSpace(resp.Message.Content)
	if summaryText == "" {
		return false, fmt.Errorf("summarizer returned empty content")
	}

	// The summary is synthetic context, not something the assistant
	// said; the adapters fold system-role messages into the system
	// prompt rather than the dialog.
	summary := session.NewMessage("system", prompts.SummaryPrefix+summaryText)
	summary.Compacted = true

	tail := sess.Messages[cut:]
	sess.Messages = append([]session.Message{summary}, tail...)

	c.logger.Info("compacted transcript",
		"sessionID", sess.ID,
		"summarized", len(head),
		"kept", len(tail))
	return true, nil
}

// flushFacts is the pre-summary memory flush. It asks the model for
// durable facts from the tail of the doomed span and appends them to
// long-term memory. Flush failures are logged, not fatal: losing an
// optional fact is better than failing the turn.
func (c *Compactor) flushFacts(ctx context.Context, head []session.Message) {
	if c.facts == nil {
		return
	}
	window := head
	if c.flushWin > 0 && len(window) > c.flushWin {
		window = window[len(window)-c.flushWin:]
	}

	resp, err := c.client.Chat(ctx, llm.Request{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "user", Content: prompts.MemoryFlushPrompt(renderConversation(window))},
		},
		MaxTokens: 512,
	})
	if err != nil {
		c.logger.Warn("memory flush failed", "error", err)
		return
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" || strings.Contains(content, prompts.NothingNotable) {
		return
	}
	saved := 0
	for _, line := range strings.Split(content, "\n") {
		fact := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if fact == "" {
			continue
		}
		if err := c.facts.Append(ctx, fact, "flush"); err != nil {
			c.logger.Warn("saving flushed fact failed", "error", err)
			continue
		}
		saved++
	}
	if saved > 0 {
		c.logger.Debug("flushed facts to memory", "count", saved)
	}
}

func allCompacted(msgs []session.Message) bool {
	for _, m := range msgs {
		if !m.Compacted {
			return false
		}
	}
	return len(msgs) > 0
}

// renderConversation flattens messages to role-prefixed lines for the
// summarizer.
func renderConversation(msgs []session.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch {
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				fmt.Fprintf(&b, "assistant: [called %s(%s)]\n", tc.Name, args)
			}
			if m.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", m.Content)
			}
		case m.Role == "tool":
			fmt.Fprintf(&b, "tool: %s\n", m.Content)
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}
