// Package session provides durable conversation state.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/reeve-agent/reeve/internal/llm"
)

// ErrStaleSession is returned by Save when another writer committed a
// newer version since this copy was loaded. The caller reloads and
// reapplies; it never overwrites blind.
var ErrStaleSession = errors.New("session was modified by another writer")

// ErrNotFound is returned when a session ID does not exist.
var ErrNotFound = errors.New("session not found")

// Message is one entry in a session transcript.
type Message struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"` // system, user, assistant, tool
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	// Compacted marks summary messages produced by compaction, so a
	// second compaction pass can tell them from organic history.
	Compacted bool      `json:"compacted,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation with its accumulated usage.
type Session struct {
	ID           string            `json:"id"`
	Messages     []Message         `json:"messages"`
	Created      time.Time         `json:"created"`
	LastActive   time.Time         `json:"lastActive"`
	InputTokens  int               `json:"inputTokens"`
	OutputTokens int               `json:"outputTokens"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Version increments on every committed Save. Save compares it
	// against the stored row and fails with ErrStaleSession on
	// mismatch.
	Version int64 `json:"-"`
}

// LLMMessages converts the transcript to provider messages, in order.
func (s *Session) LLMMessages() []llm.Message {
	msgs := make([]llm.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return msgs
}

// Store persists sessions.
type Store interface {
	// Load returns the session, or ErrNotFound.
	Load(ctx context.Context, id string) (*Session, error)
	// Create persists a new empty session with the given ID.
	Create(ctx context.Context, id string) (*Session, error)
	// Save commits the whole session state. Fails with ErrStaleSession
	// if the stored version is newer than s.Version; on success
	// s.Version is advanced.
	Save(ctx context.Context, s *Session) error
	// List returns session IDs ordered by last activity, newest first.
	List(ctx context.Context, limit int) ([]string, error)
	Close() error
}
