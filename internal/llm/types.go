// Package llm provides reasoning provider client implementations.
package llm

// StopReason is the provider-neutral reason a response ended. Every
// adapter must map its backend's stop signals onto this closed set.
type StopReason string

const (
	// StopNatural means the model finished on its own.
	StopNatural StopReason = "natural_stop"
	// StopToolRequested means the model asked for one or more tool calls.
	StopToolRequested StopReason = "tool_requested"
	// StopLengthLimit means output was cut off by the token limit.
	StopLengthLimit StopReason = "length_limit"
)

// Message represents a chat message for the provider.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier. Tool results must
	// reference it so providers requiring matched call/result pairs
	// stay consistent.
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSchema is the provider-facing description of a callable tool.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the uniform provider request shape.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolSchema
	// MaxTokens caps the response length. Zero lets the adapter pick.
	MaxTokens int
}

// Response is the unified response from any provider. Wire format
// conversion happens at the adapter boundary (anthropic.go, ollama.go).
type Response struct {
	Model      string
	Message    Message
	StopReason StopReason

	// Token usage (provider-neutral).
	InputTokens  int
	OutputTokens int
}

// StreamEvent is a single event in a streaming response.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCall events, once the block's
	// arguments have fully resolved.
	ToolCall *ToolCall
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text delta from the model.
	KindToken StreamEventKind = iota

	// KindToolCall is a fully resolved tool-use block.
	KindToolCall
)

// StreamCallback receives streaming events in provider order.
type StreamCallback func(event StreamEvent)

// resolveStopReason decides the final stop reason once tool calls are
// known: backends that signal "done" without distinguishing tool turns
// still report tool_requested when calls are present.
func resolveStopReason(raw StopReason, toolCalls int) StopReason {
	if toolCalls > 0 {
		return StopToolRequested
	}
	if raw == "" {
		return StopNatural
	}
	return raw
}

// EstimateTokens approximates the token count of a message sequence at
// ~4 characters per token. Used by backends without a counting endpoint
// and as the accountant's fallback.
func EstimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Role) + len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + 32
		}
	}
	return chars / 4
}
