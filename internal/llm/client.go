package llm

import "context"

// Client is the interface every reasoning provider must implement. The
// agent loop depends only on this shape and never special-cases a
// backend.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream sends a streaming chat request. If callback is non-nil,
	// deltas and resolved tool calls are delivered to it in provider
	// order before the final response is returned.
	ChatStream(ctx context.Context, req Request, callback StreamCallback) (*Response, error)

	// CountTokens reports the token count of the messages, using the
	// provider's counting endpoint when one exists and an estimate
	// otherwise.
	CountTokens(ctx context.Context, messages []Message) (int, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
