package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reeve-agent/reeve/internal/httpkit"
)

// OllamaClient is a client for a local Ollama server.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: baseURL,
		// Large local models with tools need time before first token.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute)),
	}
}

// Ollama wire types. Ollama's native tool_calls use a nested function
// object and no call IDs; IDs are synthesized on conversion so the loop
// can correlate results uniformly across backends.

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaChatResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`

	// Usage stats (when done=true)
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// Chat sends a chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, req Request) (*Response, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream sends a chat request to Ollama, optionally streaming
// newline-delimited JSON chunks through the callback.
func (c *OllamaClient) ChatStream(ctx context.Context, req Request, callback StreamCallback) (*Response, error) {
	stream := callback != nil

	wire := ollamaChatRequest{
		Model:    req.Model,
		Messages: convertToOllama(req.Messages),
		Stream:   stream,
		Tools:    convertToolsToOllama(req.Tools),
	}

	jsonData, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, &APIError{Provider: "ollama", Status: resp.StatusCode, Body: errBody}
	}

	if !stream {
		var chatResp ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return convertFromOllama(&chatResp), nil
	}

	// Streaming: read newline-delimited JSON chunks.
	var (
		final          ollamaChatResponse
		contentBuilder strings.Builder
		toolCalls      []ollamaToolCall
	)
	decoder := json.NewDecoder(resp.Body)

	for {
		var chunk ollamaChatResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}

		if chunk.Message.Content != "" {
			contentBuilder.WriteString(chunk.Message.Content)
			callback(StreamEvent{Kind: KindToken, Token: chunk.Message.Content})
		}

		// Tool calls arrive on the final chunk.
		if len(chunk.Message.ToolCalls) > 0 {
			toolCalls = chunk.Message.ToolCalls
		}

		if chunk.Done {
			final = chunk
			break
		}
	}

	final.Message.Content = contentBuilder.String()
	final.Message.ToolCalls = toolCalls
	result := convertFromOllama(&final)
	for i := range result.Message.ToolCalls {
		callback(StreamEvent{Kind: KindToolCall, ToolCall: &result.Message.ToolCalls[i]})
	}
	return result, nil
}

// CountTokens estimates; Ollama has no counting endpoint.
func (c *OllamaClient) CountTokens(_ context.Context, messages []Message) (int, error) {
	return EstimateTokens(messages), nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}

func convertToOllama(messages []Message) []ollamaMessage {
	result := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		result = append(result, om)
	}
	return result
}

func convertToolsToOllama(tools []ToolSchema) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	result := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := any(t.Parameters)
		if t.Parameters == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

func convertFromOllama(resp *ollamaChatResponse) *Response {
	var toolCalls []ToolCall
	for _, otc := range resp.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			// Ollama assigns no call IDs; synthesize one so results can
			// reference the originating call.
			ID:        "call_" + uuid.New().String(),
			Name:      otc.Function.Name,
			Arguments: otc.Function.Arguments,
		})
	}

	raw := StopNatural
	if resp.DoneReason == "length" {
		raw = StopLengthLimit
	}

	return &Response{
		Model: resp.Model,
		Message: Message{
			Role:      "assistant",
			Content:   resp.Message.Content,
			ToolCalls: toolCalls,
		},
		StopReason:   resolveStopReason(raw, len(toolCalls)),
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
}
