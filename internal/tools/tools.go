// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"sort"
	"time"

	"github.com/reeve-agent/reeve/internal/llm"
)

// Capability groups. Every tool belongs to exactly one; policy rules
// can target the group instead of naming each tool.
const (
	GroupFilesystem = "filesystem"
	GroupProcess    = "process"
	GroupMemory     = "memory"
	GroupSystem     = "system"
)

// Tool represents a callable tool. Built-in and externally registered
// tools share this shape; nothing special-cases builtins.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Group       string         `json:"group"`
	// Dangerous marks tools whose effects reach outside the agent's
	// own state; invocations are logged at a higher level.
	Dangerous bool `json:"dangerous,omitempty"`
	// RequiresApproval subjects the tool to the exec approval layer
	// even outside the process group.
	RequiresApproval bool `json:"requiresApproval,omitempty"`
	Handler          func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous
// tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns the named tool, or nil if absent.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Schemas returns provider-facing schemas for every registered tool,
// including tools the policy would deny. The provider may ask; the
// executor answers with a denial the loop feeds back as a result.
func (r *Registry) Schemas() []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return schemas
}

// RegisterSystemTools adds tools with no external dependencies.
func (r *Registry) RegisterSystemTools() {
	r.Register(&Tool{
		Name:        "current_time",
		Description: "Get the current date and time, including the timezone.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Group: GroupSystem,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			now := time.Now()
			return now.Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
		},
	})
}

// FactStore is the slice of the memory store the memory tools need.
type FactStore interface {
	Append(ctx context.Context, content, source string) error
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// RegisterMemoryTools adds the remember/recall pair backed by the
// given store.
func (r *Registry) RegisterMemoryTools(store FactStore) {
	r.Register(&Tool{
		Name:        "remember",
		Description: "Save a fact to long-term memory. Use for durable information worth recalling in future conversations: preferences, decisions, project details.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The fact to remember, stated in one or two complete sentences",
				},
			},
			"required": []string{"content"},
		},
		Group: GroupMemory,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if err := store.Append(ctx, content, "tool"); err != nil {
				return "", err
			}
			return "Remembered.", nil
		},
	})

	r.Register(&Tool{
		Name:        "recall",
		Description: "Search long-term memory for facts matching a query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum results (default 5)",
				},
			},
			"required": []string{"query"},
		},
		Group: GroupMemory,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			limit := 5
			if f, ok := args["limit"].(float64); ok && f > 0 {
				limit = int(f)
			}
			facts, err := store.Search(ctx, query, limit)
			if err != nil {
				return "", err
			}
			if len(facts) == 0 {
				return "No matching memories.", nil
			}
			out := ""
			for _, f := range facts {
				out += "- " + f + "\n"
			}
			return out, nil
		},
	})
}
