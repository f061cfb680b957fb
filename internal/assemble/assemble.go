// Package assemble builds the provider request for one loop iteration.
//
// Assembly order is fixed: behavioral instructions, persona, durable
// memory excerpts, session history, tool schemas. The order is part of
// the contract — prompt caching and the provider's system handling both
// depend on the stable prefix.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/prompts"
	"github.com/reeve-agent/reeve/internal/session"
)

// Searcher is the slice of the memory store the assembler needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Fallback section caps for zero config values. Instruction sections
// are never truncated silently: an over-cap persona is an operator
// configuration error and fails assembly; memory excerpts are the one
// section trimmed to fit, since their selection is already best-effort.
const (
	defaultPersonaCap = 16 * 1024
	defaultMemoryCap  = 4 * 1024
	defaultMemoryTopK = 5
)

// Assembler builds requests from session state.
type Assembler struct {
	persona    string
	memory     Searcher
	personaCap int
	memoryCap  int
	memoryTopK int
	logger     *slog.Logger
}

// New creates an Assembler. persona may be empty; memory may be nil.
func New(persona string, memory Searcher, cfg config.ContextConfig, logger *slog.Logger) (*Assembler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Assembler{
		persona:    persona,
		memory:     memory,
		personaCap: cfg.PersonaMaxBytes,
		memoryCap:  cfg.MemoryMaxBytes,
		memoryTopK: cfg.MemoryTopK,
		logger:     logger,
	}
	if a.personaCap <= 0 {
		a.personaCap = defaultPersonaCap
	}
	if a.memoryCap <= 0 {
		a.memoryCap = defaultMemoryCap
	}
	if a.memoryTopK <= 0 {
		a.memoryTopK = defaultMemoryTopK
	}
	if len(persona) > a.personaCap {
		return nil, fmt.Errorf("persona is %d bytes, cap is %d", len(persona), a.personaCap)
	}
	return a, nil
}

// Assemble builds the messages and tool schemas for a provider call.
// utterance steers the memory search; schemas come from the caller so
// the assembler stays ignorant of the registry.
func (a *Assembler) Assemble(ctx context.Context, sess *session.Session, utterance string, schemas []llm.ToolSchema) ([]llm.Message, []llm.ToolSchema) {
	var system strings.Builder
	system.WriteString(prompts.BaseSystemPrompt())

	if a.persona != "" {
		system.WriteString("\n\n## Persona\n")
		system.WriteString(a.persona)
	}

	if excerpt := a.memoryExcerpts(ctx, utterance); excerpt != "" {
		system.WriteString("\n\n## Things you remember\n")
		system.WriteString(excerpt)
	}

	messages := make([]llm.Message, 0, len(sess.Messages)+1)
	messages = append(messages, llm.Message{Role: "system", Content: system.String()})
	messages = append(messages, sess.LLMMessages()...)
	return messages, schemas
}

func (a *Assembler) memoryExcerpts(ctx context.Context, utterance string) string {
	if a.memory == nil || strings.TrimSpace(utterance) == "" {
		return ""
	}
	facts, err := a.memory.Search(ctx, utterance, a.memoryTopK)
	if err != nil {
		a.logger.Warn("memory search failed", "error", err)
		return ""
	}
	var b strings.Builder
	for _, f := range facts {
		line := "- " + f + "\n"
		if b.Len()+len(line) > a.memoryCap {
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}
