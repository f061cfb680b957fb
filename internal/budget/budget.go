// Package budget tracks context window usage and decides when the
// conversation needs compacting.
package budget

import (
	"context"
	"log/slog"

	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
)

// Accountant measures transcripts against the context window. It asks
// the provider for a real count when one is available and falls back to
// a character-based estimate when not; the soft threshold absorbs the
// estimate's error.
type Accountant struct {
	maxContextTokens int
	softThreshold    float64
	counter          llm.Client
	logger           *slog.Logger
}

// New builds an Accountant. counter may be nil; estimates are then used
// for everything.
func New(cfg config.BudgetConfig, counter llm.Client, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		maxContextTokens: cfg.MaxContextTokens,
		softThreshold:    cfg.SoftThreshold,
		counter:          counter,
		logger:           logger,
	}
}

// MaxContextTokens returns the configured window size.
func (a *Accountant) MaxContextTokens() int {
	return a.maxContextTokens
}

// Count returns the token count for the messages. Provider counting
// failures degrade to the estimate rather than failing the turn.
func (a *Accountant) Count(ctx context.Context, messages []llm.Message) int {
	if a.counter != nil {
		n, err := a.counter.CountTokens(ctx, messages)
		if err == nil && n > 0 {
			return n
		}
		if err != nil {
			a.logger.Debug("provider token count failed, estimating", "error", err)
		}
	}
	return llm.EstimateTokens(messages)
}

// OverSoftThreshold reports whether tokens crosses the compaction
// trigger.
func (a *Accountant) OverSoftThreshold(tokens int) bool {
	return float64(tokens) >= a.softThreshold*float64(a.maxContextTokens)
}

// NeedsCompaction counts the messages and applies the threshold in one
// step.
func (a *Accountant) NeedsCompaction(ctx context.Context, messages []llm.Message) (bool, int) {
	tokens := a.Count(ctx, messages)
	over := a.OverSoftThreshold(tokens)
	if over {
		a.logger.Info("context over soft threshold",
			"tokens", tokens,
			"max", a.maxContextTokens,
			"threshold", a.softThreshold)
	}
	return over, tokens
}
