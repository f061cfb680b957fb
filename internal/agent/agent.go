// Package agent drives the reasoning loop: assemble context, call the
// provider, execute requested tools, feed results back, repeat until a
// terminal condition.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reeve-agent/reeve/internal/assemble"
	"github.com/reeve-agent/reeve/internal/budget"
	"github.com/reeve-agent/reeve/internal/compact"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/prompts"
	"github.com/reeve-agent/reeve/internal/session"
	"github.com/reeve-agent/reeve/internal/tools"
)

// ErrSessionBusy is returned by Run when the session already has an
// invocation in flight. Callers retry after the current one finishes;
// nothing is queued on their behalf.
var ErrSessionBusy = errors.New("session already has an invocation in flight")

// Agent owns the loop for every session. One Agent serves the whole
// process; per-session single flight is enforced internally.
type Agent struct {
	client          llm.Client
	model           string
	store           session.Store
	registry        *tools.Registry
	executor        *tools.Executor
	assembler       *assemble.Assembler
	accountant      *budget.Accountant
	compactor       *compact.Compactor
	maxIterations   int
	providerTimeout time.Duration
	retry           llm.RetryConfig
	logger          *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// Options bundles the loop's collaborators.
type Options struct {
	Client        llm.Client
	Model         string
	Store         session.Store
	Registry      *tools.Registry
	Executor      *tools.Executor
	Assembler     *assemble.Assembler
	Accountant    *budget.Accountant
	Compactor     *compact.Compactor
	MaxIterations int
	// ProviderTimeout bounds each provider request attempt. A backend
	// that stalls mid-stream must not hang the iteration.
	ProviderTimeout time.Duration
	Retry           llm.RetryConfig
	Logger          *slog.Logger
}

// New creates an Agent.
func New(opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 25
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 2 * time.Minute
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = llm.DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{
		client:          opts.Client,
		model:           opts.Model,
		store:           opts.Store,
		registry:        opts.Registry,
		executor:        opts.Executor,
		assembler:       opts.Assembler,
		accountant:      opts.Accountant,
		compactor:       opts.Compactor,
		maxIterations:   opts.MaxIterations,
		providerTimeout: opts.ProviderTimeout,
		retry:           opts.Retry,
		logger:          opts.Logger,
	}
}

// Run starts one invocation for the session and returns its event
// channel. The channel always ends with a terminal event and is then
// closed. A second Run for a busy session fails with ErrSessionBusy.
func (a *Agent) Run(ctx context.Context, sessionID, utterance string) (<-chan Event, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, fmt.Errorf("utterance is empty")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if a.active == nil {
		a.active = make(map[string]context.CancelFunc)
	}
	if _, busy := a.active[sessionID]; busy {
		a.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionBusy)
	}
	a.active[sessionID] = cancel
	a.mu.Unlock()

	em := newEmitter(sessionID, 256)
	go func() {
		defer func() {
			cancel()
			a.mu.Lock()
			delete(a.active, sessionID)
			a.mu.Unlock()
		}()
		a.run(runCtx, em, sessionID, utterance)
	}()
	return em.ch, nil
}

// Cancel signals the session's in-flight invocation, if any. Partial
// streamed text is persisted by the loop before it reports cancelled.
func (a *Agent) Cancel(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cancel, ok := a.active[sessionID]
	if ok {
		cancel()
	}
	return ok
}

// run is the loop body. It owns the session copy for the duration of
// the invocation; the store's version check catches anything else
// writing behind its back.
func (a *Agent) run(ctx context.Context, em *emitter, sessionID, utterance string) {
	sess, err := a.store.Load(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		sess, err = a.store.Create(ctx, sessionID)
	}
	if err != nil {
		a.logger.Error("loading session", "sessionID", sessionID, "error", err)
		em.emitTerminal(ReasonFatalError, map[string]any{"error": err.Error()})
		return
	}

	sess.Messages = append(sess.Messages, session.NewMessage("user", utterance))
	if err := a.store.Save(ctx, sess); err != nil {
		em.emitTerminal(ReasonFatalError, map[string]any{"error": err.Error()})
		return
	}

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		done := a.iterate(ctx, em, sess, utterance, iteration)
		if done {
			return
		}
	}

	a.logger.Warn("iteration limit reached", "sessionID", sessionID, "limit", a.maxIterations)
	em.emitTerminal(ReasonIterationLimit, map[string]any{
		"iterations": a.maxIterations,
	})
}

// iterate runs one pass of the state machine. It returns true when a
// terminal event has been emitted.
func (a *Agent) iterate(ctx context.Context, em *emitter, sess *session.Session, utterance string, iteration int) bool {
	// Compaction is decided, applied, and persisted strictly before
	// the provider call that would otherwise overflow.
	if a.compactor != nil && a.accountant != nil {
		if over, _ := a.accountant.NeedsCompaction(ctx, sess.LLMMessages()); over {
			changed, err := a.compactor.Compact(ctx, sess)
			if err != nil {
				a.logger.Warn("compaction failed", "sessionID", sess.ID, "error", err)
			} else if changed {
				if err := a.store.Save(ctx, sess); err != nil {
					em.emitTerminal(ReasonFatalError, map[string]any{"error": err.Error()})
					return true
				}
			}
		}
	}

	messages, schemas := a.assembler.Assemble(ctx, sess, utterance, a.registry.Schemas())

	var partial strings.Builder
	resp, err := llm.Retry(ctx, a.retry, func(ctx context.Context) (*llm.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
		defer cancel()
		resp, err := a.client.ChatStream(ctx, llm.Request{
			Model:    a.model,
			Messages: messages,
			Tools:    schemas,
		}, func(ev llm.StreamEvent) {
			if ev.Kind == llm.KindToken && ev.Token != "" {
				partial.WriteString(ev.Token)
				em.emit(EventTextDelta, map[string]any{"text": ev.Token})
			}
		})
		if err != nil && partial.Len() > 0 {
			// Deltas already reached the consumer; a retry would
			// stream them again.
			return nil, llm.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		if ctx.Err() != nil {
			a.persistPartial(em, sess, partial.String())
			return true
		}
		a.logger.Error("provider call failed", "sessionID", sess.ID, "error", err)
		em.emitTerminal(ReasonFatalError, map[string]any{"error": err.Error()})
		return true
	}

	sess.InputTokens += resp.InputTokens
	sess.OutputTokens += resp.OutputTokens
	sess.Messages = append(sess.Messages,
		session.NewAssistantMessage(resp.Message.Content, resp.Message.ToolCalls))

	toolCount := 0
	if resp.StopReason == llm.StopToolRequested && len(resp.Message.ToolCalls) > 0 {
		toolCount = len(resp.Message.ToolCalls)
		for i, call := range resp.Message.ToolCalls {
			if ctx.Err() != nil {
				a.resolveCancelledCalls(sess, resp.Message.ToolCalls[i:])
				a.persistPartial(em, sess, "")
				return true
			}
			em.emit(EventToolStarted, map[string]any{
				"callId": call.ID,
				"tool":   call.Name,
			})
			result := a.executor.Execute(ctx, call)
			data := map[string]any{
				"callId":     result.CallID,
				"tool":       result.Tool,
				"durationMs": result.Duration.Milliseconds(),
				"truncated":  result.Truncated,
			}
			if result.Err != nil {
				data["errorKind"] = string(result.Err.Kind)
			}
			em.emit(EventToolResult, data)
			sess.Messages = append(sess.Messages,
				session.NewToolResultMessage(call.ID, result.ForProvider()))
		}
	}

	if err := a.store.Save(ctx, sess); err != nil {
		em.emitTerminal(ReasonFatalError, map[string]any{"error": err.Error()})
		return true
	}

	em.emit(EventTurnSummary, map[string]any{
		"iteration":    iteration,
		"toolCalls":    toolCount,
		"inputTokens":  resp.InputTokens,
		"outputTokens": resp.OutputTokens,
		"stopReason":   string(resp.StopReason),
	})

	if ctx.Err() != nil {
		em.emitTerminal(ReasonCancelled, nil)
		return true
	}
	if toolCount > 0 {
		return false
	}
	if resp.StopReason != llm.StopNatural {
		// The output was cut off by the token limit; give the model
		// another iteration to continue rather than calling it done.
		return false
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		// The model stopped without saying anything; replace the empty
		// assistant message so the transcript stays useful.
		sess.Messages[len(sess.Messages)-1].Content = prompts.EmptyResponseFallback
		if err := a.store.Save(ctx, sess); err != nil {
			a.logger.Warn("persisting fallback response", "error", err)
		}
	}
	em.emitTerminal(ReasonCompleted, map[string]any{
		"iterations":   iteration,
		"inputTokens":  sess.InputTokens,
		"outputTokens": sess.OutputTokens,
	})
	return true
}

// resolveCancelledCalls closes out tool calls that never ran because
// the invocation was cancelled. The assistant message carrying them is
// already in the transcript, and providers requiring matched
// call/result pairs reject a history with dangling calls, which would
// wedge the session on every later turn.
func (a *Agent) resolveCancelledCalls(sess *session.Session, calls []llm.ToolCall) {
	for _, call := range calls {
		sess.Messages = append(sess.Messages, session.NewToolResultMessage(call.ID,
			"Error (cancelled): invocation was cancelled before this tool ran"))
	}
}

// persistPartial saves whatever streamed before cancellation and
// reports the cancelled terminal. Nothing streamed is still a valid
// cancellation; the transcript then simply ends at the user message.
func (a *Agent) persistPartial(em *emitter, sess *session.Session, partial string) {
	if partial != "" {
		sess.Messages = append(sess.Messages, session.NewMessage("assistant", partial))
	}
	// The run context is cancelled; persistence gets its own.
	if err := a.store.Save(context.Background(), sess); err != nil {
		a.logger.Warn("persisting partial text after cancel", "sessionID", sess.ID, "error", err)
	}
	em.emitTerminal(ReasonCancelled, map[string]any{
		"partialBytes": len(partial),
	})
}
