package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/policy"
)

// truncationMarker is appended to output that exceeded the byte cap.
const truncationMarker = "\n\n[... output truncated ...]"

// Result is the outcome of one tool call. Duration is recorded for
// every call, including ones that never reached the handler.
type Result struct {
	CallID    string
	Tool      string
	Output    string
	Err       *ToolError
	Truncated bool
	Duration  time.Duration
}

// ForProvider renders the result as the string fed back to the
// reasoning provider. Failures are ordinary content, never exceptions:
// the provider sees what went wrong and decides what to do next.
func (r *Result) ForProvider() string {
	if r.Err != nil {
		return fmt.Sprintf("Error (%s): %s", r.Err.Kind, r.Err.Msg)
	}
	return r.Output
}

// Executor runs tool calls through the fixed gate sequence: registry
// lookup, argument validation, policy, the handler under a deadline,
// and output truncation. Gates run in that order and the first failure
// short-circuits the rest.
type Executor struct {
	registry       *Registry
	policy         *policy.Engine
	defaultTimeout time.Duration
	timeouts       map[string]time.Duration
	maxOutputBytes int
	logger         *slog.Logger
}

// NewExecutor builds an Executor from configuration.
func NewExecutor(registry *Registry, engine *policy.Engine, cfg config.ToolsConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := make(map[string]time.Duration, len(cfg.TimeoutsSec))
	for name, sec := range cfg.TimeoutsSec {
		timeouts[name] = time.Duration(sec) * time.Second
	}
	return &Executor{
		registry:       registry,
		policy:         engine,
		defaultTimeout: time.Duration(cfg.DefaultTimeoutSec) * time.Second,
		timeouts:       timeouts,
		maxOutputBytes: cfg.MaxOutputBytes,
		logger:         logger,
	}
}

// Execute runs one tool call. It always returns a Result; the error
// channel of the Result, not a Go error, carries failures, because a
// failed call is a normal loop outcome.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) *Result {
	start := time.Now()
	res := &Result{CallID: call.ID, Tool: call.Name}
	defer func() {
		res.Duration = time.Since(start)
		e.logResult(res)
	}()

	tool := e.registry.Get(call.Name)
	if tool == nil {
		res.Err = newToolError(ErrNotFound, call.Name, "no such tool; available: %v", e.registry.Names())
		return res
	}

	if err := validateArgs(tool, call.Arguments); err != nil {
		res.Err = &ToolError{Kind: ErrValidation, Tool: call.Name, Msg: err.Error()}
		return res
	}

	check := policy.Check{Tool: tool.Name, Group: tool.Group, RequiresApproval: tool.RequiresApproval}
	if tool.Group == GroupProcess {
		check.Command, _ = call.Arguments["command"].(string)
	}
	if d := e.policy.Evaluate(check); !d.Permitted {
		res.Err = newToolError(ErrPolicyDenied, call.Name, "%s", d.Reason)
		return res
	}
	if tool.Dangerous {
		e.logger.Info("executing dangerous tool",
			"tool", tool.Name,
			"sandbox", e.policy.ResolveSandbox(check).Mode)
	}

	output, err := e.runWithTimeout(ctx, tool, call.Arguments)
	if err != nil {
		if te, ok := err.(*ToolError); ok {
			res.Err = te
		} else {
			res.Err = &ToolError{Kind: ErrExecution, Tool: call.Name, Msg: err.Error()}
		}
		return res
	}

	if len(output) > e.maxOutputBytes {
		output = output[:e.maxOutputBytes] + truncationMarker
		res.Truncated = true
	}
	res.Output = output
	return res
}

// runWithTimeout invokes the handler under the tool's deadline. The
// handler is responsible for honoring ctx promptly (the shell tool
// kills its process group); if it does not, we stop waiting and report
// the timeout anyway rather than hang the loop.
func (e *Executor) runWithTimeout(ctx context.Context, tool *Tool, args map[string]any) (string, error) {
	timeout := e.defaultTimeout
	if t, ok := e.timeouts[tool.Name]; ok {
		timeout = t
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type handlerResult struct {
		output string
		err    error
	}
	done := make(chan handlerResult, 1)
	go func() {
		output, err := tool.Handler(ctx, args)
		done <- handlerResult{output, err}
	}()

	select {
	case r := <-done:
		if ctx.Err() == context.DeadlineExceeded {
			return "", newToolError(ErrTimeout, tool.Name, "execution exceeded %s", timeout)
		}
		return r.output, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", newToolError(ErrTimeout, tool.Name, "execution exceeded %s", timeout)
		}
		return "", ctx.Err()
	}
}

// validateArgs checks the call's arguments against the tool's schema:
// every required parameter must be present, and parameters with a
// declared primitive type must match it. Unknown parameters are
// tolerated.
func validateArgs(tool *Tool, args map[string]any) error {
	required, _ := tool.Parameters["required"].([]string)
	if required == nil {
		if raw, ok := tool.Parameters["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required parameter %q", name)
		}
	}

	props, _ := tool.Parameters["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		if declared == "" || value == nil {
			continue
		}
		if !typeMatches(declared, value) {
			return fmt.Errorf("parameter %q must be %s", name, declared)
		}
	}
	return nil
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer", "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	}
	return true
}

func (e *Executor) logResult(res *Result) {
	if res.Err != nil {
		e.logger.Warn("tool call failed",
			"tool", res.Tool,
			"kind", res.Err.Kind,
			"duration", res.Duration,
			"error", res.Err.Msg)
		return
	}
	e.logger.Debug("tool call completed",
		"tool", res.Tool,
		"duration", res.Duration,
		"outputBytes", len(res.Output),
		"truncated", res.Truncated)
}
