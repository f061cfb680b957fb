package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/policy"
)

func testExecutor(t *testing.T, reg *Registry, pol config.PolicyConfig, tc config.ToolsConfig) *Executor {
	t.Helper()
	if pol.ExecMode == "" {
		pol.ExecMode = policy.ExecFull
	}
	if pol.Sandbox.Mode == "" {
		pol.Sandbox.Mode = "host"
	}
	if tc.DefaultTimeoutSec == 0 {
		tc.DefaultTimeoutSec = 5
	}
	if tc.MaxOutputBytes == 0 {
		tc.MaxOutputBytes = 20 * 1024
	}
	return NewExecutor(reg, policy.New(pol, nil), tc, nil)
}

func echoTool(name, group string) *Tool {
	return &Tool{
		Name: name,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Group: group,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	ex := testExecutor(t, NewRegistry(), config.PolicyConfig{}, config.ToolsConfig{})

	res := ex.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "nope"})
	if res.Err == nil || res.Err.Kind != ErrNotFound {
		t.Fatalf("expected not_found, got %+v", res.Err)
	}
	if res.Duration <= 0 {
		t.Error("duration must be recorded even for gate failures")
	}
}

func TestExecuteValidationBeforePolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo", GroupSystem))
	// echo is denied, but a call missing its required parameter must
	// fail validation first.
	ex := testExecutor(t, reg, config.PolicyConfig{DenyTools: []string{"echo"}}, config.ToolsConfig{})

	res := ex.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{}})
	if res.Err == nil || res.Err.Kind != ErrValidation {
		t.Fatalf("expected validation_error, got %+v", res.Err)
	}
}

func TestExecuteValidatesParameterTypes(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo", GroupSystem))
	ex := testExecutor(t, reg, config.PolicyConfig{}, config.ToolsConfig{})

	res := ex.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "echo",
		Arguments: map[string]any{"text": float64(42)},
	})
	if res.Err == nil || res.Err.Kind != ErrValidation {
		t.Fatalf("expected validation_error for wrong type, got %+v", res.Err)
	}
}

func TestExecutePolicyDenied(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo", GroupSystem))
	ex := testExecutor(t, reg, config.PolicyConfig{DenyTools: []string{"echo"}}, config.ToolsConfig{})

	res := ex.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	if res.Err == nil || res.Err.Kind != ErrPolicyDenied {
		t.Fatalf("expected policy_denied, got %+v", res.Err)
	}
	if res.Err.Msg == "" {
		t.Error("denial must carry the policy reason")
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name:       "sleepy",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		Group:      GroupSystem,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	ex := testExecutor(t, reg, config.PolicyConfig{}, config.ToolsConfig{
		TimeoutsSec: map[string]int{"sleepy": 1},
	})
	// Shrink further than whole seconds for test speed.
	ex.timeouts["sleepy"] = 20 * time.Millisecond

	res := ex.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "sleepy", Arguments: map[string]any{}})
	if res.Err == nil || res.Err.Kind != ErrTimeout {
		t.Fatalf("expected timeout, got %+v", res.Err)
	}
	if res.Duration < 20*time.Millisecond {
		t.Errorf("duration %v should cover the deadline wait", res.Duration)
	}
}

func TestExecuteTruncatesOutput(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name:       "blaster",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		Group:      GroupSystem,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return strings.Repeat("x", 500), nil
		},
	})
	ex := testExecutor(t, reg, config.PolicyConfig{}, config.ToolsConfig{MaxOutputBytes: 100})

	res := ex.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "blaster", Arguments: map[string]any{}})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Truncated {
		t.Fatal("result should be flagged truncated")
	}
	if !strings.HasSuffix(res.Output, truncationMarker) {
		t.Error("truncated output must end with the marker")
	}
	if len(res.Output) != 100+len(truncationMarker) {
		t.Errorf("output length = %d, want %d", len(res.Output), 100+len(truncationMarker))
	}
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo", GroupSystem))
	ex := testExecutor(t, reg, config.PolicyConfig{}, config.ToolsConfig{})

	res := ex.Execute(context.Background(), llm.ToolCall{
		ID: "c7", Name: "echo",
		Arguments: map[string]any{"text": "hello"},
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Output != "hello" || res.CallID != "c7" {
		t.Errorf("got output=%q callID=%q", res.Output, res.CallID)
	}
	if res.ForProvider() != "hello" {
		t.Errorf("ForProvider() = %q", res.ForProvider())
	}
}

func TestForProviderRendersErrors(t *testing.T) {
	res := &Result{Tool: "echo", Err: newToolError(ErrPolicyDenied, "echo", "nope")}
	got := res.ForProvider()
	if !strings.Contains(got, "policy_denied") || !strings.Contains(got, "nope") {
		t.Errorf("ForProvider() = %q", got)
	}
}

func TestSchemasIncludeDeniableTools(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo", GroupSystem))
	reg.Register(echoTool("denied", GroupSystem))

	schemas := reg.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("schemas should list every registered tool, got %d", len(schemas))
	}
}
