package policy

import (
	"testing"

	"github.com/reeve-agent/reeve/internal/config"
)

func engineWith(t *testing.T, cfg config.PolicyConfig) *Engine {
	t.Helper()
	if cfg.ExecMode == "" {
		cfg.ExecMode = ExecFull
	}
	if cfg.Sandbox.Mode == "" {
		cfg.Sandbox.Mode = "host"
	}
	return New(cfg, nil)
}

func TestDenyOverridesAllow(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.PolicyConfig
		chk  Check
	}{
		{
			name: "same tool in both lists",
			cfg: config.PolicyConfig{
				AllowTools: []string{"shell_exec"},
				DenyTools:  []string{"shell_exec"},
			},
			chk: Check{Tool: "shell_exec", Group: "process"},
		},
		{
			name: "same group in both lists",
			cfg: config.PolicyConfig{
				AllowGroups: []string{"filesystem"},
				DenyGroups:  []string{"filesystem"},
			},
			chk: Check{Tool: "read_file", Group: "filesystem"},
		},
		{
			name: "tool allowed but group denied",
			cfg: config.PolicyConfig{
				AllowTools: []string{"fetch_url"},
				DenyGroups: []string{"network"},
			},
			chk: Check{Tool: "fetch_url", Group: "network"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := engineWith(t, tc.cfg).Evaluate(tc.chk)
			if d.Permitted {
				t.Fatalf("expected denial, got permit (%s)", d.Reason)
			}
			if d.Reason == "" {
				t.Fatal("denial must carry a reason")
			}
		})
	}
}

func TestEmptyAllowSetMeansNoRestriction(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{DenyTools: []string{"dangerous"}})

	if d := e.Evaluate(Check{Tool: "anything", Group: "memory"}); !d.Permitted {
		t.Fatalf("empty allow set must not deny: %s", d.Reason)
	}
	if d := e.Evaluate(Check{Tool: "dangerous", Group: "memory"}); d.Permitted {
		t.Fatal("deny list must still apply with empty allow set")
	}
}

func TestAllowSetRestrictsWhenNonEmpty(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{AllowTools: []string{"current_time"}})

	if d := e.Evaluate(Check{Tool: "current_time", Group: "system"}); !d.Permitted {
		t.Fatalf("listed tool should pass: %s", d.Reason)
	}
	if d := e.Evaluate(Check{Tool: "read_file", Group: "filesystem"}); d.Permitted {
		t.Fatal("unlisted tool must be denied once an allow set exists")
	}
}

func TestAllowByGroup(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{AllowGroups: []string{"filesystem"}})

	if d := e.Evaluate(Check{Tool: "write_file", Group: "filesystem"}); !d.Permitted {
		t.Fatalf("group member should pass: %s", d.Reason)
	}
	if d := e.Evaluate(Check{Tool: "shell_exec", Group: "process"}); d.Permitted {
		t.Fatal("tool outside allowed groups must be denied")
	}
}

func TestExecAllowlistMatchesWholeCommand(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{
		ExecMode:      ExecAllowlist,
		ExecAllowlist: []string{"git *", "ls"},
	})

	cases := []struct {
		command string
		want    bool
	}{
		{"git status", true},
		{"git log --oneline -5", true},
		{"ls", true},
		{"ls -la", false},                  // "ls" has no wildcard
		{"git status; rm -rf /", false},    // compound command, one subject
		{"git status && curl evil", false},
		{"gitk", false},                    // "git *" requires the space
		{"rm -rf /", false},
	}

	for _, tc := range cases {
		d := e.Evaluate(Check{Tool: "shell_exec", Group: "process", Command: tc.command})
		if d.Permitted != tc.want {
			t.Errorf("command %q: permitted=%v, want %v (%s)", tc.command, d.Permitted, tc.want, d.Reason)
		}
	}
}

func TestExecAllowlistNormalizesWhitespace(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{
		ExecMode:      ExecAllowlist,
		ExecAllowlist: []string{"git *"},
	})

	if d := e.Evaluate(Check{Tool: "shell_exec", Group: "process", Command: "  git \t status "}); !d.Permitted {
		t.Fatalf("whitespace runs should normalize before matching: %s", d.Reason)
	}
}

func TestExecAllowlistIsCaseSensitive(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{
		ExecMode:      ExecAllowlist,
		ExecAllowlist: []string{"git *"},
	})

	if d := e.Evaluate(Check{Tool: "shell_exec", Group: "process", Command: "GIT status"}); d.Permitted {
		t.Fatal("matching must be case-sensitive")
	}
}

func TestExecModes(t *testing.T) {
	deny := engineWith(t, config.PolicyConfig{ExecMode: ExecDeny})
	if d := deny.Evaluate(Check{Tool: "shell_exec", Group: "process", Command: "echo hi"}); d.Permitted {
		t.Fatal("deny mode must block every command")
	}

	full := engineWith(t, config.PolicyConfig{ExecMode: ExecFull})
	if d := full.Evaluate(Check{Tool: "shell_exec", Group: "process", Command: "echo hi"}); !d.Permitted {
		t.Fatalf("full mode must not block: %s", d.Reason)
	}
}

func TestExecLayerOnlyAppliesToProcessGroup(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{ExecMode: ExecDeny})

	if d := e.Evaluate(Check{Tool: "read_file", Group: "filesystem"}); !d.Permitted {
		t.Fatalf("exec approvals must not gate non-process tools: %s", d.Reason)
	}
}

func TestResolveSandbox(t *testing.T) {
	e := engineWith(t, config.PolicyConfig{
		Sandbox: config.SandboxConfig{Mode: "container", Network: true, MemoryLimitMB: 512},
	})

	sb := e.ResolveSandbox(Check{Tool: "shell_exec", Group: "process"})
	if sb.Mode != "container" || !sb.Network || sb.MemoryLimitMB != 512 {
		t.Fatalf("unexpected sandbox: %+v", sb)
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything at all", true},
		{"git *", "git status", true},
		{"git *", "git", false},
		{"go test ./...", "go test ./...", true},
		{"cat *", "cat /etc/hosts", true}, // '*' crosses path separators
		{"?at", "cat", true},
		{"?at", "at", false},
		{"a*b*c", "a-x-b-y-c", true},
		{"a*b*c", "a-x-b-y", false},
		// Wildcards stop at command separators.
		{"git *", "git status; rm -rf /", false},
		{"git *", "git log | head", false},
		{"*", "true && false", false},
		{"?", ";", false},
		// A literal separator in the pattern still matches itself.
		{"git fetch && git rebase", "git fetch && git rebase", true},
		{"", "", true},
		{"", "x", false},
	}
	for _, tc := range cases {
		if got := globMatch(tc.pattern, tc.s); got != tc.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
