// Package policy implements the layered tool authorization policy.
//
// Three independent layers gate every tool invocation: the tool-level
// allow/deny sets, execution approvals for process-class tools, and
// sandbox resolution for calls that are already permitted. The policy is
// built once from configuration and is immutable afterward — nothing the
// reasoning provider outputs can alter it.
package policy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/reeve-agent/reeve/internal/config"
)

// Exec approval modes.
const (
	ExecFull      = "full"
	ExecAllowlist = "allowlist"
	ExecDeny      = "deny"
)

// Decision is the outcome of a policy evaluation. Decisions are never
// cached: command arguments and session state can change the outcome, so
// every invocation is re-evaluated.
type Decision struct {
	Permitted bool
	// Reason is human-readable and is surfaced verbatim on denial so
	// operators can distinguish "asked for a tool it cannot have" from
	// "misused a tool it has".
	Reason string
}

// Check describes one prospective tool invocation.
type Check struct {
	Tool  string
	Group string
	// Command is the full command line for process-class tools; empty
	// otherwise.
	Command string
	// RequiresApproval forces the exec approval layer even for tools
	// outside the process group.
	RequiresApproval bool
}

// Sandbox describes where a permitted call runs. Resolution never grants
// or denies; it only selects the execution environment.
type Sandbox struct {
	Mode          string // "host", "container", "isolated"
	Network       bool
	BindMounts    []string
	MemoryLimitMB int
	CPULimit      int
}

// Engine evaluates the three policy layers. Construct once per session;
// all fields are read-only after New.
type Engine struct {
	allowTools  map[string]bool
	allowGroups map[string]bool
	denyTools   map[string]bool
	denyGroups  map[string]bool

	execMode      string
	execAllowlist []string

	sandbox Sandbox
	logger  *slog.Logger
}

// New builds an Engine from configuration.
func New(cfg config.PolicyConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	patterns := make([]string, len(cfg.ExecAllowlist))
	for i, p := range cfg.ExecAllowlist {
		patterns[i] = normalizeCommand(p)
	}
	return &Engine{
		allowTools:  toSet(cfg.AllowTools),
		allowGroups: toSet(cfg.AllowGroups),
		denyTools:   toSet(cfg.DenyTools),
		denyGroups:  toSet(cfg.DenyGroups),
		execMode:    cfg.ExecMode,
		execAllowlist: patterns,
		sandbox: Sandbox{
			Mode:          cfg.Sandbox.Mode,
			Network:       cfg.Sandbox.Network,
			BindMounts:    cfg.Sandbox.BindMounts,
			MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
			CPULimit:      cfg.Sandbox.CPULimit,
		},
		logger: logger,
	}
}

func toSet(names []string) map[string]bool {
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// Evaluate runs all applicable layers in order. Both must pass; the
// first failing layer's reason is returned.
func (e *Engine) Evaluate(c Check) Decision {
	if d := e.checkToolLayer(c); !d.Permitted {
		e.logger.Debug("policy denied", "tool", c.Tool, "layer", "tool", "reason", d.Reason)
		return d
	}
	if c.Group == "process" || c.RequiresApproval {
		if d := e.checkExecLayer(c); !d.Permitted {
			e.logger.Debug("policy denied", "tool", c.Tool, "layer", "exec", "reason", d.Reason)
			return d
		}
	}
	return Decision{Permitted: true, Reason: "permitted"}
}

// ResolveSandbox selects the execution environment for an already-
// permitted call.
func (e *Engine) ResolveSandbox(Check) Sandbox {
	return e.sandbox
}

// checkToolLayer is layer 1: allow/deny sets over names and capability
// groups. Deny always overrides allow, even when the same name or group
// appears in both.
func (e *Engine) checkToolLayer(c Check) Decision {
	if e.denyTools[c.Tool] {
		return Decision{Reason: fmt.Sprintf("tool %q is in the deny list", c.Tool)}
	}
	if e.denyGroups[c.Group] {
		return Decision{Reason: fmt.Sprintf("capability group %q is in the deny list", c.Group)}
	}
	if e.restrictedByAllow() && !e.allowTools[c.Tool] && !e.allowGroups[c.Group] {
		return Decision{Reason: fmt.Sprintf("tool %q matches neither the tool nor group allow list", c.Tool)}
	}
	return Decision{Permitted: true}
}

// restrictedByAllow reports whether an allow restriction is configured
// at all. An empty allow set means "no restriction by allow", not
// "nothing permitted" — emptiness distinguishes configurations, it is
// not a denial sentinel.
func (e *Engine) restrictedByAllow() bool {
	return len(e.allowTools) > 0 || len(e.allowGroups) > 0
}

// checkExecLayer is layer 2: execution approvals for process-class
// tools.
func (e *Engine) checkExecLayer(c Check) Decision {
	switch e.execMode {
	case ExecFull:
		return Decision{Permitted: true}
	case ExecDeny:
		return Decision{Reason: "command execution is disabled by policy"}
	case ExecAllowlist:
		cmd := normalizeCommand(c.Command)
		for _, pattern := range e.execAllowlist {
			if globMatch(pattern, cmd) {
				return Decision{Permitted: true}
			}
		}
		return Decision{Reason: fmt.Sprintf("command %q matches no allowlist pattern", cmd)}
	default:
		return Decision{Reason: fmt.Sprintf("unknown exec approval mode %q", e.execMode)}
	}
}

// normalizeCommand collapses whitespace runs to single spaces and trims
// the ends, so that formatting differences cannot dodge a pattern.
// Matching itself is case-sensitive: "GIT *" does not approve "git push".
func normalizeCommand(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// commandSeparator reports whether c chains commands in a shell. A
// wildcard never crosses one: "git *" must not approve
// "git status; rm -rf /". Compound lines are approved only by patterns
// spelling the separators out literally.
func commandSeparator(c byte) bool {
	return c == ';' || c == '&' || c == '|'
}

// globMatch matches pattern against the entire string. '*' matches any
// run of characters except command separators, spaces and path
// separators included; '?' matches exactly one non-separator character.
// The whole command line is one subject: a prefix match approves
// nothing.
func globMatch(pattern, s string) bool {
	// Iterative matcher with single-star backtracking.
	var (
		p, i         int
		starP, starI = -1, 0
	)
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == s[i] ||
			(pattern[p] == '?' && !commandSeparator(s[i]))):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			starP, starI = p, i
			p++
		case starP >= 0 && !commandSeparator(s[starI]):
			p = starP + 1
			starI++
			i = starI
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
