// Package tools provides shell execution capabilities for the agent.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// envDenylist holds environment variable names (or prefixes) that are
// never passed to child processes. Loader overrides could redirect what
// a permitted command actually executes.
var envDenylist = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"DYLD_",
}

// ShellTool runs whole command lines through sh -c inside the
// workspace. The policy engine has already approved the command by the
// time the handler runs; the tool's own job is containment: process
// group teardown on timeout and a scrubbed environment.
type ShellTool struct {
	workingDir string
}

// NewShellTool creates the shell executor rooted at workingDir.
func NewShellTool(workingDir string) *ShellTool {
	return &ShellTool{workingDir: workingDir}
}

// RegisterShellTool adds shell_exec backed by the given executor.
func (r *Registry) RegisterShellTool(sh *ShellTool) {
	r.Register(&Tool{
		Name:        "shell_exec",
		Description: "Execute a shell command in the workspace and return its output. The whole command line runs via sh -c; stdout and stderr are both captured.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command line to execute",
				},
			},
			"required": []string{"command"},
		},
		Group:            GroupProcess,
		Dangerous:        true,
		RequiresApproval: true,
		Handler:          sh.handleExec,
	})
}

func (s *ShellTool) handleExec(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command is empty")
	}

	cmd := exec.Command("sh", "-c", command)
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}
	cmd.Env = scrubEnv(os.Environ())
	// Own process group so a timeout can take down the whole pipeline,
	// not just the sh that spawned it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return "", ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("running command: %w", runErr)
		}
	}

	return formatExecOutput(stdout.String(), stderr.String(), exitCode), nil
}

// formatExecOutput renders the captured streams for the provider.
// A nonzero exit is ordinary output, not an error: the provider reads
// the code and decides whether to retry or change approach.
func formatExecOutput(stdout, stderr string, exitCode int) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
	}
	if stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(stderr)
	}
	if exitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[exit code %d]", exitCode)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}

// scrubEnv drops loader-override variables from the inherited
// environment.
func scrubEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if deniedEnvVar(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func deniedEnvVar(name string) bool {
	for _, denied := range envDenylist {
		if strings.HasSuffix(denied, "_") {
			if strings.HasPrefix(name, denied) {
				return true
			}
		} else if name == denied {
			return true
		}
	}
	return false
}
