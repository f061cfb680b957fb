// Package tools provides the tool registry and execution framework.
//
// This file defines the failure taxonomy for tool execution. Every
// failed call is classified into exactly one kind so the loop can tell
// "asked for a tool it does not have" apart from "misused a tool it
// has" without parsing error strings.
package tools

import "fmt"

// ErrorKind classifies a failed tool call.
type ErrorKind string

const (
	// ErrNotFound: the call targets a tool absent from the registry.
	ErrNotFound ErrorKind = "not_found"
	// ErrValidation: the arguments do not satisfy the tool's schema.
	ErrValidation ErrorKind = "validation_error"
	// ErrPolicyDenied: the policy engine refused the invocation.
	ErrPolicyDenied ErrorKind = "policy_denied"
	// ErrTimeout: the handler exceeded its deadline and was terminated.
	ErrTimeout ErrorKind = "timeout"
	// ErrExecution: the handler ran and returned an error.
	ErrExecution ErrorKind = "execution_error"
)

// ToolError carries the kind alongside the message. The message is
// surfaced verbatim to the reasoning provider; the kind is for the loop
// and for logs.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Msg  string
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q: %s: %s", e.Tool, e.Kind, e.Msg)
}

func newToolError(kind ErrorKind, tool, format string, args ...any) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Msg: fmt.Sprintf(format, args...)}
}
