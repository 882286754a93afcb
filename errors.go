package streetrace

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for runtime lookups.
var (
	// ErrAgentNotFound is returned when a named agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrFlowNotFound is returned when a named flow does not exist.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrNoEntryPoint is returned when a program has no entry point to run.
	ErrNoEntryPoint = errors.New("no entry point")
)

// SchemaValidationError is raised when an LLM response never conformed to
// the expected schema after retry exhaustion. It carries everything the
// escalation path needs: the schema name, the individual validation
// failures, and the raw offending response.
type SchemaValidationError struct {
	Schema   string
	Errors   []string
	Response string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("response did not match schema %q: %s",
		e.Schema, strings.Join(e.Errors, "; "))
}

// JSONParseError is raised when a response could not be parsed as
// structured data, or contained more than one fenced code block so the
// intended payload is ambiguous.
type JSONParseError struct {
	Reason   string
	Response string
}

func (e *JSONParseError) Error() string {
	return "parse response: " + e.Reason
}

// ToolResolutionError is raised when a named tool, model, or agent
// reference cannot be resolved at generation or run time.
type ToolResolutionError struct {
	Kind string // "tool", "model", or "agent"
	Name string
}

func (e *ToolResolutionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("no %s resolved", e.Kind)
	}
	return fmt.Sprintf("%s %q cannot be resolved", e.Kind, e.Name)
}

// CodeGenError indicates an internal invariant violation: the semantic
// analyzer let through something code generation cannot lower. It is fatal
// and never user-facing; seeing one is a bug in the compiler, not in the
// workflow source.
type CodeGenError struct {
	Reason string
}

func (e *CodeGenError) Error() string {
	return "codegen invariant violated: " + e.Reason
}
