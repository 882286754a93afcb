package dsl

import (
	"fmt"
	"sort"
)

// Severity grades a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic codes. Stable across releases; tools match on these.
const (
	CodeSyntax          = "E_SYNTAX"
	CodeIndent          = "E_INDENT"
	CodeDuplicateDecl   = "E_DUPLICATE_DECL"
	CodeUndefinedRef    = "E_UNDEFINED_REF"
	CodeMissingProperty = "E_MISSING_PROPERTY"
	CodeAmbiguousEntry  = "E_AMBIGUOUS_ENTRY"
	CodeNoEntry         = "E_NO_ENTRY"
	CodeMaybeUnassigned = "W_MAYBE_UNASSIGNED"
)

// Diagnostic is one compiler finding: a stable code, a position, and a
// human-oriented message. Hint, when set, suggests what the compiler
// expected or how to fix the problem.
type Diagnostic struct {
	Code     string
	Message  string
	Line     int
	Col      int
	Severity Severity
	Hint     string
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%d:%d: %s: %s [%s]", d.Line, d.Col, d.Severity, d.Message, d.Code)
	if d.Hint != "" {
		s += " (hint: " + d.Hint + ")"
	}
	return s
}

func errAt(code, message string, line, col int) Diagnostic {
	return Diagnostic{Code: code, Message: message, Line: line, Col: col, Severity: SeverityError}
}

func warnAt(code, message string, line, col int) Diagnostic {
	return Diagnostic{Code: code, Message: message, Line: line, Col: col, Severity: SeverityWarning}
}

// HasErrors reports whether any diagnostic is error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// sortDiagnostics orders diagnostics by position, then code, for stable
// reporting regardless of which pipeline stage produced them.
func sortDiagnostics(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Line != diags[j].Line {
			return diags[i].Line < diags[j].Line
		}
		if diags[i].Col != diags[j].Col {
			return diags[i].Col < diags[j].Col
		}
		return diags[i].Code < diags[j].Code
	})
}
