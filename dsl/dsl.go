package dsl

import (
	"errors"
	"os"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
)

// ErrCompileFailed is returned by Compile when the source carried
// error-severity diagnostics. The diagnostics themselves hold the details.
var ErrCompileFailed = errors.New("compilation failed")

// Compile runs the full pipeline over DSL source: lexing, parsing, AST
// construction, semantic analysis, and code generation. The returned
// diagnostics are ordered by source position and include warnings; any
// error-severity diagnostic fails the compile and code generation is never
// invoked on an invalid AST.
func Compile(source, name string) (*streetrace.Program, []Diagnostic, error) {
	file, diags := frontend(source, name)
	if HasErrors(diags) {
		return nil, diags, ErrCompileFailed
	}

	analysis := Analyze(file)
	diags = append(diags, analysis.Diagnostics...)
	sortDiagnostics(diags)
	if HasErrors(diags) {
		return nil, diags, ErrCompileFailed
	}

	program, err := Generate(file, analysis)
	if err != nil {
		return nil, diags, err
	}
	return program, diags, nil
}

// CompileFile compiles a DSL source file from the local filesystem.
func CompileFile(path string) (*streetrace.Program, []Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return Compile(string(data), path)
}

// Check runs the compiler front half and semantic analysis without code
// generation, returning every diagnostic found.
func Check(source, name string) []Diagnostic {
	file, diags := frontend(source, name)
	if HasErrors(diags) {
		return diags
	}
	analysis := Analyze(file)
	diags = append(diags, analysis.Diagnostics...)
	sortDiagnostics(diags)
	return diags
}

// frontend runs lexing, parsing, and AST construction, merging their
// diagnostics. Semantic analysis is skipped by the callers when the front
// half produced errors: an AST built from a broken parse would only yield
// misleading follow-on findings.
func frontend(source, name string) (*SourceFile, []Diagnostic) {
	tokens, diags := Lex(source)
	tree, parseDiags := Parse(tokens)
	diags = append(diags, parseDiags...)
	file, astDiags := BuildAST(tree, name)
	diags = append(diags, astDiags...)
	sortDiagnostics(diags)
	return file, diags
}
