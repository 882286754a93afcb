// Package dsl compiles workflow source into executable programs.
//
// The pipeline runs in five stages: an indentation-aware lexer, a
// recursive-descent parser producing an untyped parse tree, a bottom-up AST
// builder, a collecting semantic analyzer, and code generation into the
// runtime's program representation. Compile is the front door:
//
//	program, diags, err := dsl.Compile(source, "review.race")
//	if err != nil {
//		for _, d := range diags {
//			fmt.Println(d)
//		}
//		return err
//	}
//
// Diagnostics carry stable codes (E_SYNTAX, E_INDENT, E_UNDEFINED_REF, ...)
// and source positions, and are collected rather than reported one at a
// time. Keywords are contextual: every keyword remains usable as a variable
// name outside keyword position.
package dsl
