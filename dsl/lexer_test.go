package dsl

import (
	"testing"
)

func tokenTypes(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func findToken(toks []Token, typ TokenType) (Token, bool) {
	for _, t := range toks {
		if t.Type == typ {
			return t, true
		}
	}
	return Token{}, false
}

func diagWithCode(diags []Diagnostic, code string) (Diagnostic, bool) {
	for _, d := range diags {
		if d.Code == code {
			return d, true
		}
	}
	return Diagnostic{}, false
}

func TestLexBlockStructure(t *testing.T) {
	toks, diags := Lex("flow main:\n    x = 5\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	want := []TokenType{
		TokenName, TokenName, TokenColon, TokenNewline,
		TokenIndent, TokenName, TokenAssign, TokenNumber, TokenNewline,
		TokenDedent, TokenEOF,
	}
	got := tokenTypes(toks)
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLexNestedDedents(t *testing.T) {
	src := "flow main:\n    if $x == 1:\n        return 1\n    return 2\n"
	toks, diags := Lex(src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	indents, dedents := 0, 0
	for _, tok := range toks {
		switch tok.Type {
		case TokenIndent:
			indents++
		case TokenDedent:
			dedents++
		}
	}
	if indents != 2 || dedents != 2 {
		t.Errorf("indents = %d, dedents = %d, want 2 and 2", indents, dedents)
	}
}

func TestLexTabIndentation(t *testing.T) {
	_, diags := Lex("flow main:\n\tx = 5\n")
	d, ok := diagWithCode(diags, CodeIndent)
	if !ok {
		t.Fatalf("no E_INDENT diagnostic, got %v", diags)
	}
	if d.Line != 2 {
		t.Errorf("diagnostic at line %d, want 2", d.Line)
	}
}

func TestLexUnindentMismatch(t *testing.T) {
	src := "flow main:\n    if $x == 1:\n        return 1\n  return 2\n"
	_, diags := Lex(src)
	if _, ok := diagWithCode(diags, CodeIndent); !ok {
		t.Fatalf("no E_INDENT diagnostic for mismatched unindent, got %v", diags)
	}
}

func TestLexWordClassification(t *testing.T) {
	tests := []struct {
		src  string
		typ  TokenType
		want string
	}{
		{"review", TokenName, "review"},
		{"judge-agent", TokenName, "judge-agent"},
		{"review.meta.topic", TokenPath, "review.meta.topic"},
		{"anthropic/claude-sonnet-4.5", TokenModelRef, "anthropic/claude-sonnet-4.5"},
		{"$review", TokenVar, "review"},
		{"$review.topic", TokenVar, "review.topic"},
	}
	for _, tt := range tests {
		toks, diags := Lex(tt.src)
		if len(diags) != 0 {
			t.Errorf("%q: diagnostics %v", tt.src, diags)
			continue
		}
		if toks[0].Type != tt.typ || toks[0].Value != tt.want {
			t.Errorf("%q = %s %q, want %s %q",
				tt.src, toks[0].Type, toks[0].Value, tt.typ, tt.want)
		}
	}
}

func TestLexKeywordsAreNotReserved(t *testing.T) {
	toks, diags := Lex("match = 5\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	if toks[0].Type != TokenName || toks[0].Value != "match" {
		t.Errorf("first token = %s %q, want a plain name", toks[0].Type, toks[0].Value)
	}
}

func TestLexOperators(t *testing.T) {
	toks, diags := Lex("a == b != c <= d >= e < f > g = h\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	var ops []string
	sawAssign := false
	for _, tok := range toks {
		if tok.Type == TokenOp {
			ops = append(ops, tok.Value)
		}
		if tok.Type == TokenAssign {
			sawAssign = true
		}
	}
	want := []string{"==", "!=", "<=", ">=", "<", ">"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, ops[i], want[i])
		}
	}
	if !sawAssign {
		t.Error("single '=' did not lex as assignment")
	}
}

func TestLexStringEscapes(t *testing.T) {
	toks, diags := Lex(`x = "line\none\ttab"` + "\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	s, ok := findToken(toks, TokenString)
	if !ok {
		t.Fatal("no string token")
	}
	if s.Value != "line\none\ttab" {
		t.Errorf("string = %q", s.Value)
	}
}

func TestLexUnterminatedString(t *testing.T) {
	_, diags := Lex("x = \"abc\ny = 1\n")
	d, ok := diagWithCode(diags, CodeSyntax)
	if !ok {
		t.Fatalf("no E_SYNTAX diagnostic, got %v", diags)
	}
	if d.Line != 1 {
		t.Errorf("diagnostic at line %d, want 1", d.Line)
	}
}

func TestLexTripleStringDedent(t *testing.T) {
	src := "prompt p:\n    \"\"\"\n    Review the work of $author.\n      Be thorough.\n    \"\"\"\n"
	toks, diags := Lex(src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	s, ok := findToken(toks, TokenString)
	if !ok {
		t.Fatal("no string token")
	}
	want := "Review the work of $author.\n  Be thorough."
	if s.Value != want {
		t.Errorf("template = %q, want %q", s.Value, want)
	}
}

func TestLexNumbers(t *testing.T) {
	tests := []struct{ src, want string }{
		{"x = 42", "42"},
		{"x = 3.14", "3.14"},
		{"x = -7", "-7"},
		{"x = -0.5", "-0.5"},
	}
	for _, tt := range tests {
		toks, _ := Lex(tt.src + "\n")
		n, ok := findToken(toks, TokenNumber)
		if !ok || n.Value != tt.want {
			t.Errorf("%q: number = %q, want %q", tt.src, n.Value, tt.want)
		}
	}
}

func TestLexCommentsAndBlankLines(t *testing.T) {
	src := "# leading comment\n\nflow main:\n    # inner comment\n    return 1\n"
	toks, diags := Lex(src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	// Comment-only lines contribute no tokens and no block structure.
	want := []TokenType{
		TokenName, TokenName, TokenColon, TokenNewline,
		TokenIndent, TokenName, TokenNumber, TokenNewline,
		TokenDedent, TokenEOF,
	}
	got := tokenTypes(toks)
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
}

func TestLexBareDollar(t *testing.T) {
	_, diags := Lex("x = $\n")
	if _, ok := diagWithCode(diags, CodeSyntax); !ok {
		t.Fatalf("no E_SYNTAX diagnostic for bare $, got %v", diags)
	}
}

func TestLexAlwaysEndsInEOF(t *testing.T) {
	for _, src := range []string{"", "\n", "flow", "flow main:\n    x = \"broken\n"} {
		toks, _ := Lex(src)
		if toks[len(toks)-1].Type != TokenEOF {
			t.Errorf("%q: last token = %s, want EOF", src, toks[len(toks)-1].Type)
		}
	}
}
