package dsl

import "fmt"

// TokenType classifies lexical tokens.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIndent
	TokenDedent
	TokenName     // identifier; dashes allowed after the first character
	TokenPath     // dotted path, e.g. review.findings
	TokenModelRef // qualified model reference, e.g. anthropic/claude-sonnet-4
	TokenVar      // $-prefixed variable reference, value without the $
	TokenNumber
	TokenString
	TokenOp     // comparison operator: == != < > <= >=
	TokenAssign // =
	TokenColon
	TokenComma
	TokenLBracket
	TokenRBracket
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "end of input",
	TokenNewline:  "newline",
	TokenIndent:   "indent",
	TokenDedent:   "dedent",
	TokenName:     "name",
	TokenPath:     "path",
	TokenModelRef: "model reference",
	TokenVar:      "variable reference",
	TokenNumber:   "number",
	TokenString:   "string",
	TokenOp:       "comparison operator",
	TokenAssign:   "'='",
	TokenColon:    "':'",
	TokenComma:    "','",
	TokenLBracket: "'['",
	TokenRBracket: "']'",
}

func (t TokenType) String() string {
	if n, ok := tokenNames[t]; ok {
		return n
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexical token with its source position (1-based).
type Token struct {
	Type  TokenType
	Value string
	Line  int
	Col   int
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF, TokenNewline, TokenIndent, TokenDedent:
		return t.Type.String()
	default:
		return fmt.Sprintf("%s %q", t.Type, t.Value)
	}
}
