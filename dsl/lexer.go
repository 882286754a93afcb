package dsl

import (
	"fmt"
	"strings"
)

// Lex tokenizes DSL source. Lexing is total: malformed input produces
// diagnostics, never a panic, and always yields a token stream ending in
// EOF so the parser can report further problems in the same pass.
//
// Indentation is significant. Leading spaces open and close blocks through
// INDENT/DEDENT tokens; tabs in indentation and dedents that match no open
// block are indentation faults (E_INDENT), kept distinct from ordinary
// syntax faults.
func Lex(source string) ([]Token, []Diagnostic) {
	l := &lexer{
		src:     source,
		line:    1,
		col:     1,
		indents: []int{0},
		atStart: true,
	}
	l.run()
	return l.tokens, l.diags
}

type lexer struct {
	src     string
	pos     int
	line    int
	col     int
	indents []int
	atStart bool
	hasTok  bool // current line emitted at least one token
	tokens  []Token
	diags   []Diagnostic
}

func (l *lexer) run() {
	for l.pos < len(l.src) {
		if l.atStart {
			l.lineStart()
			continue
		}
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t':
			l.advance()
		case c == '#':
			l.skipComment()
		case c == '\n':
			l.endLine()
		case c == '"' || c == '\'':
			l.scanString(c)
		case c >= '0' && c <= '9':
			l.scanNumber(false)
		case c == '-' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]):
			l.scanNumber(true)
		case isWordStart(c):
			l.scanWord()
		case c == '$':
			l.scanVar()
		case c == '=':
			l.scanEquals()
		case c == '!':
			l.scanBang()
		case c == '<' || c == '>':
			l.scanAngle(c)
		case c == ':':
			l.emit(TokenColon, ":")
			l.advance()
		case c == ',':
			l.emit(TokenComma, ",")
			l.advance()
		case c == '[':
			l.emit(TokenLBracket, "[")
			l.advance()
		case c == ']':
			l.emit(TokenRBracket, "]")
			l.advance()
		default:
			l.errorf(CodeSyntax, "unexpected character %q", string(c))
			l.advance()
		}
	}
	if l.hasTok {
		l.tokens = append(l.tokens, Token{Type: TokenNewline, Line: l.line, Col: l.col})
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.tokens = append(l.tokens, Token{Type: TokenDedent, Line: l.line, Col: 1})
	}
	l.tokens = append(l.tokens, Token{Type: TokenEOF, Line: l.line, Col: l.col})
}

// lineStart measures the indentation of a new line and emits INDENT/DEDENT
// tokens against the open-block stack. Blank and comment-only lines are
// skipped without affecting block structure.
func (l *lexer) lineStart() {
	width := 0
	sawTab := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' {
			width++
			l.advance()
			continue
		}
		if c == '\t' {
			sawTab = true
			l.advance()
			continue
		}
		break
	}
	if l.pos >= len(l.src) {
		return
	}
	c := l.src[l.pos]
	if c == '\n' {
		l.advance()
		return
	}
	if c == '#' {
		l.skipComment()
		if l.pos < len(l.src) && l.src[l.pos] == '\n' {
			l.advance()
		}
		return
	}
	if sawTab {
		l.diags = append(l.diags,
			errAt(CodeIndent, "tabs are not allowed in indentation", l.line, 1))
	}

	l.atStart = false
	top := l.indents[len(l.indents)-1]
	switch {
	case width > top:
		l.indents = append(l.indents, width)
		l.tokens = append(l.tokens, Token{Type: TokenIndent, Line: l.line, Col: 1})
	case width < top:
		for len(l.indents) > 1 && l.indents[len(l.indents)-1] > width {
			l.indents = l.indents[:len(l.indents)-1]
			l.tokens = append(l.tokens, Token{Type: TokenDedent, Line: l.line, Col: 1})
		}
		if l.indents[len(l.indents)-1] != width {
			l.diags = append(l.diags,
				errAt(CodeIndent, "unindent does not match any open block", l.line, 1))
			// Recover by aligning to the nearest enclosing block.
		}
	}
}

func (l *lexer) endLine() {
	if l.hasTok {
		l.tokens = append(l.tokens, Token{Type: TokenNewline, Line: l.line, Col: l.col})
		l.hasTok = false
	}
	l.advance() // consumes '\n', bumping line
	l.atStart = true
}

func (l *lexer) skipComment() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.advance()
	}
}

// scanWord scans an identifier and classifies it: a bare name, a dotted
// path, or a qualified vendor/model reference. Keywords are contextual and
// left to the parser; the lexer never reserves words.
func (l *lexer) scanWord() {
	line, col := l.line, l.col
	start := l.pos
	l.advance()
	for l.pos < len(l.src) && isWordChar(l.src[l.pos]) {
		l.advance()
	}
	hasDot := false
	for l.pos < len(l.src) && l.src[l.pos] == '.' &&
		l.pos+1 < len(l.src) && isWordStart(l.src[l.pos+1]) {
		hasDot = true
		l.advance()
		for l.pos < len(l.src) && isWordChar(l.src[l.pos]) {
			l.advance()
		}
	}
	if !hasDot && l.pos < len(l.src) && l.src[l.pos] == '/' &&
		l.pos+1 < len(l.src) && isWordChar(l.src[l.pos+1]) {
		l.advance()
		for l.pos < len(l.src) && (isWordChar(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.advance()
		}
		l.emitAt(TokenModelRef, l.src[start:l.pos], line, col)
		return
	}
	typ := TokenName
	if hasDot {
		typ = TokenPath
	}
	l.emitAt(typ, l.src[start:l.pos], line, col)
}

func (l *lexer) scanVar() {
	line, col := l.line, l.col
	l.advance() // $
	if l.pos >= len(l.src) || !isWordStart(l.src[l.pos]) {
		l.diags = append(l.diags,
			errAt(CodeSyntax, "'$' must be followed by a variable name", line, col))
		return
	}
	start := l.pos
	for l.pos < len(l.src) && isWordChar(l.src[l.pos]) {
		l.advance()
	}
	for l.pos < len(l.src) && l.src[l.pos] == '.' &&
		l.pos+1 < len(l.src) && isWordStart(l.src[l.pos+1]) {
		l.advance()
		for l.pos < len(l.src) && isWordChar(l.src[l.pos]) {
			l.advance()
		}
	}
	l.emitAt(TokenVar, l.src[start:l.pos], line, col)
}

func (l *lexer) scanNumber(negative bool) {
	line, col := l.line, l.col
	start := l.pos
	if negative {
		l.advance()
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.advance()
	}
	if l.pos+1 < len(l.src) && l.src[l.pos] == '.' && isDigit(l.src[l.pos+1]) {
		l.advance()
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.advance()
		}
	}
	l.emitAt(TokenNumber, l.src[start:l.pos], line, col)
}

// scanString scans all three quoting forms. Triple-quoted strings span
// lines and are dedented; single- and double-quoted strings must close
// before the end of the line. Interpolation placeholders are preserved
// verbatim for the template compiler.
func (l *lexer) scanString(quote byte) {
	line, col := l.line, l.col
	if strings.HasPrefix(l.src[l.pos:], string(quote)+string(quote)+string(quote)) {
		l.scanTripleString(quote, line, col)
		return
	}
	l.advance() // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\n' {
			l.diags = append(l.diags,
				errAt(CodeSyntax, "unterminated string literal", line, col))
			l.emitAt(TokenString, b.String(), line, col)
			return
		}
		if c == quote {
			l.advance()
			l.emitAt(TokenString, b.String(), line, col)
			return
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.advance()
			switch l.src[l.pos] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(l.src[l.pos])
			}
			l.advance()
			continue
		}
		b.WriteByte(c)
		l.advance()
	}
	l.diags = append(l.diags,
		errAt(CodeSyntax, "unterminated string literal", line, col))
	l.emitAt(TokenString, b.String(), line, col)
}

func (l *lexer) scanTripleString(quote byte, line, col int) {
	fence := string(quote) + string(quote) + string(quote)
	l.advanceN(3)
	end := strings.Index(l.src[l.pos:], fence)
	if end < 0 {
		l.diags = append(l.diags,
			errAt(CodeSyntax, "unterminated triple-quoted string", line, col))
		end = len(l.src) - l.pos
	}
	body := l.src[l.pos : l.pos+end]
	l.advanceN(end)
	if l.pos < len(l.src) {
		l.advanceN(3)
	}
	l.emitAt(TokenString, dedentBlock(body), line, col)
}

// dedentBlock strips the common leading-space prefix of a triple-quoted
// body and trims surrounding blank lines, so templates read naturally at
// any nesting depth.
func dedentBlock(s string) string {
	lines := strings.Split(s, "\n")
	margin := -1
	for _, ln := range lines {
		trimmed := strings.TrimLeft(ln, " ")
		if trimmed == "" {
			continue
		}
		indent := len(ln) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin > 0 {
		for i, ln := range lines {
			if len(ln) >= margin {
				lines[i] = ln[margin:]
			} else {
				lines[i] = strings.TrimLeft(ln, " ")
			}
		}
	}
	out := strings.Join(lines, "\n")
	return strings.Trim(out, "\n")
}

func (l *lexer) scanEquals() {
	line, col := l.line, l.col
	l.advance()
	if l.pos < len(l.src) && l.src[l.pos] == '=' {
		l.advance()
		l.emitAt(TokenOp, "==", line, col)
		return
	}
	l.emitAt(TokenAssign, "=", line, col)
}

func (l *lexer) scanBang() {
	line, col := l.line, l.col
	l.advance()
	if l.pos < len(l.src) && l.src[l.pos] == '=' {
		l.advance()
		l.emitAt(TokenOp, "!=", line, col)
		return
	}
	l.diags = append(l.diags, errAt(CodeSyntax, "unexpected character '!'", line, col))
}

func (l *lexer) scanAngle(c byte) {
	line, col := l.line, l.col
	op := string(c)
	l.advance()
	if l.pos < len(l.src) && l.src[l.pos] == '=' {
		op += "="
		l.advance()
	}
	l.emitAt(TokenOp, op, line, col)
}

func (l *lexer) emit(typ TokenType, value string) {
	l.emitAt(typ, value, l.line, l.col)
}

func (l *lexer) emitAt(typ TokenType, value string, line, col int) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: value, Line: line, Col: col})
	l.hasTok = true
}

func (l *lexer) errorf(code, format string, args ...any) {
	l.diags = append(l.diags, Diagnostic{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Line:     l.line,
		Col:      l.col,
		Severity: SeverityError,
	})
}

func (l *lexer) advance() {
	if l.src[l.pos] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.pos++
}

func (l *lexer) advanceN(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		l.advance()
	}
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isWordStart(c) || c == '-' || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
