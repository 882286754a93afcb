package dsl

import (
	"fmt"
	"strings"
)

// Parse builds the untyped parse tree from a token stream. Parsing is total
// and deterministic: the same tokens always yield a structurally equal tree,
// and malformed input produces diagnostics plus a best-effort tree rather
// than an abort, so one compile reports every syntax problem it can find.
//
// Keywords are contextual. The parser recognizes them only in keyword
// position; a leading name followed by '=' is always an assignment, so
// every keyword remains usable as a variable name.
func Parse(tokens []Token) (*ParseNode, []Diagnostic) {
	p := &parser{toks: tokens}
	root := p.parseSource()
	return root, p.diags
}

type parser struct {
	toks  []Token
	pos   int
	diags []Diagnostic
}

func (p *parser) cur() Token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[p.pos]
}

func (p *parser) peek() Token {
	if p.pos+1 >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+1]
}

func (p *parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) at(typ TokenType) bool {
	return p.cur().Type == typ
}

// atKeyword reports whether the current token is a name spelling the given
// contextual keyword.
func (p *parser) atKeyword(word string) bool {
	t := p.cur()
	return t.Type == TokenName && t.Value == word
}

func (p *parser) expect(typ TokenType, hint string) (Token, bool) {
	if p.at(typ) {
		return p.advance(), true
	}
	p.errorExpected(typ.String(), hint)
	return p.cur(), false
}

func (p *parser) expectKeyword(word string) bool {
	if p.atKeyword(word) {
		p.advance()
		return true
	}
	p.errorExpected(fmt.Sprintf("%q", word), "")
	return false
}

func (p *parser) errorExpected(what, hint string) {
	t := p.cur()
	d := errAt(CodeSyntax, fmt.Sprintf("expected %s, found %s", what, t), t.Line, t.Col)
	d.Hint = hint
	p.diags = append(p.diags, d)
}

func (p *parser) errorAt(t Token, msg, hint string) {
	d := errAt(CodeSyntax, msg, t.Line, t.Col)
	d.Hint = hint
	p.diags = append(p.diags, d)
}

// syncLine skips to the start of the next logical line at the current block
// depth, stepping over any nested block the bad line opened.
func (p *parser) syncLine() {
	depth := 0
	for {
		switch p.cur().Type {
		case TokenEOF:
			return
		case TokenIndent:
			depth++
		case TokenDedent:
			if depth == 0 {
				return
			}
			depth--
			if depth == 0 {
				p.advance()
				return
			}
		case TokenNewline:
			// A newline followed by an indent means the bad line opened
			// a block; keep going and consume it too.
			if depth == 0 && p.peek().Type != TokenIndent {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

func (p *parser) skipNewlines() {
	for p.at(TokenNewline) {
		p.advance()
	}
}

// source := { model_decl | schema_decl | prompt_decl | tool_decl
//           | agent_decl | flow_decl }
func (p *parser) parseSource() *ParseNode {
	root := newNode(NodeSource, nil)
	for {
		p.skipNewlines()
		if p.at(TokenEOF) {
			return root
		}
		var decl *ParseNode
		switch {
		case p.atKeyword("model"):
			decl = p.parseModelDecl()
		case p.atKeyword("schema"):
			decl = p.parseSchemaDecl()
		case p.atKeyword("prompt"):
			decl = p.parsePromptDecl()
		case p.atKeyword("tool"):
			decl = p.parseToolDecl()
		case p.atKeyword("agent"):
			decl = p.parseAgentDecl()
		case p.atKeyword("flow"):
			decl = p.parseFlowDecl()
		default:
			p.errorExpected("a declaration",
				"top-level lines start with model, schema, prompt, tool, agent, or flow")
			p.syncLine()
			continue
		}
		if decl != nil {
			root.Children = append(root.Children, decl)
		}
	}
}

// model_decl := "model" NAME ":" MODELREF NEWLINE
func (p *parser) parseModelDecl() *ParseNode {
	p.advance() // model
	name, ok := p.expect(TokenName, "model declarations are named: model main: vendor/model")
	if !ok {
		p.syncLine()
		return nil
	}
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return nil
	}
	ref, ok := p.expect(TokenModelRef, "model identifiers are qualified as vendor/model")
	if !ok {
		p.syncLine()
		return nil
	}
	p.expect(TokenNewline, "")
	return newNode(NodeModelDecl, &name, newNode(NodeNameRef, &ref))
}

// schema_decl := "schema" NAME ":" (field | NEWLINE INDENT field+ DEDENT)
func (p *parser) parseSchemaDecl() *ParseNode {
	p.advance() // schema
	name, ok := p.expect(TokenName, "")
	if !ok {
		p.syncLine()
		return nil
	}
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return nil
	}
	decl := newNode(NodeSchemaDecl, &name)
	if !p.at(TokenNewline) {
		// Inline single-field form: schema Y: answer: bool
		if f := p.parseField(); f != nil {
			decl.Children = append(decl.Children, f)
		}
		return decl
	}
	p.advance() // newline
	if _, ok := p.expect(TokenIndent, "schema fields are declared in an indented block"); !ok {
		return decl
	}
	for !p.at(TokenDedent) && !p.at(TokenEOF) {
		if p.at(TokenNewline) {
			p.advance()
			continue
		}
		if f := p.parseField(); f != nil {
			decl.Children = append(decl.Children, f)
		}
	}
	if p.at(TokenDedent) {
		p.advance()
	}
	return decl
}

// field := NAME ":" ["optional"] ["list" "of"] NAME NEWLINE
func (p *parser) parseField() *ParseNode {
	name, ok := p.expect(TokenName, "")
	if !ok {
		p.syncLine()
		return nil
	}
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return nil
	}
	field := newNode(NodeField, &name)
	if p.atKeyword("optional") {
		t := p.advance()
		field.Children = append(field.Children, newNode(NodeNameRef, &t))
	}
	if p.atKeyword("list") {
		t := p.advance()
		field.Children = append(field.Children, newNode(NodeNameRef, &t))
		if !p.expectKeyword("of") {
			p.syncLine()
			return field
		}
	}
	typ, ok := p.expect(TokenName, "field types are string, int, float, or bool")
	if !ok {
		p.syncLine()
		return field
	}
	field.Children = append(field.Children, newNode(NodeNameRef, &typ))
	p.expect(TokenNewline, "")
	return field
}

// prompt_decl := "prompt" NAME [expecting] ":"
//                (STRING NEWLINE | NEWLINE INDENT STRING NEWLINE prompt_prop* DEDENT)
// expecting   := "expecting" NAME ["[" "]"]
func (p *parser) parsePromptDecl() *ParseNode {
	p.advance() // prompt
	name, ok := p.expect(TokenName, "")
	if !ok {
		p.syncLine()
		return nil
	}
	decl := newNode(NodePromptDecl, &name)
	if p.atKeyword("expecting") {
		p.advance()
		schema, ok := p.expect(TokenName, "expecting names a declared schema")
		if !ok {
			p.syncLine()
			return decl
		}
		exp := newNode(NodeExpecting, &schema)
		if p.at(TokenLBracket) {
			lb := p.advance()
			p.expect(TokenRBracket, "the array form is Schema[]")
			exp.Children = append(exp.Children, newNode(NodeArray, &lb))
		}
		decl.Children = append(decl.Children, exp)
	}
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return decl
	}
	if p.at(TokenString) {
		tmpl := p.advance()
		decl.Children = append(decl.Children, newNode(NodeString, &tmpl))
		p.expect(TokenNewline, "")
		return decl
	}
	if _, ok := p.expect(TokenNewline, "a prompt body is a string literal"); !ok {
		p.syncLine()
		return decl
	}
	if _, ok := p.expect(TokenIndent, ""); !ok {
		return decl
	}
	tmpl, ok := p.expect(TokenString, "a prompt body starts with its template string")
	if !ok {
		p.syncLine()
	} else {
		decl.Children = append(decl.Children, newNode(NodeString, &tmpl))
		p.expect(TokenNewline, "")
	}
	for !p.at(TokenDedent) && !p.at(TokenEOF) {
		if p.at(TokenNewline) {
			p.advance()
			continue
		}
		switch {
		case p.atKeyword("model"):
			kw := p.advance()
			prop := newNode(NodePromptProp, &kw)
			if p.at(TokenModelRef) || p.at(TokenName) {
				v := p.advance()
				prop.Children = append(prop.Children, newNode(NodeNameRef, &v))
			} else {
				p.errorExpected("a model reference", "")
			}
			p.expect(TokenNewline, "")
			decl.Children = append(decl.Children, prop)
		case p.atKeyword("escalate"):
			kw := p.advance()
			p.expect(TokenNewline, "")
			decl.Children = append(decl.Children, newNode(NodePromptProp, &kw))
		default:
			p.errorExpected("a prompt property", "prompt properties are model and escalate")
			p.syncLine()
		}
	}
	if p.at(TokenDedent) {
		p.advance()
	}
	return decl
}

// tool_decl := "tool" NAME [":" STRING] NEWLINE
func (p *parser) parseToolDecl() *ParseNode {
	p.advance() // tool
	name, ok := p.expect(TokenName, "")
	if !ok {
		p.syncLine()
		return nil
	}
	decl := newNode(NodeToolDecl, &name)
	if p.at(TokenColon) {
		p.advance()
		desc, ok := p.expect(TokenString, "a tool description is a string literal")
		if !ok {
			p.syncLine()
			return decl
		}
		decl.Children = append(decl.Children, newNode(NodeString, &desc))
	}
	p.expect(TokenNewline, "")
	return decl
}

// agent_decl := "agent" NAME ":" (agent_prop | NEWLINE INDENT agent_prop+ DEDENT)
// agent_prop := ("instruction" NAME | "model" (NAME | MODELREF)
//             | "tools" name_list | "agents" name_list | "produces" NAME) NEWLINE
func (p *parser) parseAgentDecl() *ParseNode {
	p.advance() // agent
	name, ok := p.expect(TokenName, "")
	if !ok {
		p.syncLine()
		return nil
	}
	decl := newNode(NodeAgentDecl, &name)
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return decl
	}
	if !p.at(TokenNewline) {
		// Inline single-property form: agent a: instruction p
		p.parseAgentProp(decl)
		return decl
	}
	p.advance() // newline
	if _, ok := p.expect(TokenIndent, "agent properties are declared in an indented block"); !ok {
		return decl
	}
	for !p.at(TokenDedent) && !p.at(TokenEOF) {
		if p.at(TokenNewline) {
			p.advance()
			continue
		}
		p.parseAgentProp(decl)
	}
	if p.at(TokenDedent) {
		p.advance()
	}
	return decl
}

func (p *parser) parseAgentProp(decl *ParseNode) {
	t := p.cur()
	switch {
	case p.atKeyword("instruction"), p.atKeyword("produces"):
		kw := p.advance()
		prop := newNode(NodeAgentProp, &kw)
		v, ok := p.expect(TokenName, "")
		if ok {
			prop.Children = append(prop.Children, newNode(NodeNameRef, &v))
			p.expect(TokenNewline, "")
		} else {
			p.syncLine()
		}
		decl.Children = append(decl.Children, prop)
	case p.atKeyword("model"):
		kw := p.advance()
		prop := newNode(NodeAgentProp, &kw)
		if p.at(TokenModelRef) || p.at(TokenName) {
			v := p.advance()
			prop.Children = append(prop.Children, newNode(NodeNameRef, &v))
			p.expect(TokenNewline, "")
		} else {
			p.errorExpected("a model name or vendor/model reference", "")
			p.syncLine()
		}
		decl.Children = append(decl.Children, prop)
	case p.atKeyword("tools"), p.atKeyword("agents"):
		kw := p.advance()
		prop := newNode(NodeAgentProp, &kw)
		for {
			v, ok := p.expect(TokenName, "")
			if !ok {
				p.syncLine()
				break
			}
			prop.Children = append(prop.Children, newNode(NodeNameRef, &v))
			if !p.at(TokenComma) {
				p.expect(TokenNewline, "")
				break
			}
			p.advance()
		}
		decl.Children = append(decl.Children, prop)
	default:
		p.errorAt(t, fmt.Sprintf("unknown agent property %s", t),
			"agent properties are instruction, model, tools, agents, and produces")
		p.syncLine()
	}
}

// flow_decl := "flow" NAME ":" block
func (p *parser) parseFlowDecl() *ParseNode {
	p.advance() // flow
	name, ok := p.expect(TokenName, "")
	if !ok {
		p.syncLine()
		return nil
	}
	decl := newNode(NodeFlowDecl, &name)
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return decl
	}
	decl.Children = append(decl.Children, p.parseBlock())
	return decl
}

// block := NEWLINE INDENT stmt+ DEDENT
func (p *parser) parseBlock() *ParseNode {
	block := newNode(NodeBlock, nil)
	if _, ok := p.expect(TokenNewline, ""); !ok {
		p.syncLine()
		return block
	}
	if _, ok := p.expect(TokenIndent, "block bodies are indented"); !ok {
		return block
	}
	for !p.at(TokenDedent) && !p.at(TokenEOF) {
		if p.at(TokenNewline) {
			p.advance()
			continue
		}
		if s := p.parseStmt(); s != nil {
			block.Children = append(block.Children, s)
		}
	}
	if p.at(TokenDedent) {
		p.advance()
	}
	return block
}

// stmt dispatch. A leading name followed by '=' is always an assignment;
// only then are statement keywords considered.
func (p *parser) parseStmt() *ParseNode {
	t := p.cur()
	if (t.Type == TokenName || t.Type == TokenPath || t.Type == TokenVar) &&
		p.peek().Type == TokenAssign {
		return p.parseAssign()
	}
	switch {
	case p.atKeyword("run"):
		return p.parseRun()
	case p.atKeyword("call"):
		return p.parseCall()
	case p.atKeyword("for"):
		return p.parseFor()
	case p.atKeyword("if"):
		return p.parseIf()
	case p.atKeyword("match"):
		return p.parseMatch()
	case p.atKeyword("push"):
		return p.parsePush()
	case p.atKeyword("return"):
		return p.parseReturn()
	case p.atKeyword("escalate"):
		return p.parseEscalate()
	default:
		p.errorExpected("a statement", "")
		p.syncLine()
		return nil
	}
}

// assign := target "=" ("run" "agent" NAME ["with" expr] | expr) NEWLINE
func (p *parser) parseAssign() *ParseNode {
	target := p.advance()
	p.advance() // =
	node := newNode(NodeAssign, &target)
	if p.atKeyword("run") && p.peek().Type == TokenName && p.peek().Value == "agent" {
		node.Children = append(node.Children, p.parseRun())
		return node
	}
	expr := p.parseExpr()
	if expr == nil {
		p.syncLine()
		return node
	}
	node.Children = append(node.Children, expr)
	p.expect(TokenNewline, "")
	return node
}

// run := "run" "agent" NAME ["with" expr] NEWLINE
func (p *parser) parseRun() *ParseNode {
	p.advance() // run
	if !p.expectKeyword("agent") {
		p.syncLine()
		return nil
	}
	name, ok := p.expect(TokenName, "run agent names a declared agent")
	if !ok {
		p.syncLine()
		return nil
	}
	node := newNode(NodeRun, &name)
	if p.atKeyword("with") {
		p.advance()
		expr := p.parseExpr()
		if expr == nil {
			p.syncLine()
			return node
		}
		node.Children = append(node.Children, expr)
	}
	p.expect(TokenNewline, "")
	return node
}

// call := "call" NAME NEWLINE
func (p *parser) parseCall() *ParseNode {
	p.advance() // call
	name, ok := p.expect(TokenName, "call names a declared flow")
	if !ok {
		p.syncLine()
		return nil
	}
	p.expect(TokenNewline, "")
	return newNode(NodeCall, &name)
}

// for := "for" NAME "in" expr ":" block
func (p *parser) parseFor() *ParseNode {
	p.advance() // for
	v, ok := p.expect(TokenName, "")
	if !ok {
		p.syncLine()
		return nil
	}
	if !p.expectKeyword("in") {
		p.syncLine()
		return nil
	}
	expr := p.parseExpr()
	if expr == nil {
		p.syncLine()
		return nil
	}
	node := newNode(NodeFor, &v, expr)
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return node
	}
	node.Children = append(node.Children, p.parseBlock())
	return node
}

// if := "if" expr ":" block ["else" ":" block]
func (p *parser) parseIf() *ParseNode {
	kw := p.advance() // if
	expr := p.parseExpr()
	if expr == nil {
		p.syncLine()
		return nil
	}
	node := newNode(NodeIf, &kw, expr)
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return node
	}
	node.Children = append(node.Children, p.parseBlock())
	if p.atKeyword("else") {
		elseKw := p.advance()
		elseNode := newNode(NodeElse, &elseKw)
		if _, ok := p.expect(TokenColon, ""); ok {
			elseNode.Children = append(elseNode.Children, p.parseBlock())
		} else {
			p.syncLine()
		}
		node.Children = append(node.Children, elseNode)
	}
	return node
}

// match := "match" expr ":" NEWLINE INDENT case+ ["else" ":" block] DEDENT
// case  := "case" expr ":" block
func (p *parser) parseMatch() *ParseNode {
	kw := p.advance() // match
	expr := p.parseExpr()
	if expr == nil {
		p.syncLine()
		return nil
	}
	node := newNode(NodeMatch, &kw, expr)
	if _, ok := p.expect(TokenColon, ""); !ok {
		p.syncLine()
		return node
	}
	if _, ok := p.expect(TokenNewline, ""); !ok {
		p.syncLine()
		return node
	}
	if _, ok := p.expect(TokenIndent, "match arms are indented"); !ok {
		return node
	}
	for !p.at(TokenDedent) && !p.at(TokenEOF) {
		if p.at(TokenNewline) {
			p.advance()
			continue
		}
		switch {
		case p.atKeyword("case"):
			caseKw := p.advance()
			caseExpr := p.parseExpr()
			if caseExpr == nil {
				p.syncLine()
				continue
			}
			arm := newNode(NodeCase, &caseKw, caseExpr)
			if _, ok := p.expect(TokenColon, ""); ok {
				arm.Children = append(arm.Children, p.parseBlock())
			} else {
				p.syncLine()
			}
			node.Children = append(node.Children, arm)
		case p.atKeyword("else"):
			elseKw := p.advance()
			elseNode := newNode(NodeElse, &elseKw)
			if _, ok := p.expect(TokenColon, ""); ok {
				elseNode.Children = append(elseNode.Children, p.parseBlock())
			} else {
				p.syncLine()
			}
			node.Children = append(node.Children, elseNode)
		default:
			p.errorExpected("a case arm", "match bodies contain case arms and an optional else")
			p.syncLine()
		}
	}
	if p.at(TokenDedent) {
		p.advance()
	}
	return node
}

// push := "push" expr "to" target NEWLINE
func (p *parser) parsePush() *ParseNode {
	kw := p.advance() // push
	expr := p.parseExpr()
	if expr == nil {
		p.syncLine()
		return nil
	}
	if !p.expectKeyword("to") {
		p.syncLine()
		return nil
	}
	t := p.cur()
	if (t.Type != TokenName && t.Type != TokenVar) || strings.Contains(t.Value, ".") {
		p.errorExpected("a plain variable name",
			"push appends to a named list variable, not an object property")
		p.syncLine()
		return nil
	}
	p.advance()
	p.expect(TokenNewline, "")
	return newNode(NodePush, &kw, expr, newNode(NodeVar, &t))
}

// return := "return" [expr] NEWLINE
func (p *parser) parseReturn() *ParseNode {
	kw := p.advance() // return
	node := newNode(NodeReturn, &kw)
	if !p.at(TokenNewline) {
		expr := p.parseExpr()
		if expr == nil {
			p.syncLine()
			return node
		}
		node.Children = append(node.Children, expr)
	}
	p.expect(TokenNewline, "")
	return node
}

// escalate := "escalate" expr NEWLINE
func (p *parser) parseEscalate() *ParseNode {
	kw := p.advance() // escalate
	expr := p.parseExpr()
	if expr == nil {
		p.syncLine()
		return nil
	}
	p.expect(TokenNewline, "")
	return newNode(NodeEscalate, &kw, expr)
}

// expr    := operand [op operand]
// operand := STRING | NUMBER | "true" | "false" | "null" | VAR | PATH | NAME
func (p *parser) parseExpr() *ParseNode {
	left := p.parseOperand()
	if left == nil {
		return nil
	}
	if p.at(TokenOp) {
		op := p.advance()
		right := p.parseOperand()
		if right == nil {
			return nil
		}
		return newNode(NodeCompare, &op, left, right)
	}
	return left
}

func (p *parser) parseOperand() *ParseNode {
	t := p.cur()
	switch t.Type {
	case TokenString:
		p.advance()
		return newNode(NodeString, &t)
	case TokenNumber:
		p.advance()
		return newNode(NodeNumber, &t)
	case TokenVar, TokenPath:
		p.advance()
		return newNode(NodeVar, &t)
	case TokenName:
		p.advance()
		switch t.Value {
		case "true", "false":
			return newNode(NodeBool, &t)
		case "null":
			return newNode(NodeNull, &t)
		default:
			return newNode(NodeNameRef, &t)
		}
	default:
		p.errorExpected("an expression", "")
		return nil
	}
}
