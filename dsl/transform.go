package dsl

import (
	"strconv"
	"strings"
)

// BuildAST lowers the untyped parse tree into the typed AST, bottom-up. It
// performs normalization only, never validation: $-prefixed and bare
// variable references collapse into one VarRef kind, comma lists drop their
// separators, and assignment to a dotted path becomes a property
// assignment. Anything semantic is the analyzer's job.
func BuildAST(root *ParseNode, name string) (*SourceFile, []Diagnostic) {
	b := &astBuilder{}
	file := &SourceFile{Name: name}
	for _, n := range root.Children {
		if d := b.buildDecl(n); d != nil {
			file.Decls = append(file.Decls, d)
		}
	}
	return file, b.diags
}

type astBuilder struct {
	diags []Diagnostic
}

func (b *astBuilder) errorAt(tok *Token, msg, hint string) {
	d := errAt(CodeSyntax, msg, tok.Line, tok.Col)
	d.Hint = hint
	b.diags = append(b.diags, d)
}

func posOf(tok *Token) position {
	return position{Line: tok.Line, Col: tok.Col}
}

func (b *astBuilder) buildDecl(n *ParseNode) Decl {
	switch n.Kind {
	case NodeModelDecl:
		return &ModelDecl{
			Name:     n.Tok.Value,
			Ref:      n.child(0).Tok.Value,
			position: posOf(n.Tok),
		}
	case NodeSchemaDecl:
		decl := &SchemaDecl{Name: n.Tok.Value, position: posOf(n.Tok)}
		for _, f := range n.Children {
			if f.Kind == NodeField {
				decl.Fields = append(decl.Fields, b.buildField(f))
			}
		}
		return decl
	case NodePromptDecl:
		return b.buildPrompt(n)
	case NodeToolDecl:
		decl := &ToolDecl{Name: n.Tok.Value, position: posOf(n.Tok)}
		if s := n.find(NodeString); s != nil {
			decl.Description = s.Tok.Value
		}
		return decl
	case NodeAgentDecl:
		return b.buildAgent(n)
	case NodeFlowDecl:
		decl := &FlowDecl{Name: n.Tok.Value, position: posOf(n.Tok)}
		if block := n.find(NodeBlock); block != nil {
			decl.Body = b.buildBlock(block)
		}
		return decl
	default:
		return nil
	}
}

func (b *astBuilder) buildField(n *ParseNode) SchemaField {
	f := SchemaField{Name: n.Tok.Value, position: posOf(n.Tok)}
	for _, c := range n.Children {
		switch c.Tok.Value {
		case "optional":
			f.Optional = true
		case "list":
			f.List = true
		default:
			f.Type = c.Tok.Value
		}
	}
	switch f.Type {
	case "string", "int", "float", "bool":
	case "":
		// Already reported by the parser.
	default:
		b.errorAt(n.Tok, "unknown field type "+strconv.Quote(f.Type),
			"field types are string, int, float, or bool")
	}
	return f
}

func (b *astBuilder) buildPrompt(n *ParseNode) *PromptDecl {
	decl := &PromptDecl{Name: n.Tok.Value, position: posOf(n.Tok)}
	for _, c := range n.Children {
		switch c.Kind {
		case NodeExpecting:
			decl.Schema = c.Tok.Value
			decl.SchemaPos = Position{Line: c.Tok.Line, Col: c.Tok.Col}
			decl.SchemaIsList = c.find(NodeArray) != nil
		case NodeString:
			decl.Template = c.Tok.Value
		case NodePromptProp:
			switch c.Tok.Value {
			case "model":
				if v := c.child(0); v != nil {
					decl.Model = v.Tok.Value
				}
			case "escalate":
				decl.Escalate = true
			}
		}
	}
	return decl
}

func (b *astBuilder) buildAgent(n *ParseNode) *AgentDecl {
	decl := &AgentDecl{Name: n.Tok.Value, position: posOf(n.Tok)}
	for _, c := range n.Children {
		if c.Kind != NodeAgentProp {
			continue
		}
		switch c.Tok.Value {
		case "instruction":
			if v := c.child(0); v != nil {
				decl.Instruction = v.Tok.Value
			}
		case "model":
			if v := c.child(0); v != nil {
				decl.Model = v.Tok.Value
			}
		case "produces":
			if v := c.child(0); v != nil {
				decl.Produces = v.Tok.Value
			}
		case "tools":
			for _, v := range c.Children {
				decl.Tools = append(decl.Tools, v.Tok.Value)
			}
		case "agents":
			for _, v := range c.Children {
				decl.SubAgents = append(decl.SubAgents, v.Tok.Value)
			}
		}
	}
	return decl
}

func (b *astBuilder) buildBlock(n *ParseNode) []Stmt {
	var stmts []Stmt
	for _, c := range n.Children {
		if s := b.buildStmt(c); s != nil {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func (b *astBuilder) buildStmt(n *ParseNode) Stmt {
	switch n.Kind {
	case NodeAssign:
		return b.buildAssign(n)
	case NodeRun:
		return b.buildRun(n, "")
	case NodeCall:
		return &CallStmt{Flow: n.Tok.Value, position: posOf(n.Tok)}
	case NodeFor:
		stmt := &ForStmt{Var: n.Tok.Value, position: posOf(n.Tok)}
		stmt.Over = b.buildExpr(n.child(0))
		if block := n.find(NodeBlock); block != nil {
			stmt.Body = b.buildBlock(block)
		}
		return stmt
	case NodeIf:
		stmt := &IfStmt{position: posOf(n.Tok)}
		stmt.Cond = b.buildExpr(n.child(0))
		if block := n.find(NodeBlock); block != nil {
			stmt.Then = b.buildBlock(block)
		}
		if e := n.find(NodeElse); e != nil {
			if block := e.find(NodeBlock); block != nil {
				stmt.Else = b.buildBlock(block)
			}
		}
		return stmt
	case NodeMatch:
		stmt := &MatchStmt{position: posOf(n.Tok)}
		stmt.Subject = b.buildExpr(n.child(0))
		for _, c := range n.Children[1:] {
			switch c.Kind {
			case NodeCase:
				arm := MatchArm{Value: b.buildExpr(c.child(0))}
				if block := c.find(NodeBlock); block != nil {
					arm.Body = b.buildBlock(block)
				}
				stmt.Cases = append(stmt.Cases, arm)
			case NodeElse:
				if block := c.find(NodeBlock); block != nil {
					stmt.Default = b.buildBlock(block)
				}
			}
		}
		return stmt
	case NodePush:
		return &PushStmt{
			Value:    b.buildExpr(n.child(0)),
			Target:   n.child(1).Tok.Value,
			position: posOf(n.Tok),
		}
	case NodeReturn:
		stmt := &ReturnStmt{position: posOf(n.Tok)}
		if v := n.child(0); v != nil {
			stmt.Value = b.buildExpr(v)
		}
		return stmt
	case NodeEscalate:
		return &EscalateStmt{Message: b.buildExpr(n.child(0)), position: posOf(n.Tok)}
	default:
		return nil
	}
}

func (b *astBuilder) buildAssign(n *ParseNode) Stmt {
	target := n.Tok.Value // TokenVar values already carry no $
	path := strings.Split(target, ".")
	rhs := n.child(0)
	if rhs == nil {
		return nil
	}
	if rhs.Kind == NodeRun {
		if len(path) > 1 {
			b.errorAt(n.Tok, "run results bind to a plain variable, not a property path", "")
			return b.buildRun(rhs, "")
		}
		return b.buildRun(rhs, target)
	}
	value := b.buildExpr(rhs)
	if len(path) > 1 {
		return &PropertyAssignStmt{Path: path, Value: value, position: posOf(n.Tok)}
	}
	return &AssignStmt{Name: target, Value: value, position: posOf(n.Tok)}
}

func (b *astBuilder) buildRun(n *ParseNode, target string) *RunStmt {
	stmt := &RunStmt{Agent: n.Tok.Value, Target: target, position: posOf(n.Tok)}
	if w := n.child(0); w != nil {
		stmt.With = b.buildExpr(w)
	}
	return stmt
}

func (b *astBuilder) buildExpr(n *ParseNode) ExprNode {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case NodeString:
		return &StringLit{Raw: n.Tok.Value, position: posOf(n.Tok)}
	case NodeNumber:
		f, err := strconv.ParseFloat(n.Tok.Value, 64)
		if err != nil {
			b.errorAt(n.Tok, "malformed number "+strconv.Quote(n.Tok.Value), "")
		}
		return &NumberLit{Value: f, position: posOf(n.Tok)}
	case NodeBool:
		return &BoolLit{Value: n.Tok.Value == "true", position: posOf(n.Tok)}
	case NodeNull:
		return &NullLit{position: posOf(n.Tok)}
	case NodeVar, NodeNameRef:
		return &VarRef{Path: strings.Split(n.Tok.Value, "."), position: posOf(n.Tok)}
	case NodeCompare:
		return &CompareExpr{
			Left:     b.buildExpr(n.child(0)),
			Op:       n.Tok.Value,
			Right:    b.buildExpr(n.child(1)),
			position: posOf(n.Tok),
		}
	default:
		return nil
	}
}
