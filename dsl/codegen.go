package dsl

import (
	"fmt"
	"regexp"
	"strings"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
)

// placeholderPattern matches $name and $a.b.c interpolation points inside
// string literals and prompt templates.
var placeholderPattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_-]*(?:\.[A-Za-z_][A-Za-z0-9_-]*)*`)

// extractPlaceholders returns the variable paths referenced by a string,
// without the $ prefix.
func extractPlaceholders(raw string) []string {
	matches := placeholderPattern.FindAllString(raw, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1:])
	}
	return out
}

// compileTemplate compiles a string with interpolation points into a render
// closure over the execution context. A placeholder whose base variable was
// never assigned renders as-is rather than failing the run.
func compileTemplate(raw string) func(*streetrace.ExecutionContext) string {
	if !strings.Contains(raw, "$") {
		return func(*streetrace.ExecutionContext) string { return raw }
	}
	return func(ec *streetrace.ExecutionContext) string {
		return placeholderPattern.ReplaceAllStringFunc(raw, func(m string) string {
			path := strings.Split(m[1:], ".")
			if !ec.Has(path[0]) {
				return m
			}
			return streetrace.Format(ec.GetPath(path))
		})
	}
}

// Generate lowers a validated AST into the executable program. It must only
// be called on an analysis without errors; anything the analyzer should
// have caught surfaces as a CodeGenError, which marks a compiler bug rather
// than a problem in the source. Generation is deterministic and idempotent:
// the same AST always lowers to an equivalent program.
func Generate(file *SourceFile, analysis *Analysis) (*streetrace.Program, error) {
	g := &generator{
		program: &streetrace.Program{
			Name:        file.Name,
			Entry:       analysis.Entry,
			EntryIsFlow: analysis.EntryIsFlow,
			Prompts:     make(map[string]*streetrace.PromptSpec),
			Agents:      make(map[string]*streetrace.AgentSpec),
			Schemas:     make(map[string]*streetrace.SchemaDescriptor),
			Flows:       make(map[string]*streetrace.FlowSpec),
			Models:      make(map[string]string),
			Tools:       make(map[string]string),
		},
	}

	// Models and tools first: prompt and agent lowering resolves against
	// them.
	for _, d := range file.Decls {
		switch t := d.(type) {
		case *ModelDecl:
			g.program.Models[t.Name] = t.Ref
		case *ToolDecl:
			g.program.Tools[t.Name] = t.Description
		case *SchemaDecl:
			g.program.Schemas[t.Name] = g.lowerSchema(t)
		}
	}
	for _, d := range file.Decls {
		switch t := d.(type) {
		case *PromptDecl:
			spec, err := g.lowerPrompt(t)
			if err != nil {
				return nil, err
			}
			g.program.Prompts[t.Name] = spec
		case *AgentDecl:
			spec, err := g.lowerAgent(t)
			if err != nil {
				return nil, err
			}
			g.program.Agents[t.Name] = spec
		}
	}
	for _, d := range file.Decls {
		if t, ok := d.(*FlowDecl); ok {
			steps, err := g.lowerStmts(t.Body)
			if err != nil {
				return nil, err
			}
			g.program.Flows[t.Name] = &streetrace.FlowSpec{Name: t.Name, Steps: steps}
		}
	}
	return g.program, nil
}

type generator struct {
	program *streetrace.Program
}

func (g *generator) lowerSchema(s *SchemaDecl) *streetrace.SchemaDescriptor {
	desc := &streetrace.SchemaDescriptor{Name: s.Name}
	for _, f := range s.Fields {
		desc.Fields = append(desc.Fields, streetrace.FieldDescriptor{
			Name:     f.Name,
			Type:     streetrace.BaseType(f.Type),
			List:     f.List,
			Optional: f.Optional,
		})
	}
	return desc
}

// resolveModel maps a model property to a qualified vendor/model
// identifier: already-qualified references pass through, names resolve
// against the model declarations.
func (g *generator) resolveModel(model string) (string, error) {
	if model == "" || strings.Contains(model, "/") {
		return model, nil
	}
	ref, ok := g.program.Models[model]
	if !ok {
		return "", &streetrace.CodeGenError{
			Reason: fmt.Sprintf("model %q passed analysis but is not declared", model),
		}
	}
	return ref, nil
}

func (g *generator) lowerPrompt(p *PromptDecl) (*streetrace.PromptSpec, error) {
	model, err := g.resolveModel(p.Model)
	if err != nil {
		return nil, err
	}
	return &streetrace.PromptSpec{
		Name:         p.Name,
		Template:     p.Template,
		Render:       compileTemplate(p.Template),
		Schema:       p.Schema,
		SchemaIsList: p.SchemaIsList,
		Model:        model,
		Escalate:     p.Escalate,
	}, nil
}

func (g *generator) lowerAgent(a *AgentDecl) (*streetrace.AgentSpec, error) {
	if a.Instruction == "" {
		return nil, &streetrace.CodeGenError{
			Reason: fmt.Sprintf("agent %q without an instruction reached codegen", a.Name),
		}
	}
	model, err := g.resolveModel(a.Model)
	if err != nil {
		return nil, err
	}
	return &streetrace.AgentSpec{
		Name:        a.Name,
		Instruction: a.Instruction,
		Model:       model,
		Tools:       a.Tools,
		SubAgents:   a.SubAgents,
		Produces:    a.Produces,
	}, nil
}

func (g *generator) lowerStmts(stmts []Stmt) ([]streetrace.Step, error) {
	steps := make([]streetrace.Step, 0, len(stmts))
	for _, stmt := range stmts {
		step, err := g.lowerStmt(stmt)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (g *generator) lowerStmt(stmt Stmt) (streetrace.Step, error) {
	pos := stmt.Pos()
	switch s := stmt.(type) {
	case *AssignStmt:
		v, err := g.lowerExpr(s.Value)
		if err != nil {
			return nil, err
		}
		return &streetrace.AssignStep{Name: s.Name, Value: v, Line: pos.Line, Col: pos.Col}, nil
	case *PropertyAssignStmt:
		v, err := g.lowerExpr(s.Value)
		if err != nil {
			return nil, err
		}
		return &streetrace.PropertyAssignStep{Path: s.Path, Value: v, Line: pos.Line, Col: pos.Col}, nil
	case *RunStmt:
		step := &streetrace.RunStep{Agent: s.Agent, Target: s.Target, Line: pos.Line, Col: pos.Col}
		if s.With != nil {
			v, err := g.lowerExpr(s.With)
			if err != nil {
				return nil, err
			}
			step.With = v
		}
		return step, nil
	case *CallStmt:
		return &streetrace.CallStep{Flow: s.Flow, Line: pos.Line, Col: pos.Col}, nil
	case *ForStmt:
		over, err := g.lowerExpr(s.Over)
		if err != nil {
			return nil, err
		}
		body, err := g.lowerStmts(s.Body)
		if err != nil {
			return nil, err
		}
		return &streetrace.ForStep{Var: s.Var, Over: over, Body: body, Line: pos.Line, Col: pos.Col}, nil
	case *IfStmt:
		cond, err := g.lowerExpr(s.Cond)
		if err != nil {
			return nil, err
		}
		then, err := g.lowerStmts(s.Then)
		if err != nil {
			return nil, err
		}
		els, err := g.lowerStmts(s.Else)
		if err != nil {
			return nil, err
		}
		return &streetrace.IfStep{Cond: cond, Then: then, Else: els, Line: pos.Line, Col: pos.Col}, nil
	case *MatchStmt:
		subject, err := g.lowerExpr(s.Subject)
		if err != nil {
			return nil, err
		}
		step := &streetrace.MatchStep{Subject: subject, Line: pos.Line, Col: pos.Col}
		for _, arm := range s.Cases {
			v, err := g.lowerExpr(arm.Value)
			if err != nil {
				return nil, err
			}
			body, err := g.lowerStmts(arm.Body)
			if err != nil {
				return nil, err
			}
			step.Cases = append(step.Cases, streetrace.MatchCase{Value: v, Body: body})
		}
		if s.Default != nil {
			step.Default, err = g.lowerStmts(s.Default)
			if err != nil {
				return nil, err
			}
		}
		return step, nil
	case *PushStmt:
		v, err := g.lowerExpr(s.Value)
		if err != nil {
			return nil, err
		}
		return &streetrace.PushStep{Value: v, Target: s.Target, Line: pos.Line, Col: pos.Col}, nil
	case *ReturnStmt:
		step := &streetrace.ReturnStep{Line: pos.Line, Col: pos.Col}
		if s.Value != nil {
			v, err := g.lowerExpr(s.Value)
			if err != nil {
				return nil, err
			}
			step.Value = v
		}
		return step, nil
	case *EscalateStmt:
		v, err := g.lowerExpr(s.Message)
		if err != nil {
			return nil, err
		}
		return &streetrace.EscalateStep{Message: v, Line: pos.Line, Col: pos.Col}, nil
	default:
		return nil, &streetrace.CodeGenError{Reason: fmt.Sprintf("unknown statement kind %T", stmt)}
	}
}

func (g *generator) lowerExpr(e ExprNode) (streetrace.Expr, error) {
	switch x := e.(type) {
	case *StringLit:
		if !strings.Contains(x.Raw, "$") {
			return &streetrace.LitExpr{Value: streetrace.StringValue{Value: x.Raw}}, nil
		}
		return &streetrace.TemplateExpr{Template: x.Raw, Render: compileTemplate(x.Raw)}, nil
	case *NumberLit:
		return &streetrace.LitExpr{Value: streetrace.NumberValue{Value: x.Value}}, nil
	case *BoolLit:
		return &streetrace.LitExpr{Value: streetrace.BoolValue{Value: x.Value}}, nil
	case *NullLit:
		return &streetrace.LitExpr{Value: streetrace.Null}, nil
	case *VarRef:
		return &streetrace.VarExpr{Path: x.Path}, nil
	case *CompareExpr:
		left, err := g.lowerExpr(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := g.lowerExpr(x.Right)
		if err != nil {
			return nil, err
		}
		return &streetrace.CompareExpr{Left: left, Op: x.Op, Right: right}, nil
	case nil:
		return nil, &streetrace.CodeGenError{Reason: "nil expression reached codegen"}
	default:
		return nil, &streetrace.CodeGenError{Reason: fmt.Sprintf("unknown expression kind %T", e)}
	}
}
