package dsl

import (
	"fmt"
	"strings"
)

// Analysis is the outcome of semantic analysis: the elected entry point and
// every diagnostic found. Analysis never mutates the AST and never stops at
// the first problem; all findings are collected and reported together.
type Analysis struct {
	Entry       string
	EntryIsFlow bool
	Diagnostics []Diagnostic
}

// Analyze validates a source file: one shared top-level namespace with
// duplicate rejection, reference resolution for every cross-declaration
// name, per-flow assignment-before-use checking over the flat hoisted
// scope, and entry-point election.
func Analyze(file *SourceFile) *Analysis {
	a := &analyzer{
		decls:   make(map[string]Decl),
		models:  make(map[string]*ModelDecl),
		schemas: make(map[string]*SchemaDecl),
		prompts: make(map[string]*PromptDecl),
		tools:   make(map[string]*ToolDecl),
		agents:  make(map[string]*AgentDecl),
		flows:   make(map[string]*FlowDecl),
	}
	a.collect(file)
	a.checkPrompts()
	a.checkAgents()
	a.checkFlows()
	entry, isFlow := a.electEntry(file)
	sortDiagnostics(a.diags)
	return &Analysis{Entry: entry, EntryIsFlow: isFlow, Diagnostics: a.diags}
}

type analyzer struct {
	decls   map[string]Decl
	models  map[string]*ModelDecl
	schemas map[string]*SchemaDecl
	prompts map[string]*PromptDecl
	tools   map[string]*ToolDecl
	agents  map[string]*AgentDecl
	flows   map[string]*FlowDecl

	// Declaration order, for deterministic entry election.
	flowOrder  []*FlowDecl
	agentOrder []*AgentDecl

	diags []Diagnostic
}

func (a *analyzer) errorAt(pos Position, code, msg string) {
	a.diags = append(a.diags, errAt(code, msg, pos.Line, pos.Col))
}

func (a *analyzer) warnAt(pos Position, code, msg string) {
	a.diags = append(a.diags, warnAt(code, msg, pos.Line, pos.Col))
}

// collect builds the global namespace. All declaration kinds share it, so a
// schema and an agent cannot carry the same name.
func (a *analyzer) collect(file *SourceFile) {
	for _, d := range file.Decls {
		name := d.DeclName()
		if prev, dup := a.decls[name]; dup {
			a.errorAt(d.Pos(), CodeDuplicateDecl,
				fmt.Sprintf("%q is already declared at line %d", name, prev.Pos().Line))
			continue
		}
		a.decls[name] = d
		switch t := d.(type) {
		case *ModelDecl:
			a.models[name] = t
		case *SchemaDecl:
			a.schemas[name] = t
			a.checkSchema(t)
		case *PromptDecl:
			a.prompts[name] = t
		case *ToolDecl:
			a.tools[name] = t
		case *AgentDecl:
			a.agents[name] = t
			a.agentOrder = append(a.agentOrder, t)
		case *FlowDecl:
			a.flows[name] = t
			a.flowOrder = append(a.flowOrder, t)
		}
	}
}

func (a *analyzer) checkSchema(s *SchemaDecl) {
	seen := make(map[string]bool)
	for _, f := range s.Fields {
		if seen[f.Name] {
			a.errorAt(f.Pos(), CodeDuplicateDecl,
				fmt.Sprintf("schema %q declares field %q twice", s.Name, f.Name))
		}
		seen[f.Name] = true
	}
	if len(s.Fields) == 0 {
		a.errorAt(s.Pos(), CodeMissingProperty,
			fmt.Sprintf("schema %q declares no fields", s.Name))
	}
}

func (a *analyzer) checkPrompts() {
	for _, p := range a.prompts {
		if p.Schema != "" {
			if _, ok := a.schemas[p.Schema]; !ok {
				a.errorAt(p.SchemaPos, CodeUndefinedRef,
					fmt.Sprintf("prompt %q expects undeclared schema %q", p.Name, p.Schema))
			}
		}
		if p.Template == "" {
			a.errorAt(p.Pos(), CodeMissingProperty,
				fmt.Sprintf("prompt %q has no template", p.Name))
		}
		a.checkModelRef(p.Pos(), p.Model)
	}
}

func (a *analyzer) checkAgents() {
	for _, ag := range a.agents {
		if ag.Instruction == "" {
			a.errorAt(ag.Pos(), CodeMissingProperty,
				fmt.Sprintf("agent %q declares no instruction prompt", ag.Name))
		} else if _, ok := a.prompts[ag.Instruction]; !ok {
			a.errorAt(ag.Pos(), CodeUndefinedRef,
				fmt.Sprintf("agent %q instruction references undeclared prompt %q", ag.Name, ag.Instruction))
		}
		a.checkModelRef(ag.Pos(), ag.Model)
		for _, tool := range ag.Tools {
			if _, ok := a.tools[tool]; !ok {
				a.errorAt(ag.Pos(), CodeUndefinedRef,
					fmt.Sprintf("agent %q references undeclared tool %q", ag.Name, tool))
			}
		}
		for _, sub := range ag.SubAgents {
			if _, ok := a.agents[sub]; !ok {
				a.errorAt(ag.Pos(), CodeUndefinedRef,
					fmt.Sprintf("agent %q references undeclared agent %q", ag.Name, sub))
			}
		}
	}
}

// checkModelRef accepts an empty model, a declared model name, or an
// already-qualified vendor/model reference.
func (a *analyzer) checkModelRef(pos Position, model string) {
	if model == "" || strings.Contains(model, "/") {
		return
	}
	if _, ok := a.models[model]; !ok {
		a.errorAt(pos, CodeUndefinedRef,
			fmt.Sprintf("model %q is not declared", model))
	}
}

// flowScope tracks the flat hoisted variable scope of one flow walk.
// Definite names were assigned on every path to the current statement;
// maybe names were assigned only inside some conditional branch.
type flowScope struct {
	definite map[string]bool
	maybe    map[string]bool
	warned   map[string]bool
}

func newFlowScope() *flowScope {
	return &flowScope{
		definite: map[string]bool{"input": true},
		maybe:    make(map[string]bool),
		warned:   make(map[string]bool),
	}
}

func (s *flowScope) clone() *flowScope {
	c := &flowScope{
		definite: make(map[string]bool, len(s.definite)),
		maybe:    make(map[string]bool, len(s.maybe)),
		warned:   s.warned, // shared: one warning per name per flow
	}
	for k := range s.definite {
		c.definite[k] = true
	}
	for k := range s.maybe {
		c.maybe[k] = true
	}
	return c
}

// merge folds branch outcomes back into the parent scope. Names definite in
// every branch become definite; everything else assigned anywhere becomes
// maybe.
func (s *flowScope) merge(branches ...*flowScope) {
	if len(branches) == 0 {
		return
	}
	for name := range branches[0].definite {
		all := true
		for _, b := range branches[1:] {
			if !b.definite[name] {
				all = false
				break
			}
		}
		if all {
			s.definite[name] = true
		}
	}
	for _, b := range branches {
		for name := range b.definite {
			if !s.definite[name] {
				s.maybe[name] = true
			}
		}
		for name := range b.maybe {
			if !s.definite[name] {
				s.maybe[name] = true
			}
		}
	}
}

func (a *analyzer) checkFlows() {
	for _, f := range a.flowOrder {
		sc := newFlowScope()
		a.walkStmts(f.Name, f.Body, sc)
	}
}

func (a *analyzer) walkStmts(flow string, stmts []Stmt, sc *flowScope) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *AssignStmt:
			a.checkExpr(flow, s.Value, sc)
			sc.definite[s.Name] = true

		case *PropertyAssignStmt:
			a.checkExpr(flow, s.Value, sc)
			a.checkRead(flow, s.Path[0], s.Pos(), sc)

		case *RunStmt:
			if s.With != nil {
				a.checkExpr(flow, s.With, sc)
			}
			ag, ok := a.agents[s.Agent]
			if !ok {
				a.errorAt(s.Pos(), CodeUndefinedRef,
					fmt.Sprintf("flow %q runs undeclared agent %q", flow, s.Agent))
			}
			if s.Target != "" {
				sc.definite[s.Target] = true
			} else if ok && ag.Produces != "" {
				sc.definite[ag.Produces] = true
			}

		case *CallStmt:
			callee, ok := a.flows[s.Flow]
			if !ok {
				a.errorAt(s.Pos(), CodeUndefinedRef,
					fmt.Sprintf("flow %q calls undeclared flow %q", flow, s.Flow))
				continue
			}
			// The callee runs against the caller's context; its
			// unconditional assignments are visible afterwards.
			for name := range a.flowAssignments(callee) {
				sc.definite[name] = true
			}

		case *ForStmt:
			a.checkExpr(flow, s.Over, sc)
			body := sc.clone()
			body.definite[s.Var] = true
			a.walkStmts(flow, s.Body, body)
			sc.merge(body)

		case *IfStmt:
			a.checkExpr(flow, s.Cond, sc)
			then := sc.clone()
			a.walkStmts(flow, s.Then, then)
			if s.Else != nil {
				els := sc.clone()
				a.walkStmts(flow, s.Else, els)
				sc.merge(then, els)
			} else {
				sc.merge(then, sc.clone())
			}

		case *MatchStmt:
			a.checkExpr(flow, s.Subject, sc)
			var branches []*flowScope
			for _, arm := range s.Cases {
				a.checkExpr(flow, arm.Value, sc)
				b := sc.clone()
				a.walkStmts(flow, arm.Body, b)
				branches = append(branches, b)
			}
			if s.Default != nil {
				b := sc.clone()
				a.walkStmts(flow, s.Default, b)
				branches = append(branches, b)
			} else {
				branches = append(branches, sc.clone())
			}
			sc.merge(branches...)

		case *PushStmt:
			a.checkExpr(flow, s.Value, sc)
			// push creates the list when absent, so the target needs
			// no prior assignment and is definite afterwards.
			sc.definite[s.Target] = true

		case *ReturnStmt:
			if s.Value != nil {
				a.checkExpr(flow, s.Value, sc)
			}

		case *EscalateStmt:
			a.checkExpr(flow, s.Message, sc)
		}
	}
}

// flowAssignments collects the names a flow unconditionally assigns at its
// top level, for call-site scope propagation.
func (a *analyzer) flowAssignments(f *FlowDecl) map[string]bool {
	out := make(map[string]bool)
	for _, stmt := range f.Body {
		switch s := stmt.(type) {
		case *AssignStmt:
			out[s.Name] = true
		case *PushStmt:
			out[s.Target] = true
		case *RunStmt:
			if s.Target != "" {
				out[s.Target] = true
			} else if ag, ok := a.agents[s.Agent]; ok && ag.Produces != "" {
				out[ag.Produces] = true
			}
		}
	}
	return out
}

func (a *analyzer) checkExpr(flow string, e ExprNode, sc *flowScope) {
	switch x := e.(type) {
	case *VarRef:
		a.checkRead(flow, x.Path[0], x.Pos(), sc)
	case *StringLit:
		for _, ph := range extractPlaceholders(x.Raw) {
			a.checkRead(flow, strings.SplitN(ph, ".", 2)[0], x.Pos(), sc)
		}
	case *CompareExpr:
		a.checkExpr(flow, x.Left, sc)
		a.checkExpr(flow, x.Right, sc)
	}
}

func (a *analyzer) checkRead(flow, name string, pos Position, sc *flowScope) {
	if sc.definite[name] {
		return
	}
	// Lookup walks outward to the file scope: a globally declared name is
	// always readable, assigned locally or not.
	if _, ok := a.decls[name]; ok {
		return
	}
	if sc.maybe[name] {
		if !sc.warned[name] {
			sc.warned[name] = true
			a.warnAt(pos, CodeMaybeUnassigned,
				fmt.Sprintf("variable %q may be unassigned: it is only set inside a conditional branch", name))
		}
		return
	}
	a.errorAt(pos, CodeUndefinedRef,
		fmt.Sprintf("flow %q reads variable %q before it is assigned", flow, name))
}

// electEntry picks the program's entry point: an explicit "main" or
// "default" flow, then such an agent, then the only flow, then the only
// agent. Flows take priority over agents at every stage. More than one
// viable candidate with no explicit election is an error.
func (a *analyzer) electEntry(file *SourceFile) (string, bool) {
	for _, name := range []string{"main", "default"} {
		if _, ok := a.flows[name]; ok {
			return name, true
		}
	}
	for _, name := range []string{"main", "default"} {
		if _, ok := a.agents[name]; ok {
			return name, false
		}
	}
	if len(a.flowOrder) == 1 {
		return a.flowOrder[0].Name, true
	}
	if len(a.flowOrder) > 1 {
		names := make([]string, 0, len(a.flowOrder))
		for _, f := range a.flowOrder {
			names = append(names, f.Name)
		}
		a.errorAt(a.flowOrder[1].Pos(), CodeAmbiguousEntry,
			fmt.Sprintf("ambiguous entry point: flows %s and none named main or default",
				strings.Join(names, ", ")))
		return "", false
	}
	if len(a.agentOrder) == 1 {
		return a.agentOrder[0].Name, false
	}
	if len(a.agentOrder) > 1 {
		names := make([]string, 0, len(a.agentOrder))
		for _, ag := range a.agentOrder {
			names = append(names, ag.Name)
		}
		a.errorAt(a.agentOrder[1].Pos(), CodeAmbiguousEntry,
			fmt.Sprintf("ambiguous entry point: agents %s and none named main or default",
				strings.Join(names, ", ")))
		return "", false
	}
	a.diags = append(a.diags,
		errAt(CodeNoEntry, "source declares no flow or agent to run", 1, 1))
	return "", false
}
