package dsl

import (
	"reflect"
	"strings"
	"testing"
)

func buildFile(t *testing.T, src string) (*SourceFile, []Diagnostic) {
	t.Helper()
	toks, diags := Lex(src)
	if HasErrors(diags) {
		t.Fatalf("lex diagnostics: %v", diags)
	}
	tree, pdiags := Parse(toks)
	if HasErrors(pdiags) {
		t.Fatalf("parse diagnostics: %v", pdiags)
	}
	return BuildAST(tree, "test.race")
}

func flowBody(t *testing.T, file *SourceFile, name string) []Stmt {
	t.Helper()
	for _, d := range file.Decls {
		if f, ok := d.(*FlowDecl); ok && f.Name == name {
			return f.Body
		}
	}
	t.Fatalf("flow %q not in %v", name, file.Decls)
	return nil
}

func TestBuildVarRefFormsCollapse(t *testing.T) {
	// $name and bare name are the same reference after normalization.
	dollar, d1 := buildFile(t, "flow main:\n    x = 1\n    return $x\n")
	bare, d2 := buildFile(t, "flow main:\n    x = 1\n    return x\n")
	if len(d1) != 0 || len(d2) != 0 {
		t.Fatalf("diagnostics: %v / %v", d1, d2)
	}
	a := flowBody(t, dollar, "main")[1].(*ReturnStmt).Value.(*VarRef)
	b := flowBody(t, bare, "main")[1].(*ReturnStmt).Value.(*VarRef)
	if !reflect.DeepEqual(a.Path, b.Path) {
		t.Errorf("paths differ: %v vs %v", a.Path, b.Path)
	}
	if len(a.Path) != 1 || a.Path[0] != "x" {
		t.Errorf("path = %v, want [x]", a.Path)
	}
}

func TestBuildDottedReadForms(t *testing.T) {
	file, diags := buildFile(t, "flow main:\n    return $review.meta.topic\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	ref := flowBody(t, file, "main")[0].(*ReturnStmt).Value.(*VarRef)
	want := []string{"review", "meta", "topic"}
	if !reflect.DeepEqual(ref.Path, want) {
		t.Errorf("path = %v, want %v", ref.Path, want)
	}
}

func TestBuildDottedAssignBecomesPropertyAssign(t *testing.T) {
	file, diags := buildFile(t, "flow main:\n    review.topic = \"perf\"\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	stmt, ok := flowBody(t, file, "main")[0].(*PropertyAssignStmt)
	if !ok {
		t.Fatalf("stmt = %T, want PropertyAssignStmt", flowBody(t, file, "main")[0])
	}
	if !reflect.DeepEqual(stmt.Path, []string{"review", "topic"}) {
		t.Errorf("path = %v", stmt.Path)
	}
}

func TestBuildDollarDottedAssign(t *testing.T) {
	file, diags := buildFile(t, "flow main:\n    $review.topic = \"perf\"\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	if _, ok := flowBody(t, file, "main")[0].(*PropertyAssignStmt); !ok {
		t.Errorf("$-form dotted assignment did not normalize to a property assignment")
	}
}

func TestBuildRunResultCannotBindToPath(t *testing.T) {
	_, diags := buildFile(t, "flow main:\n    review.verdict = run agent judge\n")
	found := false
	for _, d := range diags {
		if d.Code == CodeSyntax && strings.Contains(d.Message, "plain variable") {
			found = true
		}
	}
	if !found {
		t.Errorf("no diagnostic for run bound to a property path: %v", diags)
	}
}

func TestBuildSchemaFields(t *testing.T) {
	src := `schema Review:
    findings: list of string
    approved: bool
    score: optional int
`
	file, diags := buildFile(t, src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	decl := file.Decls[0].(*SchemaDecl)
	if len(decl.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(decl.Fields))
	}
	f := decl.Fields[0]
	if f.Name != "findings" || f.Type != "string" || !f.List || f.Optional {
		t.Errorf("findings = %+v", f)
	}
	s := decl.Fields[2]
	if s.Name != "score" || s.Type != "int" || !s.Optional || s.List {
		t.Errorf("score = %+v", s)
	}
}

func TestBuildUnknownFieldType(t *testing.T) {
	_, diags := buildFile(t, "schema Bad:\n    value: decimal\n")
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "unknown field type") {
			found = true
			if !strings.Contains(d.Hint, "string, int, float, or bool") {
				t.Errorf("hint = %q", d.Hint)
			}
		}
	}
	if !found {
		t.Errorf("no diagnostic for unknown field type: %v", diags)
	}
}

func TestBuildAgentProperties(t *testing.T) {
	src := `agent critic:
    instruction review-prompt
    model anthropic/claude-opus-4
    tools web_search, read_file
    agents fact-checker
    produces review
`
	file, diags := buildFile(t, src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	decl := file.Decls[0].(*AgentDecl)
	if decl.Instruction != "review-prompt" || decl.Model != "anthropic/claude-opus-4" ||
		decl.Produces != "review" {
		t.Errorf("agent = %+v", decl)
	}
	if !reflect.DeepEqual(decl.Tools, []string{"web_search", "read_file"}) {
		t.Errorf("tools = %v", decl.Tools)
	}
	if !reflect.DeepEqual(decl.SubAgents, []string{"fact-checker"}) {
		t.Errorf("agents = %v", decl.SubAgents)
	}
}

func TestBuildPromptForms(t *testing.T) {
	src := `prompt quick: "Summarize $input"
prompt judge expecting Verdict[]:
    """
    Judge the work.
    """
    model main
    escalate
`
	file, diags := buildFile(t, src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	quick := file.Decls[0].(*PromptDecl)
	if quick.Template != "Summarize $input" || quick.Schema != "" {
		t.Errorf("quick = %+v", quick)
	}
	judge := file.Decls[1].(*PromptDecl)
	if judge.Schema != "Verdict" || !judge.SchemaIsList {
		t.Errorf("judge schema = %q, list = %v", judge.Schema, judge.SchemaIsList)
	}
	if judge.Template != "Judge the work." || judge.Model != "main" || !judge.Escalate {
		t.Errorf("judge = %+v", judge)
	}
}

func TestBuildPositionsSurvive(t *testing.T) {
	file, diags := buildFile(t, "flow main:\n    x = 1\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	stmt := flowBody(t, file, "main")[0].(*AssignStmt)
	if stmt.Pos().Line != 2 || stmt.Pos().Col != 5 {
		t.Errorf("position = %v, want 2:5", stmt.Pos())
	}
}
