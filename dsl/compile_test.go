package dsl

import (
	"context"
	"errors"
	"reflect"
	"testing"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
	"github.com/streetrace-ai/streetrace-sub005/llm"
)

const reviewWorkflow = `model main: anthropic/claude-sonnet-4

schema Verdict:
    approved: bool
    notes: optional list of string

prompt judge expecting Verdict:
    "Judge this work: $input"

agent judge-agent:
    instruction judge
    produces verdict

flow main:
    run agent judge-agent with $input
    if $verdict.approved == true:
        return "approved"
    return "rejected"
`

func TestCompileValidWorkflow(t *testing.T) {
	program, diags, err := Compile(reviewWorkflow, "review.race")
	if err != nil {
		t.Fatalf("Compile: %v (%v)", err, diags)
	}
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
	if program.Entry != "main" || !program.EntryIsFlow {
		t.Errorf("entry = %q (flow=%v)", program.Entry, program.EntryIsFlow)
	}
	if program.Models["main"] != "anthropic/claude-sonnet-4" {
		t.Errorf("main model = %q", program.Models["main"])
	}
	agent := program.Agents["judge-agent"]
	if agent == nil || agent.Instruction != "judge" || agent.Produces != "verdict" {
		t.Fatalf("agent = %+v", agent)
	}
	prompt := program.Prompts["judge"]
	if prompt == nil || prompt.Schema != "Verdict" || prompt.SchemaIsList {
		t.Fatalf("prompt = %+v", prompt)
	}
	if len(program.Flows["main"].Steps) != 3 {
		t.Errorf("flow steps = %d, want 3", len(program.Flows["main"].Steps))
	}
}

func TestCompileFailsOnErrors(t *testing.T) {
	program, diags, err := Compile("flow main:\n    return $ghost\n", "bad.race")
	if !errors.Is(err, ErrCompileFailed) {
		t.Fatalf("err = %v, want ErrCompileFailed", err)
	}
	if program != nil {
		t.Error("failed compile still returned a program")
	}
	if _, ok := diagWithCode(diags, CodeUndefinedRef); !ok {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestCompileFrontHalfErrorsSkipAnalysis(t *testing.T) {
	// A broken parse must not produce follow-on semantic noise.
	_, diags, err := Compile("flow main\n    return $ghost\n", "bad.race")
	if !errors.Is(err, ErrCompileFailed) {
		t.Fatalf("err = %v, want ErrCompileFailed", err)
	}
	if _, ok := diagWithCode(diags, CodeUndefinedRef); ok {
		t.Errorf("analysis ran on a broken parse: %v", diags)
	}
}

func TestCompileWarningsDoNotFail(t *testing.T) {
	src := `flow main:
    if $input == "full":
        detail = "everything"
    return $detail
`
	program, diags, err := Compile(src, "warn.race")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if program == nil {
		t.Fatal("no program despite warnings only")
	}
	if _, ok := diagWithCode(diags, CodeMaybeUnassigned); !ok {
		t.Errorf("warning lost: %v", diags)
	}
}

func TestCheckReportsWithoutGenerating(t *testing.T) {
	diags := Check(reviewWorkflow, "review.race")
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
	diags = Check("flow main:\n    return $ghost\n", "bad.race")
	if !HasErrors(diags) {
		t.Error("Check missed the undefined reference")
	}
}

func TestPromptTemplateRendering(t *testing.T) {
	program, _, err := Compile(reviewWorkflow, "review.race")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	render := program.Prompts["judge"].Render

	ec := streetrace.NewExecutionContext(nil)
	// Unresolved placeholders render as-is rather than failing the run.
	if got := render(ec); got != "Judge this work: $input" {
		t.Errorf("render = %q", got)
	}
	ec.Set("input", streetrace.StringValue{Value: "the patch"})
	if got := render(ec); got != "Judge this work: the patch" {
		t.Errorf("render = %q", got)
	}
}

func TestExtractPlaceholders(t *testing.T) {
	got := extractPlaceholders("check $review.meta and $score-card, skip plain text")
	want := []string{"review.meta", "score-card"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("placeholders = %v, want %v", got, want)
	}
	if got := extractPlaceholders("no interpolation"); len(got) != 0 {
		t.Errorf("placeholders = %v, want none", got)
	}
}

func runProgram(t *testing.T, src, input string, backend streetrace.Backend) (streetrace.Value, error) {
	t.Helper()
	program, diags, err := Compile(src, "test.race")
	if err != nil {
		t.Fatalf("Compile: %v (%v)", err, diags)
	}
	runner := streetrace.NewRunner(program, backend)
	defer runner.Close()
	stream, err := runner.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for range stream.Events() {
	}
	return stream.Result()
}

func TestCompiledWorkflowEndToEnd(t *testing.T) {
	backend := llm.NewScripted(
		"Here is my verdict:\n```json\n{\"approved\": true}\n```",
	)
	result, err := runProgram(t, reviewWorkflow, "the patch", backend)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !streetrace.Equal(result, streetrace.StringValue{Value: "approved"}) {
		t.Errorf("result = %v, want approved", result)
	}
	call := backend.Calls()[0]
	if call.Model != "anthropic/claude-sonnet-4" {
		t.Errorf("model = %q", call.Model)
	}
	if call.Instruction == "" {
		t.Error("with-input invocation should carry the prompt as instruction")
	}
}

func TestCompileInlineAgentEndToEnd(t *testing.T) {
	src := "schema Y: answer: bool\n" +
		"prompt p expecting Y: \"Answer with JSON: $input\"\n" +
		"agent a: instruction p\n"
	program, diags, err := Compile(src, "inline.race")
	if err != nil {
		t.Fatalf("Compile: %v (%v)", err, diags)
	}
	if program.Entry != "a" || program.EntryIsFlow {
		t.Fatalf("entry = %q (flow=%v)", program.Entry, program.EntryIsFlow)
	}

	backend := llm.NewScripted("```json\n{\"answer\": true}\n```")
	runner := streetrace.NewRunner(program, backend,
		streetrace.WithDefaultModel("anthropic/test-model"))
	defer runner.Close()

	stream, err := runner.Run(context.Background(), "is the sky blue?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for range stream.Events() {
	}
	result, err := stream.Result()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := streetrace.MapValue{Fields: map[string]streetrace.Value{
		"answer": streetrace.BoolValue{Value: true},
	}}
	if !streetrace.Equal(result, want) {
		t.Errorf("result = %v, want %v", result, want)
	}
}

func TestCompiledWorkflowRetryBound(t *testing.T) {
	backend := llm.NewScripted("not json", "still not json", "nope")
	_, err := runProgram(t, reviewWorkflow, "the patch", backend)

	var sverr *streetrace.SchemaValidationError
	if !errors.As(err, &sverr) {
		t.Fatalf("err = %v, want SchemaValidationError", err)
	}
	if got := backend.CallCount(); got != streetrace.MaxSchemaRetries {
		t.Errorf("backend calls = %d, want %d", got, streetrace.MaxSchemaRetries)
	}
}

func TestAssignmentFormsEquivalent(t *testing.T) {
	dollar := "flow main:\n    $total = 5\n    return total\n"
	bare := "flow main:\n    total = 5\n    return $total\n"

	a, err := runProgram(t, dollar, "", llm.NewScripted())
	if err != nil {
		t.Fatalf("dollar form: %v", err)
	}
	b, err := runProgram(t, bare, "", llm.NewScripted())
	if err != nil {
		t.Fatalf("bare form: %v", err)
	}
	if !streetrace.Equal(a, b) || !streetrace.Equal(a, streetrace.NumberValue{Value: 5}) {
		t.Errorf("results differ: %v vs %v", a, b)
	}
}

func TestPropertyAssignmentOnAgentResult(t *testing.T) {
	src := `model main: anthropic/claude-sonnet-4
schema Review:
    topic: string
prompt p expecting Review:
    "Review: $input"
agent reviewer:
    instruction p
    produces review
flow main:
    run agent reviewer
    review.topic = "updated"
    return $review.topic
`
	backend := llm.NewScripted(`{"topic": "original"}`)
	result, err := runProgram(t, src, "", backend)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !streetrace.Equal(result, streetrace.StringValue{Value: "updated"}) {
		t.Errorf("result = %v, want updated", result)
	}
}

func TestCompiledLoopAndMatch(t *testing.T) {
	src := `flow main:
    push "alpha" to seen
    push "beta" to seen
    for item in $seen:
        match $item:
            case "beta":
                return $item
            else:
                note = $item
    return "none"
`
	result, err := runProgram(t, src, "", llm.NewScripted())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !streetrace.Equal(result, streetrace.StringValue{Value: "beta"}) {
		t.Errorf("result = %v, want beta", result)
	}
}

func TestCompileFileMissing(t *testing.T) {
	if _, _, err := CompileFile("does-not-exist.race"); err == nil {
		t.Error("missing file did not error")
	}
}
