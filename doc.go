// Package streetrace provides the runtime engine for StreetRace workflows.
//
// StreetRace is a small language for describing multi-step AI-agent
// workflows: agents, prompts, typed response schemas, and the flows that
// orchestrate them. The dsl package compiles .race source into a Program;
// this package executes it:
//
//   - Program is the generated, read-only representation of a compiled
//     workflow (prompts, agents, schemas, flows indexed by name)
//   - ExecutionContext holds the per-run mutable variable store
//   - Runner drives flow statements and agent invocations against a
//     pluggable Backend, streaming progress events as they happen
//
// # Quick Start
//
// Compile and run a workflow:
//
//	program, diags, err := dsl.Compile(source, "review.race")
//	if err != nil {
//	    log.Fatal(diags)
//	}
//
//	runner := streetrace.NewRunner(program, llm.NewAnthropic(),
//	    streetrace.WithDefaultModel("anthropic/claude-sonnet-4-20250514"))
//	defer runner.Close()
//
//	stream, err := runner.Run(ctx, "review the release notes")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for ev := range stream.Events() {
//	    fmt.Println(ev.Type, ev.Delta)
//	}
//	result, err := stream.Result()
//
// # Schema-validated calls
//
// A prompt declared with "expecting Schema" turns the agent call into a
// validated exchange: the expected shape is described to the model, the
// response is parsed as JSON (honoring a single fenced code block), and
// structurally validated. Parse or validation failures append a corrective
// note to the conversation and retry, up to MaxSchemaRetries attempts, after
// which the call fails with a SchemaValidationError that is intended to
// drive the workflow's escalation behavior.
package streetrace
