// Package main provides the streetrace CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
	"github.com/streetrace-ai/streetrace-sub005/config"
	"github.com/streetrace-ai/streetrace-sub005/dsl"
	"github.com/streetrace-ai/streetrace-sub005/llm"
	"github.com/streetrace-ai/streetrace-sub005/store"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runCmd(args)
	case "check":
		checkCmd(args)
	case "list":
		listCmd(args)
	case "version":
		fmt.Printf("streetrace %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`StreetRace - agent workflow compiler and runtime

Usage:
  streetrace <command> [options]

Commands:
  run       Compile and run a .race workflow
  check     Compile a .race workflow and report diagnostics
  list      List a workflow's agents, flows, prompts, and schemas
  version   Print version information
  help      Show this help message

Examples:
  streetrace run review.race --input "release notes"
  streetrace check review.race
  streetrace list review.race

Run 'streetrace <command> --help' for more information on a command.`)
}

// runCmd compiles and executes a workflow, streaming progress to stdout.
func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	input := fs.String("input", "", "Initial input bound to the input variable")
	entry := fs.String("entry", "", "Entry point override (flow or agent name)")
	manifestPath := fs.String("manifest", "", "Manifest path or URL (default streetrace.yaml if present)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum execution time")
	quiet := fs.Bool("quiet", false, "Print only the final result")

	fs.Usage = func() {
		fmt.Println(`Usage: streetrace run <file.race> [options]

Compile and run a workflow.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no .race file specified")
		fs.Usage()
		os.Exit(1)
	}

	manifest := loadManifest(*manifestPath)

	program := compileOrExit(fs.Arg(0))

	opts := []streetrace.RunnerOption{}
	if manifest.DefaultModel != "" {
		opts = append(opts, streetrace.WithDefaultModel(manifest.DefaultModel))
	}
	if manifest.EscalationWebhook != "" {
		opts = append(opts, streetrace.WithEscalator(
			&streetrace.WebhookEscalator{URL: manifest.EscalationWebhook}))
	}
	if manifest.Store != "" {
		rec, err := store.Open(manifest.Store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening run store: %v\n", err)
			os.Exit(1)
		}
		defer rec.Close()
		opts = append(opts, streetrace.WithRecorder(rec))
	}

	var backendOpts []llm.AnthropicOption
	if manifest.MaxOutputTokens > 0 {
		backendOpts = append(backendOpts, llm.WithMaxTokens(manifest.MaxOutputTokens))
	}
	backend := llm.NewAnthropic(backendOpts...)

	runner := streetrace.NewRunner(program, backend, opts...)
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	entryPoint := program.Entry
	if *entry != "" {
		entryPoint = *entry
	} else if manifest.Entry != "" {
		entryPoint = manifest.Entry
	}

	stream, err := runner.RunEntry(ctx, entryPoint, *input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for ev := range stream.Events() {
		if *quiet {
			continue
		}
		switch ev.Type {
		case streetrace.EventIntermediate:
			fmt.Print(ev.Delta)
		case streetrace.EventFinal:
			fmt.Println()
		case streetrace.EventAgentStarted:
			fmt.Printf("[agent %s (%s)]\n", ev.Agent, ev.Message)
		case streetrace.EventRetry:
			fmt.Printf("[retry %d for %s: %s]\n", ev.Attempt, ev.Agent, ev.Err)
		case streetrace.EventEscalated:
			fmt.Printf("[escalated: %s]\n", ev.Message)
		case streetrace.EventError:
			fmt.Fprintf(os.Stderr, "[error: %s]\n", ev.Err)
		}
	}

	result, err := stream.Result()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(streetrace.Format(result))
}

// checkCmd compiles a workflow and prints every diagnostic.
func checkCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: streetrace check <file.race>")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no .race file specified")
		os.Exit(1)
	}

	path := fs.Arg(0)
	source, err := config.LoadSource(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	diags := dsl.Check(source, path)
	for _, d := range diags {
		fmt.Printf("%s: %s\n", path, d)
	}
	if dsl.HasErrors(diags) {
		os.Exit(1)
	}
	fmt.Printf("%s: ok\n", path)
}

// listCmd prints a compiled workflow's declarations.
func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: streetrace list <file.race>")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no .race file specified")
		os.Exit(1)
	}

	program := compileOrExit(fs.Arg(0))

	kind := "agent"
	if program.EntryIsFlow {
		kind = "flow"
	}
	fmt.Printf("entry: %s (%s)\n", program.Entry, kind)
	printSection("flows", program.FlowNames())
	printSection("agents", program.AgentNames())
	printSection("prompts", program.PromptNames())
	printSection("schemas", program.SchemaNames())
}

func printSection(title string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for _, n := range names {
		fmt.Printf("  - %s\n", n)
	}
}

func compileOrExit(path string) *streetrace.Program {
	source, err := config.LoadSource(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	program, diags, err := dsl.Compile(source, path)
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "%s: %s\n", path, d)
	}
	if err != nil {
		os.Exit(1)
	}
	return program
}

func loadManifest(path string) *config.Manifest {
	if path == "" {
		if _, err := os.Stat(config.DefaultManifestName); err != nil {
			return &config.Manifest{}
		}
		path = config.DefaultManifestName
	}
	m, err := config.LoadManifest(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return m
}
