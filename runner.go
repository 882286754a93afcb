package streetrace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
)

// MaxSchemaRetries is the total number of attempts a schema-expecting call
// makes before failing with a SchemaValidationError.
const MaxSchemaRetries = 3

// RunRecorder receives the lifecycle of each run for persistence. All
// methods are best-effort from the runner's point of view: recording
// failures are logged, never fail the run.
type RunRecorder interface {
	BeginRun(runID, entry string, startedAt time.Time) error
	RecordEvent(runID string, seq int, ev Event) error
	FinishRun(runID, status, result string, finishedAt time.Time) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTools supplies the registry resolving declared tool names to handles.
func WithTools(reg *ToolRegistry) RunnerOption {
	return func(r *Runner) { r.tools = reg }
}

// WithEscalator supplies the human-escalation channel.
func WithEscalator(e Escalator) RunnerOption {
	return func(r *Runner) { r.escalator = e }
}

// WithRecorder supplies a run recorder.
func WithRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithDefaultModel supplies the caller-side model fallback, used only when
// neither the prompt, the agent, nor the workflow's "main" model names one.
func WithDefaultModel(model string) RunnerOption {
	return func(r *Runner) { r.defaultModel = model }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// Runner executes a compiled program against a backend. A Runner may drive
// many concurrent runs; each run owns a fresh execution context and they
// never share state.
type Runner struct {
	program      *Program
	backend      Backend
	tools        *ToolRegistry
	escalator    Escalator
	recorder     RunRecorder
	defaultModel string
	logger       *slog.Logger

	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelFunc
}

// NewRunner creates a runner for a program.
func NewRunner(program *Program, backend Backend, opts ...RunnerOption) *Runner {
	r := &Runner{
		program: program,
		backend: backend,
		tools:   NewToolRegistry(),
		logger:  slog.Default(),
		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.escalator == nil {
		r.escalator = &LogEscalator{Logger: r.logger}
	}
	return r
}

// Program returns the compiled program this runner executes.
func (r *Runner) Program() *Program {
	return r.program
}

// Close cancels all active runs. Agent instances held by those runs are
// released as each run unwinds.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, cancel := range r.cancels {
		cancel()
	}
	return nil
}

// Run executes the program's elected entry point with the given initial
// input and returns its event stream.
func (r *Runner) Run(ctx context.Context, input string) (*RunStream, error) {
	return r.RunEntry(ctx, r.program.Entry, input)
}

// RunEntry executes a named flow or agent. The initial input is bound to
// the ambient "input" variable of the fresh execution context.
func (r *Runner) RunEntry(ctx context.Context, entry, input string) (*RunStream, error) {
	if entry == "" {
		return nil, ErrNoEntryPoint
	}
	flow, isFlow := r.program.Flows[entry]
	agent, isAgent := r.program.Agents[entry]
	if !isFlow && !isAgent {
		return nil, fmt.Errorf("entry point %q: %w", entry, ErrFlowNotFound)
	}

	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("runner is closed")
	}
	id := uuid.NewString()
	r.cancels[id] = cancel
	r.mu.Unlock()

	ec := NewExecutionContext(r.program.Schemas)
	ec.Set("input", StringValue{Value: input})

	rn := &run{
		runner:    r,
		id:        id,
		ctx:       runCtx,
		ec:        ec,
		stream:    newRunStream(),
		instances: make(map[string]*agentInstance),
		input:     input,
	}

	if r.recorder != nil {
		if err := r.recorder.BeginRun(id, entry, time.Now()); err != nil {
			r.logger.Warn("run recorder begin failed", "run_id", id, "error", err)
		}
	}

	go func() {
		defer cancel()
		defer r.forget(id)
		// Release lazily created agent instances on every exit path:
		// success, failure, and cancellation alike.
		defer rn.closeInstances()

		rn.emit(Event{Type: EventRunStarted, Message: entry})

		var result Value
		var err error
		if isFlow {
			result, _, err = rn.executeSteps(flow.Name, flow.Steps)
		} else {
			result, err = rn.invokeAgent(agent.Name, input, input != "")
			if err == nil && agent.Produces != "" {
				ec.Set(agent.Produces, result)
			}
		}
		if err == nil && result == nil {
			result = ec.LastResult()
		}

		status := "completed"
		if err != nil {
			status = "failed"
			rn.emit(Event{Type: EventError, Err: err.Error()})
		}
		rn.emit(Event{Type: EventRunFinished, Message: status})

		if r.recorder != nil {
			resultText := ""
			if result != nil {
				resultText = Format(result)
			}
			if rerr := r.recorder.FinishRun(id, status, resultText, time.Now()); rerr != nil {
				r.logger.Warn("run recorder finish failed", "run_id", id, "error", rerr)
			}
		}

		rn.stream.finish(result, err)
	}()

	return rn.stream, nil
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.cancels, id)
	r.mu.Unlock()
}

// run is the state of one workflow execution.
type run struct {
	runner    *Runner
	id        string
	ctx       context.Context
	ec        *ExecutionContext
	stream    *RunStream
	instances map[string]*agentInstance
	input     string
	seq       int
}

// agentInstance is the lazily created per-run handle for one agent: its
// resolved model and tool set plus the conversation accumulated across
// invocations within the run.
type agentInstance struct {
	spec     *AgentSpec
	prompt   *PromptSpec
	model    string
	tools    []ToolHandle
	messages []Message
}

// Close releases the instance's conversation; any in-flight transport work
// is torn down by the run context's cancellation.
func (inst *agentInstance) Close() {
	inst.messages = nil
}

func (rn *run) closeInstances() {
	for _, inst := range rn.instances {
		inst.Close()
	}
}

func (rn *run) emit(ev Event) {
	ev.RunID = rn.id
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if rn.runner.recorder != nil {
		rn.seq++
		if err := rn.runner.recorder.RecordEvent(rn.id, rn.seq, ev); err != nil {
			rn.runner.logger.Warn("run recorder event failed", "run_id", rn.id, "error", err)
		}
	}
	select {
	case rn.stream.events <- ev:
	case <-rn.ctx.Done():
	}
}

// executeSteps runs a flow body strictly in source order. It returns the
// flow's return value and whether a return statement ended it.
func (rn *run) executeSteps(flowName string, steps []Step) (Value, bool, error) {
	for _, step := range steps {
		select {
		case <-rn.ctx.Done():
			return nil, false, rn.ctx.Err()
		default:
		}

		switch s := step.(type) {
		case *AssignStep:
			v, err := rn.eval(s.Value)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			rn.ec.Set(s.Name, v)

		case *PropertyAssignStep:
			v, err := rn.eval(s.Value)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			if err := rn.ec.SetPath(s.Path, v); err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}

		case *RunStep:
			input := ""
			hasInput := false
			if s.With != nil {
				v, err := rn.eval(s.With)
				if err != nil {
					return nil, false, stepErr(flowName, s.Line, err)
				}
				input = Format(v)
				hasInput = true
			}
			result, err := rn.invokeAgent(s.Agent, input, hasInput)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			if s.Target != "" {
				rn.ec.Set(s.Target, result)
			} else if spec, ok := rn.runner.program.Agents[s.Agent]; ok && spec.Produces != "" {
				rn.ec.Set(spec.Produces, result)
			}

		case *CallStep:
			callee, ok := rn.runner.program.Flows[s.Flow]
			if !ok {
				return nil, false, stepErr(flowName, s.Line, fmt.Errorf("call %q: %w", s.Flow, ErrFlowNotFound))
			}
			// A return inside the callee ends only the callee.
			v, returned, err := rn.executeSteps(callee.Name, callee.Steps)
			if err != nil {
				return nil, false, err
			}
			if returned && v != nil {
				rn.ec.SetLastResult(v)
			}

		case *ForStep:
			over, err := rn.eval(s.Over)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			list, ok := over.(ListValue)
			if !ok {
				return nil, false, stepErr(flowName, s.Line,
					fmt.Errorf("for requires a list, got %s", kindOf(over)))
			}
			for _, item := range list.Elements {
				rn.ec.Set(s.Var, item)
				v, returned, err := rn.executeSteps(flowName, s.Body)
				if err != nil {
					return nil, false, err
				}
				if returned {
					return v, true, nil
				}
			}

		case *IfStep:
			cond, err := rn.evalBool(s.Cond)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			branch := s.Then
			if !cond {
				branch = s.Else
			}
			v, returned, err := rn.executeSteps(flowName, branch)
			if err != nil {
				return nil, false, err
			}
			if returned {
				return v, true, nil
			}

		case *MatchStep:
			subject, err := rn.eval(s.Subject)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			branch := s.Default
			for _, c := range s.Cases {
				cv, err := rn.eval(c.Value)
				if err != nil {
					return nil, false, stepErr(flowName, s.Line, err)
				}
				if Equal(subject, cv) {
					branch = c.Body
					break
				}
			}
			v, returned, err := rn.executeSteps(flowName, branch)
			if err != nil {
				return nil, false, err
			}
			if returned {
				return v, true, nil
			}

		case *PushStep:
			v, err := rn.eval(s.Value)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			if err := rn.ec.Push(s.Target, v); err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}

		case *ReturnStep:
			if s.Value == nil {
				return rn.ec.LastResult(), true, nil
			}
			v, err := rn.eval(s.Value)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			return v, true, nil

		case *EscalateStep:
			v, err := rn.eval(s.Message)
			if err != nil {
				return nil, false, stepErr(flowName, s.Line, err)
			}
			rn.escalate(Format(v))

		default:
			return nil, false, &CodeGenError{Reason: fmt.Sprintf("unknown step kind %T", step)}
		}
	}
	return nil, false, nil
}

func (rn *run) escalate(message string) {
	if err := rn.runner.escalator.Escalate(rn.ctx, message); err != nil {
		rn.runner.logger.Warn("escalation dispatch failed", "run_id", rn.id, "error", err)
	}
	rn.emit(Event{Type: EventEscalated, Message: message})
}

func (rn *run) eval(e Expr) (Value, error) {
	switch x := e.(type) {
	case *LitExpr:
		return x.Value, nil
	case *VarExpr:
		if len(x.Path) == 1 {
			return rn.ec.Get(x.Path[0]), nil
		}
		return rn.ec.GetPath(x.Path), nil
	case *TemplateExpr:
		return StringValue{Value: x.Render(rn.ec)}, nil
	case *CompareExpr:
		left, err := rn.eval(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := rn.eval(x.Right)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case "==":
			return BoolValue{Value: Equal(left, right)}, nil
		case "!=":
			return BoolValue{Value: !Equal(left, right)}, nil
		default:
			ord, ok := Compare(left, right)
			if !ok {
				return nil, fmt.Errorf("cannot compare %s and %s with %s",
					kindOf(left), kindOf(right), x.Op)
			}
			switch x.Op {
			case "<":
				return BoolValue{Value: ord < 0}, nil
			case ">":
				return BoolValue{Value: ord > 0}, nil
			case "<=":
				return BoolValue{Value: ord <= 0}, nil
			case ">=":
				return BoolValue{Value: ord >= 0}, nil
			default:
				return nil, &CodeGenError{Reason: "unknown comparison operator " + x.Op}
			}
		}
	default:
		return nil, &CodeGenError{Reason: fmt.Sprintf("unknown expression kind %T", e)}
	}
}

func (rn *run) evalBool(e Expr) (bool, error) {
	v, err := rn.eval(e)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// instance returns the agent's per-run instance, creating it on first use.
// Tool and model resolution happen here, once, on the single path shared by
// flow-driven and entry-point invocation.
func (rn *run) instance(name string) (*agentInstance, error) {
	if inst, ok := rn.instances[name]; ok {
		return inst, nil
	}
	spec, ok := rn.runner.program.Agents[name]
	if !ok {
		return nil, &ToolResolutionError{Kind: "agent", Name: name}
	}
	prompt, ok := rn.runner.program.Prompts[spec.Instruction]
	if !ok {
		return nil, &CodeGenError{Reason: fmt.Sprintf("agent %q instruction prompt %q missing from program", name, spec.Instruction)}
	}
	tools, err := rn.runner.tools.ResolveAll(spec.Tools)
	if err != nil {
		return nil, err
	}
	model := spec.ResolveModel(rn.runner.program, prompt, rn.runner.defaultModel)
	if model == "" {
		return nil, &ToolResolutionError{Kind: "model", Name: ""}
	}
	inst := &agentInstance{
		spec:   spec,
		prompt: prompt,
		model:  model,
		tools:  tools,
	}
	rn.instances[name] = inst
	return inst, nil
}

// invokeAgent sends a resolved prompt to the backend on behalf of an agent.
// With an expected schema the call becomes a validated exchange with
// bounded retries; without one the raw text is the result.
func (rn *run) invokeAgent(name, input string, hasInput bool) (Value, error) {
	inst, err := rn.instance(name)
	if err != nil {
		return nil, err
	}

	rendered := inst.prompt.Render(rn.ec)

	// Absent a "with" input the agent's own declared prompt is the
	// message; with one, the prompt serves as the instruction text.
	instruction := ""
	userText := rendered
	if hasInput {
		instruction = rendered
		userText = input
	}

	rn.emit(Event{Type: EventAgentStarted, Agent: name, Message: inst.model})

	if inst.prompt.Schema == "" {
		text, err := rn.send(inst, instruction, append(inst.messages, Message{Role: RoleUser, Content: userText}))
		if err != nil {
			return nil, err
		}
		inst.messages = append(inst.messages,
			Message{Role: RoleUser, Content: userText},
			Message{Role: RoleAssistant, Content: text})
		result := StringValue{Value: text}
		rn.ec.SetLastResult(result)
		return result, nil
	}

	result, err := rn.schemaCall(inst, instruction, userText)
	if err != nil {
		return nil, err
	}
	rn.ec.SetLastResult(result)
	return result, nil
}

// schemaCall drives the validated-call state machine:
//
//	PENDING → SENT → {PARSED_OK | PARSE_FAILED | VALIDATION_FAILED}
//	        → (retry → SENT) | DONE | FAILED
//
// Each failed attempt appends a corrective note to the conversation before
// the next send. Exhaustion fails with a SchemaValidationError.
func (rn *run) schemaCall(inst *agentInstance, instruction, userText string) (Value, error) {
	desc, ok := rn.runner.program.Schemas[inst.prompt.Schema]
	if !ok {
		return nil, &CodeGenError{Reason: fmt.Sprintf("schema %q missing from program", inst.prompt.Schema)}
	}

	shape := desc.Describe()
	if inst.prompt.SchemaIsList {
		shape = desc.DescribeList()
	}
	enrichment := "\n\nRespond with a JSON payload matching:\n" + shape
	if instruction != "" {
		instruction += enrichment
	} else {
		userText += enrichment
	}

	msgs := append(append([]Message(nil), inst.messages...), Message{Role: RoleUser, Content: userText})

	var (
		result   Value
		attempt  int
		lastErr  error
		lastText string
	)

	backoff := retry.WithMaxRetries(MaxSchemaRetries-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(rn.ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			rn.emit(Event{Type: EventRetry, Agent: inst.spec.Name, Attempt: attempt, Err: lastErr.Error()})
			rn.runner.logger.Debug("schema retry",
				"run_id", rn.id, "agent", inst.spec.Name, "attempt", attempt)
		}

		text, err := rn.send(inst, instruction, msgs)
		if err != nil {
			// Transport failures are not schema failures; no retry here.
			return err
		}
		lastText = text
		msgs = append(msgs, Message{Role: RoleAssistant, Content: text})

		v, perr := parseStructured(text)
		if perr != nil {
			lastErr = perr
			msgs = append(msgs, Message{Role: RoleUser,
				Content: correctiveNote(perr.Error(), shape)})
			return retry.RetryableError(perr)
		}

		var verrs []string
		if inst.prompt.SchemaIsList {
			verrs = desc.ValidateList(v)
		} else {
			verrs = desc.Validate(v)
		}
		if len(verrs) > 0 {
			lastErr = &SchemaValidationError{Schema: desc.Name, Errors: verrs, Response: text}
			msgs = append(msgs, Message{Role: RoleUser,
				Content: correctiveNote(strings.Join(verrs, "; "), shape)})
			return retry.RetryableError(lastErr)
		}

		result = v
		return nil
	})

	inst.messages = msgs

	if err != nil {
		var sverr *SchemaValidationError
		if !errors.As(err, &sverr) {
			var perr *JSONParseError
			if !errors.As(err, &perr) {
				// Transport failure or cancellation, not a schema
				// outcome; propagate unchanged, no escalation.
				return nil, err
			}
			sverr = &SchemaValidationError{
				Schema:   desc.Name,
				Errors:   []string{perr.Error()},
				Response: lastText,
			}
		}
		if inst.prompt.Escalate {
			rn.escalate(fmt.Sprintf("agent %s: %s", inst.spec.Name, sverr.Error()))
		}
		return nil, sverr
	}
	return result, nil
}

// send performs one backend invocation, forwarding intermediate events as
// they are produced and returning the final response text.
func (rn *run) send(inst *agentInstance, instruction string, msgs []Message) (string, error) {
	call := Call{
		Model:       inst.model,
		Tools:       inst.tools,
		Instruction: instruction,
		Messages:    msgs,
	}
	events, err := rn.runner.backend.Invoke(rn.ctx, call)
	if err != nil {
		return "", err
	}

	final := ""
	sawFinal := false
	for {
		select {
		case <-rn.ctx.Done():
			return "", rn.ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if !sawFinal {
					return "", fmt.Errorf("backend stream ended without a final event")
				}
				return final, nil
			}
			switch ev.Type {
			case EventIntermediate:
				ev.Agent = inst.spec.Name
				rn.emit(ev)
			case EventFinal:
				final = ev.Content
				sawFinal = true
				ev.Agent = inst.spec.Name
				rn.emit(ev)
			case EventError:
				return "", fmt.Errorf("backend: %s", ev.Err)
			}
		}
	}
}

var fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9]*[ \t]*\n?(.*?)```")

// parseStructured parses an LLM response as structured data. The common
// case of an answer wrapped in a single fenced code block is handled; zero
// fenced blocks means the whole response is the payload, and more than one
// is ambiguous and rejected.
func parseStructured(text string) (Value, error) {
	blocks := fencedBlockPattern.FindAllStringSubmatch(text, -1)
	payload := text
	switch len(blocks) {
	case 0:
	case 1:
		payload = blocks[0][1]
	default:
		return nil, &JSONParseError{
			Reason:   fmt.Sprintf("response contains %d fenced code blocks, expected at most one", len(blocks)),
			Response: text,
		}
	}
	payload = strings.TrimSpace(payload)
	if payload == "" || !gjson.Valid(payload) {
		return nil, &JSONParseError{Reason: "response is not valid JSON", Response: text}
	}
	return FromJSON(gjson.Parse(payload)), nil
}

func correctiveNote(problem, shape string) string {
	return "The previous response could not be used: " + problem +
		".\nRespond again with only a JSON payload matching:\n" + shape
}

func stepErr(flow string, line int, err error) error {
	return fmt.Errorf("flow %s, line %d: %w", flow, line, err)
}
