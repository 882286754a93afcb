package streetrace

import "sort"

// Program is the generated representation of a compiled workflow: a
// name-indexed table of prompts, agents, schemas, and flows with every
// cross-reference resolved. It is built once by code generation and treated
// as read-only by the runtime; the same Program may back many concurrent
// runs.
type Program struct {
	// Name is the source name the program was compiled from.
	Name string

	// Entry is the elected entry point and EntryIsFlow its kind. Flows
	// take priority over agents when both could serve.
	Entry       string
	EntryIsFlow bool

	Prompts map[string]*PromptSpec
	Agents  map[string]*AgentSpec
	Schemas map[string]*SchemaDescriptor
	Flows   map[string]*FlowSpec

	// Models maps declared model names to qualified provider/model
	// identifiers. The "main" entry, when present, is the workflow's
	// default model.
	Models map[string]string

	// Tools maps declared tool names to their descriptions. Execution
	// handles are supplied externally at run time.
	Tools map[string]string
}

// DefaultModelName is the model declaration that serves as the workflow's
// default when an agent or prompt names none.
const DefaultModelName = "main"

// PromptSpec is a lowered prompt: a template callable against the execution
// context, optionally bound to an expected response schema.
type PromptSpec struct {
	Name     string
	Template string

	// Render substitutes every embedded variable reference in the
	// template with its current runtime value.
	Render func(*ExecutionContext) string

	// Schema names the expected response schema, "" when the prompt
	// expects free text. SchemaIsList marks the Schema[] array form.
	Schema       string
	SchemaIsList bool

	// Model is a prompt-level override, already resolved to a qualified
	// provider/model identifier. Empty when the prompt defers to the
	// agent or workflow default.
	Model string

	// Escalate marks the prompt's escalation policy: on retry
	// exhaustion the failure is dispatched to the escalation channel in
	// addition to failing the call.
	Escalate bool
}

// AgentSpec is a lowered agent: an instruction prompt, a model, a tool set,
// and any sub-agents it composes.
type AgentSpec struct {
	Name        string
	Instruction string // prompt name, always set on a valid program
	Model       string // agent default, resolved; "" defers downstream
	Tools       []string
	SubAgents   []string
	Produces    string // output variable auto-bound after a run statement
}

// ResolveModel picks the model for an invocation of this agent, in priority
// order: prompt-level override, agent-level default, the workflow's "main"
// model, then the caller-supplied override.
func (a *AgentSpec) ResolveModel(p *Program, prompt *PromptSpec, callerDefault string) string {
	if prompt != nil && prompt.Model != "" {
		return prompt.Model
	}
	if a.Model != "" {
		return a.Model
	}
	if m, ok := p.Models[DefaultModelName]; ok && m != "" {
		return m
	}
	return callerDefault
}

// FlowSpec is a lowered flow: an ordered executable statement sequence.
type FlowSpec struct {
	Name  string
	Steps []Step
}

// Step is one lowered flow statement. The interface is sealed; the runtime
// switches exhaustively over the step kinds below, so a new statement kind
// is a compile-time obligation in the executor.
type Step interface {
	isStep()
}

// AssignStep writes the named slot in the variable store.
type AssignStep struct {
	Name  string
	Value Expr
	Line  int
	Col   int
}

func (*AssignStep) isStep() {}

// PropertyAssignStep writes into an existing nested value through a dotted
// path, rather than creating a fresh binding.
type PropertyAssignStep struct {
	Path  []string
	Value Expr
	Line  int
	Col   int
}

func (*PropertyAssignStep) isStep() {}

// RunStep invokes an agent. With is the optional input expression; when nil
// the agent's own declared prompt is the input. Target is the explicit
// assignment target, "" when the statement had none (the agent's produces
// name, if any, then receives the result).
type RunStep struct {
	Agent  string
	With   Expr
	Target string
	Line   int
	Col    int
}

func (*RunStep) isStep() {}

// CallStep executes another flow's statements against the same execution
// context. Flows take no parameters; state is ambient.
type CallStep struct {
	Flow string
	Line int
	Col  int
}

func (*CallStep) isStep() {}

// ForStep iterates a list, binding Var in the shared store for the
// duration of each iteration.
type ForStep struct {
	Var  string
	Over Expr
	Body []Step
	Line int
	Col  int
}

func (*ForStep) isStep() {}

// IfStep evaluates its guard against current context values and takes
// exactly one branch.
type IfStep struct {
	Cond Expr
	Then []Step
	Else []Step
	Line int
	Col  int
}

func (*IfStep) isStep() {}

// MatchStep compares a subject against case literals and takes exactly one
// branch (the default when no case matches).
type MatchStep struct {
	Subject Expr
	Cases   []MatchCase
	Default []Step
	Line    int
	Col     int
}

func (*MatchStep) isStep() {}

// MatchCase is one arm of a match statement.
type MatchCase struct {
	Value Expr
	Body  []Step
}

// PushStep appends to a list-valued slot, creating it if absent.
type PushStep struct {
	Value  Expr
	Target string
	Line   int
	Col    int
}

func (*PushStep) isStep() {}

// ReturnStep ends the enclosing flow, optionally with a value.
type ReturnStep struct {
	Value Expr // nil returns the last result
	Line  int
	Col   int
}

func (*ReturnStep) isStep() {}

// EscalateStep dispatches a message to the external human-escalation
// channel. Fire-and-forget: the flow continues after dispatch.
type EscalateStep struct {
	Message Expr
	Line    int
	Col     int
}

func (*EscalateStep) isStep() {}

// Expr is a lowered expression, sealed like Step.
type Expr interface {
	isExpr()
}

// LitExpr is a literal value.
type LitExpr struct {
	Value Value
}

func (*LitExpr) isExpr() {}

// VarExpr reads a variable, or a dotted path into one.
type VarExpr struct {
	Path []string
}

func (*VarExpr) isExpr() {}

// TemplateExpr is a string literal with embedded variable references,
// rendered against the execution context at evaluation time.
type TemplateExpr struct {
	Template string
	Render   func(*ExecutionContext) string
}

func (*TemplateExpr) isExpr() {}

// CompareExpr is a comparison between two operands.
type CompareExpr struct {
	Left  Expr
	Op    string // "==", "!=", "<", ">", "<=", ">="
	Right Expr
}

func (*CompareExpr) isExpr() {}

// AgentNames lists the program's agents in sorted order, for host
// inspection.
func (p *Program) AgentNames() []string {
	return sortedKeys(p.Agents)
}

// FlowNames lists the program's flows in sorted order.
func (p *Program) FlowNames() []string {
	return sortedKeys(p.Flows)
}

// PromptNames lists the program's prompts in sorted order.
func (p *Program) PromptNames() []string {
	return sortedKeys(p.Prompts)
}

// SchemaNames lists the program's schemas in sorted order.
func (p *Program) SchemaNames() []string {
	return sortedKeys(p.Schemas)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
