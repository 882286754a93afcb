package dsl

// Position is a 1-based source location.
type Position struct {
	Line int
	Col  int
}

type position struct {
	Line int
	Col  int
}

func (p position) Pos() Position {
	return Position{Line: p.Line, Col: p.Col}
}

// SourceFile is the typed AST of one compiled source. Both the declaration
// and statement unions are closed: consumers switch exhaustively over the
// kinds defined here and nothing else exists.
type SourceFile struct {
	Name  string
	Decls []Decl
}

// Decl is a top-level declaration.
type Decl interface {
	isDecl()
	Pos() Position
	DeclName() string
}

// ModelDecl names a qualified vendor/model identifier.
type ModelDecl struct {
	Name string
	Ref  string
	position
}

func (*ModelDecl) isDecl()            {}
func (d *ModelDecl) DeclName() string { return d.Name }

// SchemaDecl declares a flat response schema.
type SchemaDecl struct {
	Name   string
	Fields []SchemaField
	position
}

func (*SchemaDecl) isDecl()            {}
func (d *SchemaDecl) DeclName() string { return d.Name }

// SchemaField is one schema field with its modifiers.
type SchemaField struct {
	Name     string
	Type     string // string, int, float, bool
	List     bool
	Optional bool
	position
}

// PromptDecl declares a prompt template, optionally bound to an expected
// response schema (SchemaIsList marks the Schema[] array form).
type PromptDecl struct {
	Name         string
	Template     string
	Schema       string
	SchemaIsList bool
	SchemaPos    Position
	Model        string // override; model name or vendor/model reference
	Escalate     bool
	position
}

func (*PromptDecl) isDecl()            {}
func (d *PromptDecl) DeclName() string { return d.Name }

// ToolDecl declares an externally provided tool.
type ToolDecl struct {
	Name        string
	Description string
	position
}

func (*ToolDecl) isDecl()            {}
func (d *ToolDecl) DeclName() string { return d.Name }

// AgentDecl declares an agent: its instruction prompt, model, tool set,
// sub-agents, and the variable its results bind to by default.
type AgentDecl struct {
	Name        string
	Instruction string
	Model       string
	Tools       []string
	SubAgents   []string
	Produces    string
	position
}

func (*AgentDecl) isDecl()            {}
func (d *AgentDecl) DeclName() string { return d.Name }

// FlowDecl declares an executable statement sequence.
type FlowDecl struct {
	Name string
	Body []Stmt
	position
}

func (*FlowDecl) isDecl()            {}
func (d *FlowDecl) DeclName() string { return d.Name }

// Stmt is one flow statement.
type Stmt interface {
	isStmt()
	Pos() Position
}

// AssignStmt binds a variable.
type AssignStmt struct {
	Name  string
	Value ExprNode
	position
}

func (*AssignStmt) isStmt() {}

// PropertyAssignStmt writes through a dotted path into an existing value.
type PropertyAssignStmt struct {
	Path  []string
	Value ExprNode
	position
}

func (*PropertyAssignStmt) isStmt() {}

// RunStmt invokes an agent. Target is the explicit assignment target, ""
// when the statement had none.
type RunStmt struct {
	Agent  string
	With   ExprNode // nil when absent
	Target string
	position
}

func (*RunStmt) isStmt() {}

// CallStmt executes another flow against the same execution context.
type CallStmt struct {
	Flow string
	position
}

func (*CallStmt) isStmt() {}

// ForStmt iterates a list.
type ForStmt struct {
	Var  string
	Over ExprNode
	Body []Stmt
	position
}

func (*ForStmt) isStmt() {}

// IfStmt takes exactly one branch.
type IfStmt struct {
	Cond ExprNode
	Then []Stmt
	Else []Stmt
	position
}

func (*IfStmt) isStmt() {}

// MatchStmt compares a subject against case values.
type MatchStmt struct {
	Subject ExprNode
	Cases   []MatchArm
	Default []Stmt
	position
}

func (*MatchStmt) isStmt() {}

// MatchArm is one case of a match statement.
type MatchArm struct {
	Value ExprNode
	Body  []Stmt
}

// PushStmt appends to a list variable.
type PushStmt struct {
	Value  ExprNode
	Target string
	position
}

func (*PushStmt) isStmt() {}

// ReturnStmt ends the enclosing flow.
type ReturnStmt struct {
	Value ExprNode // nil returns the last result
	position
}

func (*ReturnStmt) isStmt() {}

// EscalateStmt dispatches a message to the escalation channel.
type EscalateStmt struct {
	Message ExprNode
	position
}

func (*EscalateStmt) isStmt() {}

// ExprNode is an expression.
type ExprNode interface {
	isExprNode()
	Pos() Position
}

// StringLit is a string literal; interpolation placeholders remain verbatim
// in Raw and are compiled during code generation.
type StringLit struct {
	Raw string
	position
}

func (*StringLit) isExprNode() {}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
	position
}

func (*NumberLit) isExprNode() {}

// BoolLit is true or false.
type BoolLit struct {
	Value bool
	position
}

func (*BoolLit) isExprNode() {}

// NullLit is the null literal.
type NullLit struct {
	position
}

func (*NullLit) isExprNode() {}

// VarRef reads a variable or a dotted path into one. The $-prefixed and
// bare spellings both normalize to this one node.
type VarRef struct {
	Path []string
	position
}

func (*VarRef) isExprNode() {}

// CompareExpr is a binary comparison.
type CompareExpr struct {
	Left  ExprNode
	Op    string
	Right ExprNode
	position
}

func (*CompareExpr) isExprNode() {}
