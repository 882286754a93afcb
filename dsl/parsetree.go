package dsl

// NodeKind labels a parse tree node with the grammar production (or token
// category) it came from.
type NodeKind string

const (
	NodeSource NodeKind = "source"

	// Declarations.
	NodeModelDecl  NodeKind = "model_decl"
	NodeSchemaDecl NodeKind = "schema_decl"
	NodeField      NodeKind = "field"
	NodePromptDecl NodeKind = "prompt_decl"
	NodeExpecting  NodeKind = "expecting"
	NodeArray      NodeKind = "array"
	NodePromptProp NodeKind = "prompt_prop"
	NodeToolDecl   NodeKind = "tool_decl"
	NodeAgentDecl  NodeKind = "agent_decl"
	NodeAgentProp  NodeKind = "agent_prop"
	NodeFlowDecl   NodeKind = "flow_decl"

	// Statements.
	NodeBlock          NodeKind = "block"
	NodeAssign         NodeKind = "assign"
	NodePropertyAssign NodeKind = "property_assign"
	NodeRun            NodeKind = "run"
	NodeCall           NodeKind = "call"
	NodeFor            NodeKind = "for"
	NodeIf             NodeKind = "if"
	NodeMatch          NodeKind = "match"
	NodeCase           NodeKind = "case"
	NodeElse           NodeKind = "else"
	NodePush           NodeKind = "push"
	NodeReturn         NodeKind = "return"
	NodeEscalate       NodeKind = "escalate"

	// Expressions.
	NodeCompare NodeKind = "compare"
	NodeVar     NodeKind = "var"
	NodeString  NodeKind = "string"
	NodeNumber  NodeKind = "number"
	NodeBool    NodeKind = "bool"
	NodeNull    NodeKind = "null"
	NodeNameRef NodeKind = "name"
)

// ParseNode is one node of the untyped parse tree: a production label, the
// principal token (nil for pure structural nodes), and child nodes in
// source order. The tree mirrors the grammar; the AST builder gives it
// typed meaning in a separate pass.
type ParseNode struct {
	Kind     NodeKind
	Tok      *Token
	Children []*ParseNode
}

func newNode(kind NodeKind, tok *Token, children ...*ParseNode) *ParseNode {
	return &ParseNode{Kind: kind, Tok: tok, Children: children}
}

// Pos returns the node's source position, falling back to the first child
// for structural nodes without a principal token.
func (n *ParseNode) Pos() (line, col int) {
	if n.Tok != nil {
		return n.Tok.Line, n.Tok.Col
	}
	for _, c := range n.Children {
		if l, cl := c.Pos(); l != 0 {
			return l, cl
		}
	}
	return 0, 0
}

// child returns the i-th child or nil.
func (n *ParseNode) child(i int) *ParseNode {
	if i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// find returns the first child of the given kind, or nil.
func (n *ParseNode) find(kind NodeKind) *ParseNode {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}
