package streetrace

import (
	"context"
	"errors"
	"sync"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of an agent conversation.
type Message struct {
	Role    Role
	Content string
}

// Call is a single agent invocation handed to a backend: a qualified model
// identifier, the tool handles the agent declares, its instruction text,
// and the conversation so far (the first user message is the input text).
type Call struct {
	Model       string
	Tools       []ToolHandle
	Instruction string
	Messages    []Message
}

// Backend executes agent invocations against an LLM or agent transport.
// Invoke returns an ordered stream of events, each intermediate or final,
// produced as the backend makes progress; the channel is closed when the
// invocation completes. Implementations must honor ctx cancellation at
// every suspension point and release transport resources before returning.
//
// The runtime only consumes this capability; it never implements model
// transport itself.
type Backend interface {
	Invoke(ctx context.Context, call Call) (<-chan Event, error)
}

// ToolFunc is the signature of an externally provided tool implementation.
type ToolFunc func(ctx context.Context, params map[string]any) (string, error)

// ToolHandle is a named, externally provided callable tool. The runtime
// resolves declared tool names to handles and passes them through to the
// backend; it does not implement tool execution.
type ToolHandle struct {
	Name        string
	Description string
	Fn          ToolFunc
}

// Sentinel errors for tool registration and resolution.
var (
	// ErrToolNotFound is returned when a named tool has no registered handle.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyRegistered is returned on duplicate registration.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// ToolRegistry maps declared tool names to externally provided handles.
type ToolRegistry struct {
	tools map[string]ToolHandle
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolHandle)}
}

// Register adds a tool handle under its name.
func (r *ToolRegistry) Register(h ToolHandle) error {
	if h.Name == "" {
		return errors.New("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[h.Name]; exists {
		return ErrToolAlreadyRegistered
	}
	r.tools[h.Name] = h
	return nil
}

// Resolve returns the handle for a declared tool name.
func (r *ToolRegistry) Resolve(name string) (ToolHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	if !ok {
		return ToolHandle{}, &ToolResolutionError{Kind: "tool", Name: name}
	}
	return h, nil
}

// ResolveAll resolves a declared tool set in order, failing on the first
// unresolved name. Both invocation forms of an agent (from a flow and as a
// top-level entry point) go through this one path, so tool availability
// never diverges between them.
func (r *ToolRegistry) ResolveAll(names []string) ([]ToolHandle, error) {
	handles := make([]ToolHandle, 0, len(names))
	for _, n := range names {
		h, err := r.Resolve(n)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Names lists registered tool names.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.tools)
}
