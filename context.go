package streetrace

import "fmt"

// ExecutionContext holds the mutable state of a single workflow run: the
// ambient variable store flows read and write by name, the result of the
// most recent agent call, and the resolved schema table. One context exists
// per run, is mutated only by the statements of the flow currently
// executing, and is never shared across runs; within a run execution is
// strictly sequential, so no locking is needed.
type ExecutionContext struct {
	vars       map[string]Value
	lastResult Value
	schemas    map[string]*SchemaDescriptor
}

// NewExecutionContext creates a fresh context bound to a program's schema
// table.
func NewExecutionContext(schemas map[string]*SchemaDescriptor) *ExecutionContext {
	return &ExecutionContext{
		vars:       make(map[string]Value),
		lastResult: Null,
		schemas:    schemas,
	}
}

// Get returns the value bound to name. Reading a name that was never
// assigned yields Null; the ambient-state design treats unset slots as
// absent rather than erroring at run time.
func (c *ExecutionContext) Get(name string) Value {
	if v, ok := c.vars[name]; ok {
		return v
	}
	return Null
}

// Has reports whether name has been assigned.
func (c *ExecutionContext) Has(name string) bool {
	_, ok := c.vars[name]
	return ok
}

// Set binds name to a value, creating or replacing the slot.
func (c *ExecutionContext) Set(name string, v Value) {
	c.vars[name] = v
}

// Delete removes a binding. Used to unbind loop variables after iteration
// ranges that shadow an outer name.
func (c *ExecutionContext) Delete(name string) {
	delete(c.vars, name)
}

// GetPath resolves a dotted path (e.g. review.findings) against the store.
// Missing intermediate segments resolve to Null.
func (c *ExecutionContext) GetPath(path []string) Value {
	if len(path) == 0 {
		return Null
	}
	v := c.Get(path[0])
	for _, seg := range path[1:] {
		m, ok := v.(MapValue)
		if !ok {
			return Null
		}
		v, ok = m.Fields[seg]
		if !ok {
			return Null
		}
	}
	return v
}

// SetPath writes into an existing nested value. The base variable must
// already hold a map; intermediate segments that are absent are created as
// maps so multi-level paths (a.b.c) work, but a non-map intermediate is an
// error because property assignment mutates structure rather than creating
// a fresh binding.
func (c *ExecutionContext) SetPath(path []string, v Value) error {
	if len(path) == 0 {
		return fmt.Errorf("empty property path")
	}
	if len(path) == 1 {
		c.Set(path[0], v)
		return nil
	}
	base, ok := c.vars[path[0]]
	if !ok {
		return fmt.Errorf("property assignment to undefined variable %q", path[0])
	}
	m, ok := base.(MapValue)
	if !ok {
		return fmt.Errorf("variable %q is not an object, cannot assign %s",
			path[0], joinPath(path))
	}
	cur := m
	for _, seg := range path[1 : len(path)-1] {
		next, ok := cur.Fields[seg]
		if !ok {
			created := MapValue{Fields: make(map[string]Value)}
			cur.Fields[seg] = created
			cur = created
			continue
		}
		nm, ok := next.(MapValue)
		if !ok {
			return fmt.Errorf("%s is not an object, cannot assign %s",
				seg, joinPath(path))
		}
		cur = nm
	}
	cur.Fields[path[len(path)-1]] = v
	return nil
}

// Push appends a value to the named list slot, creating the list if the
// slot is absent.
func (c *ExecutionContext) Push(name string, v Value) error {
	cur, ok := c.vars[name]
	if !ok {
		c.vars[name] = ListValue{Elements: []Value{v}}
		return nil
	}
	list, ok := cur.(ListValue)
	if !ok {
		return fmt.Errorf("cannot push to %q: not a list", name)
	}
	list.Elements = append(list.Elements, v)
	c.vars[name] = list
	return nil
}

// LastResult returns the result of the most recent agent call.
func (c *ExecutionContext) LastResult() Value {
	return c.lastResult
}

// SetLastResult records the result of an agent call.
func (c *ExecutionContext) SetLastResult(v Value) {
	c.lastResult = v
}

// Schema looks up a resolved schema descriptor by name.
func (c *ExecutionContext) Schema(name string) (*SchemaDescriptor, bool) {
	s, ok := c.schemas[name]
	return s, ok
}

func joinPath(path []string) string {
	out := path[0]
	for _, seg := range path[1:] {
		out += "." + seg
	}
	return out
}
