package streetrace

import (
	"fmt"
	"math"
	"strings"
)

// BaseType is a schema field's scalar type.
type BaseType string

const (
	TypeString BaseType = "string"
	TypeInt    BaseType = "int"
	TypeFloat  BaseType = "float"
	TypeBool   BaseType = "bool"
)

// FieldDescriptor describes one schema field: a base type plus list and
// optional modifiers. Schemas are flat; fields never nest other schemas.
type FieldDescriptor struct {
	Name     string
	Type     BaseType
	List     bool
	Optional bool
}

// SchemaDescriptor is the runtime-checkable lowering of a schema
// declaration. It validates values structurally and can describe its own
// shape as text for embedding in prompts, so the model knows the expected
// output format.
type SchemaDescriptor struct {
	Name   string
	Fields []FieldDescriptor
}

// Validate checks a value against the schema and returns one message per
// violation, each naming the offending field. An empty slice means the
// value conforms. Extra fields the schema does not declare are tolerated;
// LLM output is frequently chatty and rejecting extras only burns retries.
func (s *SchemaDescriptor) Validate(v Value) []string {
	obj, ok := v.(MapValue)
	if !ok {
		return []string{fmt.Sprintf("expected an object matching schema %s, got %s", s.Name, kindOf(v))}
	}

	var errs []string
	for _, f := range s.Fields {
		fv, present := obj.Fields[f.Name]
		if !present || isNull(fv) {
			if !f.Optional {
				errs = append(errs, fmt.Sprintf("field %q is required", f.Name))
			}
			continue
		}
		if f.List {
			list, ok := fv.(ListValue)
			if !ok {
				errs = append(errs, fmt.Sprintf("field %q must be a list of %s, got %s", f.Name, f.Type, kindOf(fv)))
				continue
			}
			for i, e := range list.Elements {
				if msg := checkBase(f.Type, e); msg != "" {
					errs = append(errs, fmt.Sprintf("field %q element %d: %s", f.Name, i, msg))
				}
			}
			continue
		}
		if msg := checkBase(f.Type, fv); msg != "" {
			errs = append(errs, fmt.Sprintf("field %q: %s", f.Name, msg))
		}
	}
	return errs
}

// ValidateList checks a value against the array form of the schema
// (expecting Schema[]): the value must be a list whose every element
// conforms.
func (s *SchemaDescriptor) ValidateList(v Value) []string {
	list, ok := v.(ListValue)
	if !ok {
		return []string{fmt.Sprintf("expected an array of %s objects, got %s", s.Name, kindOf(v))}
	}
	var errs []string
	for i, e := range list.Elements {
		for _, msg := range s.Validate(e) {
			errs = append(errs, fmt.Sprintf("item %d: %s", i, msg))
		}
	}
	return errs
}

// Describe renders the schema as a JSON shape suitable for telling a model
// what to produce. Deterministic: fields appear in declaration order.
func (s *SchemaDescriptor) Describe() string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, f := range s.Fields {
		b.WriteString("  ")
		b.WriteString(fmt.Sprintf("%q: ", f.Name))
		if f.List {
			b.WriteString("[" + typePlaceholder(f.Type) + ", ...]")
		} else {
			b.WriteString(typePlaceholder(f.Type))
		}
		if i < len(s.Fields)-1 {
			b.WriteString(",")
		}
		if f.Optional {
			b.WriteString("  // optional")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

// DescribeList renders the array form of the schema.
func (s *SchemaDescriptor) DescribeList() string {
	inner := s.Describe()
	return "[\n" + indentLines(inner, "  ") + ",\n  ...\n]"
}

func checkBase(t BaseType, v Value) string {
	switch t {
	case TypeString:
		if _, ok := v.(StringValue); !ok {
			return "must be a string, got " + kindOf(v)
		}
	case TypeBool:
		if _, ok := v.(BoolValue); !ok {
			return "must be a bool, got " + kindOf(v)
		}
	case TypeFloat:
		if _, ok := v.(NumberValue); !ok {
			return "must be a number, got " + kindOf(v)
		}
	case TypeInt:
		n, ok := v.(NumberValue)
		if !ok {
			return "must be an integer, got " + kindOf(v)
		}
		if n.Value != math.Trunc(n.Value) {
			return fmt.Sprintf("must be an integer, got %v", n.Value)
		}
	default:
		return fmt.Sprintf("unknown base type %q", t)
	}
	return ""
}

func typePlaceholder(t BaseType) string {
	switch t {
	case TypeString:
		return `"<string>"`
	case TypeInt:
		return "<integer>"
	case TypeFloat:
		return "<number>"
	case TypeBool:
		return "<true|false>"
	default:
		return "<value>"
	}
}

func kindOf(v Value) string {
	switch v.(type) {
	case StringValue:
		return "string"
	case NumberValue:
		return "number"
	case BoolValue:
		return "bool"
	case ListValue:
		return "list"
	case MapValue:
		return "object"
	default:
		return "null"
	}
}

func isNull(v Value) bool {
	_, ok := v.(NullValue)
	return ok
}

func indentLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
