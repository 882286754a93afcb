package streetrace

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Value represents any runtime value in an execution context.
// This interface uses a sealed pattern via an unexported marker method, so
// only the value kinds defined here exist: string, number, bool, list, map,
// and null. The runtime never reaches for reflection; every consumer
// switches exhaustively over these kinds.
type Value interface {
	isValue()
}

// StringValue is a text value.
type StringValue struct {
	Value string
}

func (StringValue) isValue() {}

// NumberValue is a numeric value. The DSL does not distinguish int from
// float at runtime; schema validation checks integrality where required.
type NumberValue struct {
	Value float64
}

func (NumberValue) isValue() {}

// BoolValue is a boolean value.
type BoolValue struct {
	Value bool
}

func (BoolValue) isValue() {}

// ListValue is an ordered list of values.
type ListValue struct {
	Elements []Value
}

func (ListValue) isValue() {}

// MapValue is a string-keyed collection of values.
type MapValue struct {
	Fields map[string]Value
}

func (MapValue) isValue() {}

// NullValue is the absent value. Reading a variable that was never assigned
// yields Null rather than failing the run.
type NullValue struct{}

func (NullValue) isValue() {}

// Null is the shared null value.
var Null = NullValue{}

// FromGo converts a plain Go value into a Value. Unsupported types are
// rendered through fmt.Sprint as strings.
func FromGo(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case Value:
		return t
	case string:
		return StringValue{Value: t}
	case bool:
		return BoolValue{Value: t}
	case int:
		return NumberValue{Value: float64(t)}
	case int64:
		return NumberValue{Value: float64(t)}
	case float64:
		return NumberValue{Value: t}
	case []any:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, FromGo(e))
		}
		return ListValue{Elements: elems}
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = FromGo(e)
		}
		return MapValue{Fields: fields}
	default:
		return StringValue{Value: fmt.Sprint(v)}
	}
}

// GoValue converts a Value back into a plain Go value.
func GoValue(v Value) any {
	switch t := v.(type) {
	case StringValue:
		return t.Value
	case NumberValue:
		return t.Value
	case BoolValue:
		return t.Value
	case ListValue:
		elems := make([]any, 0, len(t.Elements))
		for _, e := range t.Elements {
			elems = append(elems, GoValue(e))
		}
		return elems
	case MapValue:
		fields := make(map[string]any, len(t.Fields))
		for k, e := range t.Fields {
			fields[k] = GoValue(e)
		}
		return fields
	default:
		return nil
	}
}

// FromJSON converts a parsed gjson result into a Value.
func FromJSON(r gjson.Result) Value {
	switch r.Type {
	case gjson.String:
		return StringValue{Value: r.Str}
	case gjson.Number:
		return NumberValue{Value: r.Num}
	case gjson.True:
		return BoolValue{Value: true}
	case gjson.False:
		return BoolValue{Value: false}
	case gjson.Null:
		return Null
	case gjson.JSON:
		if r.IsArray() {
			var elems []Value
			r.ForEach(func(_, e gjson.Result) bool {
				elems = append(elems, FromJSON(e))
				return true
			})
			return ListValue{Elements: elems}
		}
		fields := make(map[string]Value)
		r.ForEach(func(k, e gjson.Result) bool {
			fields[k.Str] = FromJSON(e)
			return true
		})
		return MapValue{Fields: fields}
	default:
		return Null
	}
}

// Format renders a value as text for prompt interpolation and logging.
func Format(v Value) string {
	switch t := v.(type) {
	case StringValue:
		return t.Value
	case NumberValue:
		return strconv.FormatFloat(t.Value, 'f', -1, 64)
	case BoolValue:
		return strconv.FormatBool(t.Value)
	case ListValue:
		parts := make([]string, 0, len(t.Elements))
		for _, e := range t.Elements {
			parts = append(parts, Format(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case MapValue:
		// Stable key order keeps interpolated prompts deterministic.
		keys := make([]string, 0, len(t.Fields))
		for k := range t.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+Format(t.Fields[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return ""
	}
}

// Truthy reports whether a value counts as true in a bare condition.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case StringValue:
		return t.Value != ""
	case NumberValue:
		return t.Value != 0
	case BoolValue:
		return t.Value
	case ListValue:
		return len(t.Elements) > 0
	case MapValue:
		return len(t.Fields) > 0
	default:
		return false
	}
}

// Equal reports deep equality of two values. Numbers compare numerically,
// so a value parsed as 1 equals one parsed as 1.0.
func Equal(a, b Value) bool {
	switch at := a.(type) {
	case StringValue:
		bt, ok := b.(StringValue)
		return ok && at.Value == bt.Value
	case NumberValue:
		bt, ok := b.(NumberValue)
		return ok && at.Value == bt.Value
	case BoolValue:
		bt, ok := b.(BoolValue)
		return ok && at.Value == bt.Value
	case NullValue:
		_, ok := b.(NullValue)
		return ok
	case ListValue:
		bt, ok := b.(ListValue)
		if !ok || len(at.Elements) != len(bt.Elements) {
			return false
		}
		for i := range at.Elements {
			if !Equal(at.Elements[i], bt.Elements[i]) {
				return false
			}
		}
		return true
	case MapValue:
		bt, ok := b.(MapValue)
		if !ok || len(at.Fields) != len(bt.Fields) {
			return false
		}
		for k, av := range at.Fields {
			bv, ok := bt.Fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values for the DSL comparison operators. It returns
// -1, 0, or +1 and false when the operands are not comparable.
func Compare(a, b Value) (int, bool) {
	switch at := a.(type) {
	case NumberValue:
		bt, ok := b.(NumberValue)
		if !ok {
			return 0, false
		}
		switch {
		case at.Value < bt.Value:
			return -1, true
		case at.Value > bt.Value:
			return 1, true
		default:
			return 0, true
		}
	case StringValue:
		bt, ok := b.(StringValue)
		if !ok {
			return 0, false
		}
		return strings.Compare(at.Value, bt.Value), true
	default:
		return 0, false
	}
}
