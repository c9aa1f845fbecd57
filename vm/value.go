package vm

import (
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Value: runtime representation
// ---------------------------------------------------------------------------

// Value is a runtime value. It holds one of nil (null), int64, float64,
// string, bool, *Array or *Object.
type Value = any

// Array is a fixed-length mutable sequence. Arrays compare by identity.
type Array struct {
	Elems    []Value
	ElemType string
}

// Object is an instance of a named class with open fields. Objects compare
// by identity.
type Object struct {
	Class  string
	Fields map[string]Value
}

// NewObject creates an object with no fields set.
func NewObject(class string) *Object {
	return &Object{Class: class, Fields: make(map[string]Value)}
}

// Get returns a field, or nil when it was never set.
func (o *Object) Get(field string) Value {
	return o.Fields[field]
}

// Set writes a field.
func (o *Object) Set(field string, v Value) {
	if o.Fields == nil {
		o.Fields = make(map[string]Value)
	}
	o.Fields[field] = v
}

// constValue converts a pool constant to its runtime value.
func constValue(c bytecode.Constant) Value {
	switch c.Kind {
	case bytecode.ConstInt:
		return c.Int
	case bytecode.ConstFloat:
		return c.Float
	case bytecode.ConstString:
		return c.Str
	case bytecode.ConstBool:
		return c.Bool
	default:
		return nil
	}
}

// TypeName returns the declared type name of v. For objects this is the
// class name, which is what exception filters match against.
func TypeName(v Value) string {
	switch v := v.(type) {
	case nil:
		return "Null"
	case int64:
		return "Integer"
	case float64:
		return "Float"
	case string:
		return "String"
	case bool:
		return "Boolean"
	case *Array:
		return "Array"
	case *Object:
		return v.Class
	default:
		return "Unknown"
	}
}

// truthy reports whether v counts as true. Only false and null are falsy.
func truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// Format renders v the way PRINT writes it.
func Format(v Value) string {
	var sb strings.Builder
	formatInto(&sb, v, nil)
	return sb.String()
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// formatInto writes v, printing containers already being formatted as
// "..." so self-referencing values terminate.
func formatInto(sb *strings.Builder, v Value, seen map[any]bool) {
	switch v := v.(type) {
	case nil:
		sb.WriteString("null")
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case float64:
		sb.WriteString(formatFloat(v))
	case string:
		sb.WriteString(v)
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case *Array:
		if seen[v] {
			sb.WriteString("[...]")
			return
		}
		if seen == nil {
			seen = make(map[any]bool)
		}
		seen[v] = true
		sb.WriteByte('[')
		for i, e := range v.Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatInto(sb, e, seen)
		}
		sb.WriteByte(']')
		delete(seen, v)
	case *Object:
		if seen[v] {
			sb.WriteString(v.Class + "{...}")
			return
		}
		if seen == nil {
			seen = make(map[any]bool)
		}
		seen[v] = true
		names := make([]string, 0, len(v.Fields))
		for name := range v.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString(v.Class)
		sb.WriteByte('{')
		for i, name := range names {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(name)
			sb.WriteByte('=')
			formatInto(sb, v.Fields[name], seen)
		}
		sb.WriteByte('}')
		delete(seen, v)
	default:
		sb.WriteString("<unknown>")
	}
}
