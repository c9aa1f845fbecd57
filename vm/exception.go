package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exception types
// ---------------------------------------------------------------------------

// CatchAny is the filter that accepts every thrown value.
const CatchAny = "any"

// Built-in exception classes raised by the executor itself.
const (
	Throwable                  = "Throwable"
	ExceptionClass             = "Exception"
	ErrorClass                 = "Error"
	RuntimeException           = "RuntimeException"
	ArithmeticException        = "ArithmeticException"
	TypeException              = "TypeException"
	IndexOutOfBoundsException  = "IndexOutOfBoundsException"
	NullPointerException       = "NullPointerException"
	NegativeArraySizeException = "NegativeArraySizeException"
)

// builtinParents is the fixed part of the exception hierarchy.
var builtinParents = map[string]string{
	ExceptionClass:             Throwable,
	ErrorClass:                 Throwable,
	RuntimeException:           ExceptionClass,
	ArithmeticException:        RuntimeException,
	TypeException:              RuntimeException,
	IndexOutOfBoundsException:  RuntimeException,
	NullPointerException:       RuntimeException,
	NegativeArraySizeException: RuntimeException,
}

// newException builds the object the executor throws for a built-in error.
func newException(class, format string, args ...any) *Object {
	o := NewObject(class)
	o.Set("message", fmt.Sprintf(format, args...))
	return o
}

// exceptionMessage returns the message field of an exception object.
func exceptionMessage(v Value) (string, bool) {
	o, ok := v.(*Object)
	if !ok {
		return "", false
	}
	m, ok := o.Fields["message"].(string)
	return m, ok
}

// ---------------------------------------------------------------------------
// TypeMatcher
// ---------------------------------------------------------------------------

// TypeMatcher decides whether a handler's filter accepts a thrown value's
// type name. It is built once per module and never modified.
type TypeMatcher struct {
	parents map[string]string
	legacy  bool
}

// NewTypeMatcher combines the built-in hierarchy with extra child -> parent
// edges. Extra edges never override built-in ones. With legacy set, the
// umbrella filters Exception, Error and Throwable also match by name suffix.
func NewTypeMatcher(extra map[string]string, legacy bool) *TypeMatcher {
	parents := make(map[string]string, len(builtinParents)+len(extra))
	for child, parent := range extra {
		if child != "" && parent != "" && child != parent {
			parents[child] = parent
		}
	}
	for child, parent := range builtinParents {
		parents[child] = parent
	}
	return &TypeMatcher{parents: parents, legacy: legacy}
}

// Ancestors returns the parent chain of name, nearest first. A cycle in
// configured edges ends the chain.
func (m *TypeMatcher) Ancestors(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	for {
		parent, ok := m.parents[name]
		if !ok || seen[parent] {
			return out
		}
		out = append(out, parent)
		seen[parent] = true
		name = parent
	}
}

// Matches reports whether filter accepts a value of the given type.
func (m *TypeMatcher) Matches(filter, typeName string) bool {
	if filter == CatchAny || filter == typeName {
		return true
	}
	for _, a := range m.Ancestors(typeName) {
		if a == filter {
			return true
		}
	}
	if !m.legacy {
		return false
	}
	switch filter {
	case ExceptionClass:
		return strings.HasSuffix(typeName, "Exception")
	case ErrorClass:
		return strings.HasSuffix(typeName, "Error")
	case Throwable:
		return strings.HasSuffix(typeName, "Exception") || strings.HasSuffix(typeName, "Error")
	}
	return false
}
