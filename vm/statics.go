package vm

import "sort"

// Statics holds the static fields of one run. It belongs to a single
// Executor and is not safe for concurrent use; concurrent runs each need
// their own.
type Statics struct {
	values map[string]Value
}

// NewStatics creates an empty store.
func NewStatics() *Statics {
	return &Statics{values: make(map[string]Value)}
}

func staticKey(class, field string) string {
	return class + "." + field
}

// Get returns Class.field, or nil when it was never set.
func (s *Statics) Get(class, field string) Value {
	return s.values[staticKey(class, field)]
}

// Set writes Class.field.
func (s *Statics) Set(class, field string, v Value) {
	s.values[staticKey(class, field)] = v
}

// Len returns the number of fields set.
func (s *Statics) Len() int {
	return len(s.values)
}

// Keys returns the set fields as sorted "Class.field" names.
func (s *Statics) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
