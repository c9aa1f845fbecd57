// Package ir defines the abstract program consumed by the encoder: named
// functions made of operations over named locals, with symbolic jump labels
// and symbolic try regions.
package ir

import (
	"fmt"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// Program is an ordered list of functions. Function order fixes the function
// indices in the encoded program.
type Program struct {
	Functions []*Function
}

// NewProgram creates a program from the given functions.
func NewProgram(fns ...*Function) *Program {
	return &Program{Functions: fns}
}

// Function is a named operation sequence. Params name the locals that
// receive call arguments, in order.
type Function struct {
	Name   string
	Params []string
	Ops    []Op
}

// Op is one abstract operation. The set of implementations is closed.
type Op interface {
	// Kind returns the operation's interchange name, e.g. "jump_if_false".
	Kind() string
	isOp()
}

// BinaryOp selects the operator of a Binary op.
type BinaryOp uint8

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Mod
	Eq
	Neq
	Lt
	Le
	Gt
	Ge
)

var binaryOpNames = [...]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	Eq: "eq", Neq: "neq", Lt: "lt", Le: "le", Gt: "gt", Ge: "ge",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", op)
}

// ParseBinaryOp maps an interchange name to its operator.
func ParseBinaryOp(name string) (BinaryOp, bool) {
	for i, n := range binaryOpNames {
		if n == name {
			return BinaryOp(i), true
		}
	}
	return 0, false
}

// UnaryOp selects the operator of a Unary op.
type UnaryOp uint8

const (
	Neg UnaryOp = iota
	Not
)

func (op UnaryOp) String() string {
	switch op {
	case Neg:
		return "neg"
	case Not:
		return "not"
	default:
		return fmt.Sprintf("UnaryOp(%d)", op)
	}
}

// ParseUnaryOp maps an interchange name to its operator.
func ParseUnaryOp(name string) (UnaryOp, bool) {
	switch name {
	case "neg":
		return Neg, true
	case "not":
		return Not, true
	}
	return 0, false
}

// Const loads a literal into Dst.
type Const struct {
	Dst   string
	Value bytecode.Constant
}

// Move copies Src into Dst.
type Move struct {
	Src, Dst string
}

// Binary computes Dst = Left <Op> Right.
type Binary struct {
	Op               BinaryOp
	Left, Right, Dst string
}

// Unary computes Dst = <Op> Src.
type Unary struct {
	Op       UnaryOp
	Src, Dst string
}

// Label marks a position. It emits no instruction.
type Label struct {
	Name string
}

// Jump transfers control to Label.
type Jump struct {
	Label string
}

// JumpIfFalse transfers control to Label when Cond is falsy.
type JumpIfFalse struct {
	Cond, Label string
}

// Print writes Src, followed by a newline when Newline is set.
type Print struct {
	Src     string
	Newline bool
}

// Return leaves the function. An empty Src returns nothing.
type Return struct {
	Src string
}

// NewArray allocates an array of length Size. ElemType is optional.
type NewArray struct {
	Size, Dst, ElemType string
}

// LoadElem reads Array[Index] into Dst.
type LoadElem struct {
	Array, Index, Dst string
}

// StoreElem writes Src into Array[Index].
type StoreElem struct {
	Array, Index, Src string
}

// ArrayLength stores the length of Array into Dst.
type ArrayLength struct {
	Array, Dst string
}

// Call invokes Callee with up to four argument locals. An empty Dst discards
// the result.
type Call struct {
	Callee string
	Args   []string
	Dst    string
}

// GetStatic reads the static Class.Field into Dst.
type GetStatic struct {
	Class, Field, Dst string
}

// SetStatic writes Src into the static Class.Field.
type SetStatic struct {
	Class, Field, Src string
}

// NewObject allocates an empty object of Class.
type NewObject struct {
	Class, Dst string
}

// GetField reads Object.Field into Dst.
type GetField struct {
	Object, Field, Dst string
}

// SetField writes Src into Object.Field.
type SetField struct {
	Object, Field, Src string
}

// TryBegin opens a try region whose handler starts at label Catch and
// accepts exceptions matching Type.
type TryBegin struct {
	Catch, Type string
}

// TryEnd closes the innermost try region.
type TryEnd struct{}

// Throw raises Src as an exception.
type Throw struct {
	Src string
}

// CatchBind stores the caught exception into Dst. It must be the first op
// after a handler label.
type CatchBind struct {
	Dst string
}

func (Const) Kind() string       { return "const" }
func (Move) Kind() string        { return "move" }
func (b Binary) Kind() string    { return b.Op.String() }
func (u Unary) Kind() string     { return u.Op.String() }
func (Label) Kind() string       { return "label" }
func (Jump) Kind() string        { return "jump" }
func (JumpIfFalse) Kind() string { return "jump_if_false" }
func (Print) Kind() string       { return "print" }
func (Return) Kind() string      { return "return" }
func (NewArray) Kind() string    { return "new_array" }
func (LoadElem) Kind() string    { return "load_elem" }
func (StoreElem) Kind() string   { return "store_elem" }
func (ArrayLength) Kind() string { return "array_length" }
func (Call) Kind() string        { return "call" }
func (GetStatic) Kind() string   { return "get_static" }
func (SetStatic) Kind() string   { return "set_static" }
func (NewObject) Kind() string   { return "new_object" }
func (GetField) Kind() string    { return "get_field" }
func (SetField) Kind() string    { return "set_field" }
func (TryBegin) Kind() string    { return "try_begin" }
func (TryEnd) Kind() string      { return "try_end" }
func (Throw) Kind() string       { return "throw" }
func (CatchBind) Kind() string   { return "catch_bind" }

func (Const) isOp()       {}
func (Move) isOp()        {}
func (Binary) isOp()      {}
func (Unary) isOp()       {}
func (Label) isOp()       {}
func (Jump) isOp()        {}
func (JumpIfFalse) isOp() {}
func (Print) isOp()       {}
func (Return) isOp()      {}
func (NewArray) isOp()    {}
func (LoadElem) isOp()    {}
func (StoreElem) isOp()   {}
func (ArrayLength) isOp() {}
func (Call) isOp()        {}
func (GetStatic) isOp()   {}
func (SetStatic) isOp()   {}
func (NewObject) isOp()   {}
func (GetField) isOp()    {}
func (SetField) isOp()    {}
func (TryBegin) isOp()    {}
func (TryEnd) isOp()      {}
func (Throw) isOp()       {}
func (CatchBind) isOp()   {}
