// Package compiler lowers an abstract ir.Program into linear bytecode.
package compiler

import (
	"fmt"

	"github.com/chazu/kestrel/pkg/bytecode"
	"github.com/chazu/kestrel/pkg/ir"
)

// ---------------------------------------------------------------------------
// Encoder: IR to bytecode
// ---------------------------------------------------------------------------

// EncodeError reports an abstract program the encoder cannot lower. Op is the
// index of the offending op in the function, or -1 for function-level errors.
type EncodeError struct {
	Function string
	Op       int
	Msg      string
}

func (e *EncodeError) Error() string {
	if e.Op < 0 {
		return fmt.Sprintf("encode: function %s: %s", e.Function, e.Msg)
	}
	return fmt.Sprintf("encode: function %s: op %d: %s", e.Function, e.Op, e.Msg)
}

var binaryOpcodes = map[ir.BinaryOp]bytecode.Opcode{
	ir.Add: bytecode.OpAdd,
	ir.Sub: bytecode.OpSub,
	ir.Mul: bytecode.OpMul,
	ir.Div: bytecode.OpDiv,
	ir.Mod: bytecode.OpMod,
	ir.Eq:  bytecode.OpEq,
	ir.Neq: bytecode.OpNeq,
	ir.Lt:  bytecode.OpLt,
	ir.Le:  bytecode.OpLe,
	ir.Gt:  bytecode.OpGt,
	ir.Ge:  bytecode.OpGe,
}

// Encoder converts abstract programs to bytecode. The constant pool is shared
// by all functions of one program.
type Encoder struct {
	prog     *bytecode.Program
	constMap map[bytecode.ConstKey]int32 // dedup constants
	funcs    map[string]int32            // function name -> index

	// Current function
	fn      *ir.Function
	opIndex int
	slots   map[string]int32 // local name -> slot
	labels  map[string]int32 // label name -> pc
	resolve bool             // second pass: labels must be defined
	code    []bytecode.Instruction
	end     int32 // pc one past the last op, known after pass 1
	exit    bool  // some jump targets end
}

// Encode lowers p into a bytecode program.
func Encode(p *ir.Program) (*bytecode.Program, error) {
	return NewEncoder().Encode(p)
}

// Assemble lowers p and serializes the result.
func Assemble(p *ir.Program) ([]byte, error) {
	prog, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return bytecode.Encode(prog)
}

// NewEncoder creates an encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode lowers p. Function indices follow declaration order and the output
// is deterministic for a given input.
func (e *Encoder) Encode(p *ir.Program) (*bytecode.Program, error) {
	e.prog = bytecode.NewProgram()
	e.constMap = make(map[bytecode.ConstKey]int32)
	e.funcs = make(map[string]int32, len(p.Functions))

	for i, fn := range p.Functions {
		if fn.Name == "" {
			return nil, &EncodeError{Function: fmt.Sprintf("#%d", i), Op: -1, Msg: "function has no name"}
		}
		if _, dup := e.funcs[fn.Name]; dup {
			return nil, &EncodeError{Function: fn.Name, Op: -1, Msg: "duplicate function"}
		}
		e.funcs[fn.Name] = int32(i)
	}

	for _, fn := range p.Functions {
		out, err := e.encodeFunction(fn)
		if err != nil {
			return nil, err
		}
		e.prog.Functions = append(e.prog.Functions, out)
	}
	return e.prog, nil
}

func (e *Encoder) encodeFunction(fn *ir.Function) (*bytecode.Function, error) {
	e.fn = fn
	e.slots = make(map[string]int32)
	e.labels = make(map[string]int32)
	e.opIndex = -1

	// Parameters take the first slots so CALL can copy arguments
	// positionally.
	for _, param := range fn.Params {
		if _, dup := e.slots[param]; dup {
			return nil, e.fail(-1, "duplicate parameter %q", param)
		}
		if _, err := e.slot(param); err != nil {
			return nil, err
		}
	}

	// Pass 1 interns constants, assigns slots and records label positions.
	e.resolve = false
	if err := e.walk(); err != nil {
		return nil, err
	}

	// Pass 2 emits with every label resolved.
	e.end = int32(len(e.code))
	e.exit = false
	e.resolve = true
	if err := e.walk(); err != nil {
		return nil, err
	}
	// A label after the last op is a jump out of the function; give it an
	// instruction to land on, behaving like falling off the end.
	if e.exit {
		e.code = append(e.code, bytecode.Instr(bytecode.OpReturn, bytecode.NoOperand))
	}
	return &bytecode.Function{Name: fn.Name, Code: e.code}, nil
}

func (e *Encoder) walk() error {
	e.code = make([]bytecode.Instruction, 0, len(e.fn.Ops))
	for i, op := range e.fn.Ops {
		e.opIndex = i
		if l, ok := op.(ir.Label); ok {
			if !e.resolve {
				if _, dup := e.labels[l.Name]; dup {
					return e.fail(i, "duplicate label %q", l.Name)
				}
				e.labels[l.Name] = int32(len(e.code))
			}
			continue
		}
		in, err := e.lower(op)
		if err != nil {
			return err
		}
		e.code = append(e.code, in)
	}
	return nil
}

func (e *Encoder) fail(op int, format string, args ...any) *EncodeError {
	return &EncodeError{Function: e.fn.Name, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// slot returns the slot of a local, assigning the next free one on first use.
func (e *Encoder) slot(name string) (int32, error) {
	if name == "" {
		return 0, e.fail(e.opIndex, "empty local name")
	}
	if s, ok := e.slots[name]; ok {
		return s, nil
	}
	if len(e.slots) >= bytecode.NumSlots {
		return 0, e.fail(e.opIndex, "more than %d locals", bytecode.NumSlots)
	}
	s := int32(len(e.slots))
	e.slots[name] = s
	return s, nil
}

// optSlot maps "" to NoOperand.
func (e *Encoder) optSlot(name string) (int32, error) {
	if name == "" {
		return bytecode.NoOperand, nil
	}
	return e.slot(name)
}

// constant interns c and returns its pool index.
func (e *Encoder) constant(c bytecode.Constant) int32 {
	key := c.Key()
	if idx, ok := e.constMap[key]; ok {
		return idx
	}
	idx := int32(len(e.prog.Constants))
	e.prog.Constants = append(e.prog.Constants, c)
	e.constMap[key] = idx
	return idx
}

func (e *Encoder) str(s string) int32 {
	return e.constant(bytecode.String(s))
}

func (e *Encoder) target(label string) (int32, error) {
	if !e.resolve {
		return 0, nil
	}
	pc, ok := e.labels[label]
	if !ok {
		return 0, e.fail(e.opIndex, "undefined label %q", label)
	}
	if pc == e.end {
		e.exit = true
	}
	return pc, nil
}

// catchTarget resolves a handler label. Unlike a jump target it cannot be
// the end of the function.
func (e *Encoder) catchTarget(label string) (int32, error) {
	if !e.resolve {
		return 0, nil
	}
	pc, ok := e.labels[label]
	if !ok {
		return 0, e.fail(e.opIndex, "undefined label %q", label)
	}
	if pc == e.end {
		return 0, e.fail(e.opIndex, "catch label %q is at the end of the function", label)
	}
	return pc, nil
}

// slotList resolves several locals at once.
func (e *Encoder) slotList(names ...string) ([]int32, error) {
	out := make([]int32, len(names))
	for i, n := range names {
		s, err := e.slot(n)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (e *Encoder) lower(op ir.Op) (bytecode.Instruction, error) {
	var none bytecode.Instruction

	switch op := op.(type) {
	case ir.Const:
		dst, err := e.slot(op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpConst, dst, e.constant(op.Value)), nil

	case ir.Move:
		s, err := e.slotList(op.Src, op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpLoadLocal, s...), nil

	case ir.Binary:
		code, ok := binaryOpcodes[op.Op]
		if !ok {
			return none, e.fail(e.opIndex, "unknown binary operator %v", op.Op)
		}
		s, err := e.slotList(op.Left, op.Right, op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(code, s...), nil

	case ir.Unary:
		code := bytecode.OpNeg
		switch op.Op {
		case ir.Neg:
		case ir.Not:
			code = bytecode.OpNot
		default:
			return none, e.fail(e.opIndex, "unknown unary operator %v", op.Op)
		}
		s, err := e.slotList(op.Src, op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(code, s...), nil

	case ir.Jump:
		t, err := e.target(op.Label)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpJump, t), nil

	case ir.JumpIfFalse:
		cond, err := e.slot(op.Cond)
		if err != nil {
			return none, err
		}
		t, err := e.target(op.Label)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpJumpIfFalse, cond, t), nil

	case ir.Print:
		src, err := e.slot(op.Src)
		if err != nil {
			return none, err
		}
		var flag int32
		if op.Newline {
			flag = 1
		}
		return bytecode.Instr(bytecode.OpPrint, src, flag), nil

	case ir.Return:
		src, err := e.optSlot(op.Src)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpReturn, src), nil

	case ir.NewArray:
		s, err := e.slotList(op.Size, op.Dst)
		if err != nil {
			return none, err
		}
		elem := bytecode.NoOperand
		if op.ElemType != "" {
			elem = e.str(op.ElemType)
		}
		return bytecode.Instr(bytecode.OpNewArray, s[0], s[1], elem), nil

	case ir.LoadElem:
		s, err := e.slotList(op.Array, op.Index, op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpLoadElem, s...), nil

	case ir.StoreElem:
		s, err := e.slotList(op.Array, op.Index, op.Src)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpStoreElem, s...), nil

	case ir.ArrayLength:
		s, err := e.slotList(op.Array, op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpArrayLength, s...), nil

	case ir.Call:
		return e.lowerCall(op)

	case ir.GetStatic:
		dst, err := e.slot(op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpGetStatic, e.str(op.Class), e.str(op.Field), dst), nil

	case ir.SetStatic:
		src, err := e.slot(op.Src)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpSetStatic, e.str(op.Class), e.str(op.Field), src), nil

	case ir.NewObject:
		dst, err := e.slot(op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpNewObject, e.str(op.Class), dst), nil

	case ir.GetField:
		obj, err := e.slot(op.Object)
		if err != nil {
			return none, err
		}
		field := e.str(op.Field)
		dst, err := e.slot(op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpGetField, obj, field, dst), nil

	case ir.SetField:
		obj, err := e.slot(op.Object)
		if err != nil {
			return none, err
		}
		field := e.str(op.Field)
		src, err := e.slot(op.Src)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpSetField, obj, field, src), nil

	case ir.TryBegin:
		t, err := e.catchTarget(op.Catch)
		if err != nil {
			return none, err
		}
		typ := op.Type
		if typ == "" {
			typ = "any"
		}
		return bytecode.Instr(bytecode.OpTryPush, t, e.str(typ)), nil

	case ir.TryEnd:
		return bytecode.Instr(bytecode.OpTryPop), nil

	case ir.Throw:
		src, err := e.slot(op.Src)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpThrow, src), nil

	case ir.CatchBind:
		dst, err := e.slot(op.Dst)
		if err != nil {
			return none, err
		}
		return bytecode.Instr(bytecode.OpCatchBind, dst), nil

	default:
		return none, e.fail(e.opIndex, "unsupported op %T", op)
	}
}

func (e *Encoder) lowerCall(op ir.Call) (bytecode.Instruction, error) {
	var none bytecode.Instruction

	callee, ok := e.funcs[op.Callee]
	if !ok {
		return none, e.fail(e.opIndex, "unknown function %q", op.Callee)
	}
	if len(op.Args) > bytecode.MaxCallArgs {
		return none, e.fail(e.opIndex, "call to %s passes %d arguments, max is %d",
			op.Callee, len(op.Args), bytecode.MaxCallArgs)
	}

	args := [bytecode.MaxCallArgs]int32{
		bytecode.NoOperand, bytecode.NoOperand, bytecode.NoOperand, bytecode.NoOperand,
	}
	for i, name := range op.Args {
		s, err := e.slot(name)
		if err != nil {
			return none, err
		}
		args[i] = s
	}
	dst, err := e.optSlot(op.Dst)
	if err != nil {
		return none, err
	}
	return bytecode.Instr(bytecode.OpCall,
		callee, int32(len(op.Args)),
		args[0], args[1], args[2], args[3],
		dst,
	), nil
}
