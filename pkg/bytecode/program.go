package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint32 = 1

// Magic bytes for bytecode files: "KSBC" (Kestrel ByteCode)
var Magic = [4]byte{'K', 'S', 'B', 'C'}

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstNull   ConstKind = 0
	ConstInt    ConstKind = 1
	ConstFloat  ConstKind = 2
	ConstString ConstKind = 3
	ConstBool   ConstKind = 4
)

// String returns a human-readable name for ConstKind.
func (k ConstKind) String() string {
	switch k {
	case ConstNull:
		return "null"
	case ConstInt:
		return "int"
	case ConstFloat:
		return "float"
	case ConstString:
		return "string"
	case ConstBool:
		return "bool"
	default:
		return fmt.Sprintf("ConstKind(%d)", k)
	}
}

// Constant is a tagged literal value. Only the field selected by Kind is
// meaningful; the others stay zero so constants compare with ==.
type Constant struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

// Null returns the null constant. Null is a value of its own, distinct from
// the absence of a constant.
func Null() Constant { return Constant{Kind: ConstNull} }

// Int returns an integer constant.
func Int(v int64) Constant { return Constant{Kind: ConstInt, Int: v} }

// Float returns a float constant.
func Float(v float64) Constant { return Constant{Kind: ConstFloat, Float: v} }

// String returns a string constant.
func String(v string) Constant { return Constant{Kind: ConstString, Str: v} }

// Bool returns a boolean constant.
func Bool(v bool) Constant { return Constant{Kind: ConstBool, Bool: v} }

// Key returns a value usable as a map key that identifies the constant by
// value. Floats are keyed by bit pattern so NaN interns to a single entry and
// 0.0 and -0.0 stay distinct.
func (c Constant) Key() ConstKey {
	k := ConstKey{Kind: c.Kind}
	switch c.Kind {
	case ConstInt:
		k.Bits = uint64(c.Int)
	case ConstFloat:
		k.Bits = math.Float64bits(c.Float)
	case ConstString:
		k.Str = c.Str
	case ConstBool:
		if c.Bool {
			k.Bits = 1
		}
	}
	return k
}

// ConstKey identifies a constant by value.
type ConstKey struct {
	Kind ConstKind
	Bits uint64
	Str  string
}

// String renders the constant the way the disassembler shows it.
func (c Constant) String() string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstBool:
		return strconv.FormatBool(c.Bool)
	default:
		return fmt.Sprintf("<%s>", c.Kind)
	}
}

// Instruction is an opcode plus its fixed operand tuple. Operands beyond the
// opcode's declared count are zero.
type Instruction struct {
	Op   Opcode
	Args [MaxOperands]int32
}

// Instr builds an instruction from an opcode and its operands.
func Instr(op Opcode, args ...int32) Instruction {
	in := Instruction{Op: op}
	copy(in.Args[:], args)
	return in
}

// Operands returns the operands declared for the instruction's opcode.
func (in Instruction) Operands() []int32 {
	return in.Args[:in.Op.OperandCount()]
}

// String renders the instruction as NAME a, b, c.
func (in Instruction) String() string {
	ops := in.Operands()
	if len(ops) == 0 {
		return in.Op.String()
	}
	parts := make([]string, len(ops))
	for i, v := range ops {
		parts[i] = strconv.FormatInt(int64(v), 10)
	}
	return in.Op.String() + " " + strings.Join(parts, ", ")
}

// Function is a named instruction sequence. Program counters index Code.
type Function struct {
	Name string
	Code []Instruction
}

// Program is a complete decoded or encoded bytecode unit. A Program is
// immutable once built.
type Program struct {
	Version   uint32
	Constants []Constant
	Functions []*Function
}

// NewProgram creates an empty program with the current version.
func NewProgram() *Program {
	return &Program{Version: FormatVersion}
}

// FunctionIndex returns the index of the first function named name, or -1.
func (p *Program) FunctionIndex(name string) int {
	for i, fn := range p.Functions {
		if fn.Name == name {
			return i
		}
	}
	return -1
}

// InstructionCount returns the total number of instructions in the program.
func (p *Program) InstructionCount() int {
	n := 0
	for _, fn := range p.Functions {
		n += len(fn.Code)
	}
	return n
}
