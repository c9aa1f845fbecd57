package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Constants and locals (0x10-0x1F)
	// ========================================================================

	OpConst      Opcode = 0x10 // slot <- constant pool entry
	OpLoadLocal  Opcode = 0x11 // dst <- src
	OpStoreLocal Opcode = 0x12 // dst <- src

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	// ========================================================================

	OpAdd Opcode = 0x20
	OpSub Opcode = 0x21
	OpMul Opcode = 0x22
	OpDiv Opcode = 0x23 // always produces a float
	OpMod Opcode = 0x24
	OpNeg Opcode = 0x25

	// ========================================================================
	// Comparison and logic (0x30-0x3F)
	// ========================================================================

	OpEq  Opcode = 0x30
	OpNeq Opcode = 0x31
	OpLt  Opcode = 0x32
	OpLe  Opcode = 0x33
	OpGt  Opcode = 0x34
	OpGe  Opcode = 0x35
	OpNot Opcode = 0x36

	// ========================================================================
	// Control flow (0x40-0x4F)
	// ========================================================================

	OpJump        Opcode = 0x40 // absolute target within the function
	OpJumpIfFalse Opcode = 0x41
	OpCall        Opcode = 0x42 // func, argc, up to 4 arg slots, dst
	OpReturn      Opcode = 0x43 // value slot or NoOperand for void

	// ========================================================================
	// Output (0x50-0x5F)
	// ========================================================================

	OpPrint Opcode = 0x50

	// ========================================================================
	// Arrays (0x60-0x6F)
	// ========================================================================

	OpNewArray    Opcode = 0x60
	OpLoadElem    Opcode = 0x61
	OpStoreElem   Opcode = 0x62
	OpArrayLength Opcode = 0x63

	// ========================================================================
	// Objects and statics (0x70-0x7F)
	// ========================================================================

	OpGetStatic Opcode = 0x70
	OpSetStatic Opcode = 0x71
	OpNewObject Opcode = 0x72
	OpGetField  Opcode = 0x73
	OpSetField  Opcode = 0x74

	// ========================================================================
	// Exceptions (0x80-0x8F)
	// ========================================================================

	OpTryPush   Opcode = 0x80 // catch target, catch type
	OpTryPop    Opcode = 0x81
	OpThrow     Opcode = 0x82
	OpCatchBind Opcode = 0x83 // binds the value delivered to a catch entry
)

// NumSlots is the number of value registers in every frame.
const NumSlots = 256

// MaxCallArgs is the number of argument slots a CALL can carry.
const MaxCallArgs = 4

// MaxOperands is the widest operand tuple of any opcode (CALL).
const MaxOperands = 3 + MaxCallArgs

// NoOperand marks an optional slot or constant operand that is absent:
// a void RETURN, a CALL whose result is discarded, an unused CALL argument,
// or a NEW_ARRAY without an element type.
const NoOperand int32 = -1

// OperandKind describes what an operand refers to and which values it may hold.
type OperandKind uint8

const (
	OperandSlot           OperandKind = iota // register in the current frame
	OperandOptSlot                           // slot or NoOperand
	OperandConst                             // constant pool index
	OperandStringConst                       // constant pool index tagging String
	OperandOptStringConst                    // String constant or NoOperand
	OperandFunc                              // function index
	OperandTarget                            // instruction index in the same function
	OperandFlag                              // 0 or 1
	OperandArgCount                          // 0..MaxCallArgs
	OperandArgSlot                           // slot below argCount, NoOperand above
)

// String returns a short name for the operand kind.
func (k OperandKind) String() string {
	switch k {
	case OperandSlot:
		return "slot"
	case OperandOptSlot:
		return "opt-slot"
	case OperandConst:
		return "const"
	case OperandStringConst:
		return "string-const"
	case OperandOptStringConst:
		return "opt-string-const"
	case OperandFunc:
		return "func"
	case OperandTarget:
		return "target"
	case OperandFlag:
		return "flag"
	case OperandArgCount:
		return "argc"
	case OperandArgSlot:
		return "arg-slot"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// OpcodeInfo provides metadata about each opcode for decoding, verification
// and disassembly.
type OpcodeInfo struct {
	Name     string        // Human-readable name
	Operands []OperandKind // Fixed operand tuple, in encoding order
}

var (
	binaryOperands = []OperandKind{OperandSlot, OperandSlot, OperandSlot}
	unaryOperands  = []OperandKind{OperandSlot, OperandSlot}
	staticOperands = []OperandKind{OperandStringConst, OperandStringConst, OperandSlot}
	fieldOperands  = []OperandKind{OperandSlot, OperandStringConst, OperandSlot}
)

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpConst:      {"CONST", []OperandKind{OperandSlot, OperandConst}},
	OpLoadLocal:  {"LOAD_LOCAL", unaryOperands},
	OpStoreLocal: {"STORE_LOCAL", unaryOperands},

	OpAdd: {"ADD", binaryOperands},
	OpSub: {"SUB", binaryOperands},
	OpMul: {"MUL", binaryOperands},
	OpDiv: {"DIV", binaryOperands},
	OpMod: {"MOD", binaryOperands},
	OpNeg: {"NEG", unaryOperands},

	OpEq:  {"EQ", binaryOperands},
	OpNeq: {"NEQ", binaryOperands},
	OpLt:  {"LT", binaryOperands},
	OpLe:  {"LE", binaryOperands},
	OpGt:  {"GT", binaryOperands},
	OpGe:  {"GE", binaryOperands},
	OpNot: {"NOT", unaryOperands},

	OpJump:        {"JUMP", []OperandKind{OperandTarget}},
	OpJumpIfFalse: {"JUMP_IF_FALSE", []OperandKind{OperandSlot, OperandTarget}},
	OpCall: {"CALL", []OperandKind{
		OperandFunc, OperandArgCount,
		OperandArgSlot, OperandArgSlot, OperandArgSlot, OperandArgSlot,
		OperandOptSlot,
	}},
	OpReturn: {"RETURN", []OperandKind{OperandOptSlot}},

	OpPrint: {"PRINT", []OperandKind{OperandSlot, OperandFlag}},

	OpNewArray:    {"NEW_ARRAY", []OperandKind{OperandSlot, OperandSlot, OperandOptStringConst}},
	OpLoadElem:    {"LOAD_ELEM", binaryOperands},
	OpStoreElem:   {"STORE_ELEM", binaryOperands},
	OpArrayLength: {"ARRAY_LENGTH", unaryOperands},

	OpGetStatic: {"GET_STATIC", staticOperands},
	OpSetStatic: {"SET_STATIC", staticOperands},
	OpNewObject: {"NEW_OBJECT", []OperandKind{OperandStringConst, OperandSlot}},
	OpGetField:  {"GET_FIELD", fieldOperands},
	OpSetField:  {"SET_FIELD", fieldOperands},

	OpTryPush:   {"TRY_PUSH", []OperandKind{OperandTarget, OperandStringConst}},
	OpTryPop:    {"TRY_POP", nil},
	OpThrow:     {"THROW", []OperandKind{OperandSlot}},
	OpCatchBind: {"CATCH_BIND", []OperandKind{OperandSlot}},
}

// LookupOpcode returns the metadata for op and whether op is defined.
func LookupOpcode(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo with name "UNKNOWN" and no operands if the opcode is
// not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandCount returns the number of operands encoded after this opcode.
func (op Opcode) OperandCount() int {
	return len(GetOpcodeInfo(op).Operands)
}

// IsJump returns true for instructions that transfer control to an explicit
// target through normal flow.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// IsTerminator returns true for instructions without a fallthrough edge in
// the verifier's control-flow graph. THROW keeps its fallthrough edge.
func (op Opcode) IsTerminator() bool {
	return op == OpJump || op == OpReturn
}

// AllOpcodes returns a slice of all defined opcodes in ascending order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := 0; op < 256; op++ {
		if _, ok := opcodeInfoTable[Opcode(op)]; ok {
			opcodes = append(opcodes, Opcode(op))
		}
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
