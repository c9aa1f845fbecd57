package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
		if len(info.Operands) > MaxOperands {
			t.Errorf("%s declares %d operands, max is %d", info.Name, len(info.Operands), MaxOperands)
		}
	}
}

func TestOpcodeNamesUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, ok := seen[name]; ok {
			t.Errorf("name %q used by 0x%02X and 0x%02X", name, byte(prev), byte(op))
		}
		seen[name] = op
	}
}

func TestOpcodeCount(t *testing.T) {
	if got := OpcodeCount(); got != 34 {
		t.Errorf("OpcodeCount() = %d, want 34", got)
	}
	if got := len(AllOpcodes()); got != OpcodeCount() {
		t.Errorf("AllOpcodes() returned %d opcodes, want %d", got, OpcodeCount())
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpConst, "CONST"},
		{OpLoadLocal, "LOAD_LOCAL"},
		{OpAdd, "ADD"},
		{OpNeq, "NEQ"},
		{OpJumpIfFalse, "JUMP_IF_FALSE"},
		{OpCall, "CALL"},
		{OpReturn, "RETURN"},
		{OpNewArray, "NEW_ARRAY"},
		{OpGetStatic, "GET_STATIC"},
		{OpTryPush, "TRY_PUSH"},
		{OpCatchBind, "CATCH_BIND"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE)
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if _, ok := LookupOpcode(op); ok {
		t.Error("LookupOpcode(0xEE) reported a defined opcode")
	}
}

func TestOperandCounts(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpConst, 2},
		{OpAdd, 3},
		{OpJump, 1},
		{OpJumpIfFalse, 2},
		{OpPrint, 2},
		{OpReturn, 1},
		{OpNewArray, 3},
		{OpCall, 7},
		{OpGetField, 3},
		{OpTryPush, 2},
		{OpTryPop, 0},
		{OpCatchBind, 1},
	}
	for _, tt := range tests {
		if got := tt.op.OperandCount(); got != tt.want {
			t.Errorf("%s.OperandCount() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestTerminators(t *testing.T) {
	for _, op := range AllOpcodes() {
		want := op == OpJump || op == OpReturn
		if got := op.IsTerminator(); got != want {
			t.Errorf("%s.IsTerminator() = %v, want %v", op, got, want)
		}
	}
}

func TestInstructionString(t *testing.T) {
	in := Instr(OpAdd, 0, 1, 2)
	if got := in.String(); got != "ADD 0, 1, 2" {
		t.Errorf("String() = %q", got)
	}
	if got := Instr(OpTryPop).String(); got != "TRY_POP" {
		t.Errorf("String() = %q", got)
	}
}
