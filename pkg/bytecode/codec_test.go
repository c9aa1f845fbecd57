package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// sampleProgram builds a small program that touches every constant kind and
// a few operand shapes.
func sampleProgram() *Program {
	p := NewProgram()
	p.Constants = []Constant{
		Null(),
		Int(-42),
		Float(2.5),
		String("héllo"),
		Bool(true),
		Bool(false),
	}
	p.Functions = []*Function{
		{
			Name: "main",
			Code: []Instruction{
				Instr(OpConst, 0, 1),
				Instr(OpConst, 1, 2),
				Instr(OpAdd, 0, 1, 2),
				Instr(OpCall, 1, 2, 0, 1, NoOperand, NoOperand, 3),
				Instr(OpPrint, 3, 1),
				Instr(OpReturn, NoOperand),
			},
		},
		{
			Name: "helper",
			Code: []Instruction{
				Instr(OpTryPush, 3, 3),
				Instr(OpTryPop),
				Instr(OpReturn, 0),
				Instr(OpCatchBind, 0),
				Instr(OpReturn, 0),
			},
		},
	}
	return p
}

func mustEncode(t *testing.T, p *Program) []byte {
	t.Helper()
	data, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := sampleProgram()
	data := mustEncode(t, p)

	got, err := Decode(data, DecodeLimits{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Version != FormatVersion {
		t.Errorf("Version = %d, want %d", got.Version, FormatVersion)
	}
	if len(got.Constants) != len(p.Constants) {
		t.Fatalf("got %d constants, want %d", len(got.Constants), len(p.Constants))
	}
	for i := range p.Constants {
		if got.Constants[i] != p.Constants[i] {
			t.Errorf("constant %d = %v, want %v", i, got.Constants[i], p.Constants[i])
		}
	}
	if len(got.Functions) != 2 {
		t.Fatalf("got %d functions, want 2", len(got.Functions))
	}
	for fi, fn := range p.Functions {
		gf := got.Functions[fi]
		if gf.Name != fn.Name {
			t.Errorf("function %d name = %q, want %q", fi, gf.Name, fn.Name)
		}
		if len(gf.Code) != len(fn.Code) {
			t.Fatalf("function %s: %d instructions, want %d", fn.Name, len(gf.Code), len(fn.Code))
		}
		for pc := range fn.Code {
			if gf.Code[pc] != fn.Code[pc] {
				t.Errorf("%s pc %d = %v, want %v", fn.Name, pc, gf.Code[pc], fn.Code[pc])
			}
		}
	}

	// Re-encoding the decoded program is byte-identical.
	if again := mustEncode(t, got); !bytes.Equal(again, data) {
		t.Error("re-encoded program differs from original encoding")
	}
}

func TestEncodeFloatSpecials(t *testing.T) {
	p := NewProgram()
	p.Constants = []Constant{Float(math.NaN()), Float(math.Copysign(0, -1)), Float(math.Inf(1))}
	got, err := Decode(mustEncode(t, p), DecodeLimits{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !math.IsNaN(got.Constants[0].Float) {
		t.Errorf("NaN did not survive: %v", got.Constants[0].Float)
	}
	if !math.Signbit(got.Constants[1].Float) {
		t.Error("negative zero lost its sign")
	}
	if !math.IsInf(got.Constants[2].Float, 1) {
		t.Errorf("+Inf did not survive: %v", got.Constants[2].Float)
	}
}

func TestEncodeRejectsUnknownOpcode(t *testing.T) {
	p := NewProgram()
	p.Functions = []*Function{{Name: "main", Code: []Instruction{{Op: Opcode(0xEE)}}}}
	if _, err := Encode(p); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestConstantKeyInterning(t *testing.T) {
	if Float(math.NaN()).Key() != Float(math.NaN()).Key() {
		t.Error("NaN constants should share a key")
	}
	if Float(0).Key() == Float(math.Copysign(0, -1)).Key() {
		t.Error("0.0 and -0.0 should have distinct keys")
	}
	if Null().Key() == Int(0).Key() {
		t.Error("null and 0 should have distinct keys")
	}
	if String("1").Key() == Int(1).Key() {
		t.Error("\"1\" and 1 should have distinct keys")
	}
}

// patch returns a copy of data with b written at offset.
func patch(data []byte, offset int, b ...byte) []byte {
	out := append([]byte(nil), data...)
	copy(out[offset:], b)
	return out
}

func TestDecodeErrors(t *testing.T) {
	valid := mustEncode(t, sampleProgram())

	// Offset of the first constant tag: header + constant count.
	firstConst := HeaderSize + 4

	var version [4]byte
	binary.BigEndian.PutUint32(version[:], FormatVersion+1)

	tests := []struct {
		name string
		data []byte
		lim  DecodeLimits
		want error
	}{
		{"empty", nil, DecodeLimits{}, ErrUnexpectedEOF},
		{"short header", valid[:5], DecodeLimits{}, ErrUnexpectedEOF},
		{"bad magic", patch(valid, 0, 'N', 'O', 'P', 'E'), DecodeLimits{}, ErrInvalidMagic},
		{"version mismatch", patch(valid, 4, version[:]...), DecodeLimits{}, ErrVersionMismatch},
		{"bad constant tag", patch(valid, firstConst, 0x09), DecodeLimits{}, ErrInvalidConstTag},
		{"truncated", valid[:len(valid)-3], DecodeLimits{}, ErrUnexpectedEOF},
		{"trailing data", append(append([]byte(nil), valid...), 0x00), DecodeLimits{}, ErrTrailingData},
		{"max bytes", valid, DecodeLimits{MaxBytes: len(valid) - 1}, ErrLimitExceeded},
		{"max const pool", valid, DecodeLimits{MaxConstPool: 5}, ErrLimitExceeded},
		{"max functions", valid, DecodeLimits{MaxFunctions: 1}, ErrLimitExceeded},
		{"max instructions", valid, DecodeLimits{MaxInstructionsPerFunction: 5}, ErrLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.lim)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var le *LoadError
			if !errors.As(err, &le) {
				t.Fatalf("expected *LoadError, got %T: %v", err, err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	header := func() *bytes.Buffer {
		var b bytes.Buffer
		b.Write(Magic[:])
		binary.Write(&b, binary.BigEndian, FormatVersion)
		return &b
	}

	t.Run("bool", func(t *testing.T) {
		b := header()
		binary.Write(b, binary.BigEndian, uint32(1))
		b.Write([]byte{byte(ConstBool), 2})
		binary.Write(b, binary.BigEndian, uint32(0))
		if _, err := Decode(b.Bytes(), DecodeLimits{}); !errors.Is(err, ErrInvalidBool) {
			t.Errorf("expected ErrInvalidBool, got %v", err)
		}
	})

	t.Run("utf8", func(t *testing.T) {
		b := header()
		binary.Write(b, binary.BigEndian, uint32(1))
		b.WriteByte(byte(ConstString))
		binary.Write(b, binary.BigEndian, uint32(2))
		b.Write([]byte{0xff, 0xfe})
		binary.Write(b, binary.BigEndian, uint32(0))
		if _, err := Decode(b.Bytes(), DecodeLimits{}); !errors.Is(err, ErrInvalidUTF8) {
			t.Errorf("expected ErrInvalidUTF8, got %v", err)
		}
	})

	t.Run("opcode", func(t *testing.T) {
		b := header()
		binary.Write(b, binary.BigEndian, uint32(0))
		binary.Write(b, binary.BigEndian, uint32(1))
		binary.Write(b, binary.BigEndian, uint32(4))
		b.WriteString("main")
		binary.Write(b, binary.BigEndian, uint32(1))
		b.WriteByte(0xEE)
		if _, err := Decode(b.Bytes(), DecodeLimits{}); !errors.Is(err, ErrUnknownOpcode) {
			t.Errorf("expected ErrUnknownOpcode, got %v", err)
		}
	})

	t.Run("huge count", func(t *testing.T) {
		b := header()
		binary.Write(b, binary.BigEndian, uint32(0xFFFFFFFF))
		if _, err := Decode(b.Bytes(), DecodeLimits{}); !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("expected ErrUnexpectedEOF, got %v", err)
		}
	})
}

func TestReadProgramEnforcesMaxBytes(t *testing.T) {
	data := mustEncode(t, sampleProgram())
	if _, err := ReadProgram(bytes.NewReader(data), DecodeLimits{MaxBytes: len(data)}); err != nil {
		t.Fatalf("ReadProgram at exact limit failed: %v", err)
	}
	_, err := ReadProgram(bytes.NewReader(data), DecodeLimits{MaxBytes: 10})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}
