package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ---------------------------------------------------------------------------
// Writer: serializes a Program to the binary format
// ---------------------------------------------------------------------------

// programWriter accumulates the encoded program. All integers are big-endian
// and fixed width.
type programWriter struct {
	buf     *bytes.Buffer
	scratch [8]byte
}

func (w *programWriter) putByte(b byte) {
	w.buf.WriteByte(b)
}

func (w *programWriter) putUint32(v uint32) {
	binary.BigEndian.PutUint32(w.scratch[:4], v)
	w.buf.Write(w.scratch[:4])
}

func (w *programWriter) putInt32(v int32) {
	w.putUint32(uint32(v))
}

func (w *programWriter) putUint64(v uint64) {
	binary.BigEndian.PutUint64(w.scratch[:8], v)
	w.buf.Write(w.scratch[:8])
}

func (w *programWriter) putString(s string) {
	w.putUint32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *programWriter) putConstant(c Constant) error {
	w.putByte(byte(c.Kind))
	switch c.Kind {
	case ConstNull:
	case ConstInt:
		w.putUint64(uint64(c.Int))
	case ConstFloat:
		w.putUint64(math.Float64bits(c.Float))
	case ConstString:
		w.putString(c.Str)
	case ConstBool:
		if c.Bool {
			w.putByte(1)
		} else {
			w.putByte(0)
		}
	default:
		return fmt.Errorf("bytecode: cannot encode constant of kind %s", c.Kind)
	}
	return nil
}

// Encode serializes a program to bytes. The output is deterministic.
func Encode(p *Program) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("bytecode: cannot encode nil program")
	}

	w := &programWriter{buf: bytes.NewBuffer(make([]byte, 0, 64+8*p.InstructionCount()))}

	// Header
	w.buf.Write(Magic[:])
	version := p.Version
	if version == 0 {
		version = FormatVersion
	}
	w.putUint32(version)

	// Constant pool
	w.putUint32(uint32(len(p.Constants)))
	for _, c := range p.Constants {
		if err := w.putConstant(c); err != nil {
			return nil, err
		}
	}

	// Functions
	w.putUint32(uint32(len(p.Functions)))
	for _, fn := range p.Functions {
		w.putString(fn.Name)
		w.putUint32(uint32(len(fn.Code)))
		for pc, in := range fn.Code {
			if _, ok := LookupOpcode(in.Op); !ok {
				return nil, fmt.Errorf("bytecode: function %q pc %d: %w 0x%02X", fn.Name, pc, ErrUnknownOpcode, byte(in.Op))
			}
			w.putByte(byte(in.Op))
			for _, arg := range in.Operands() {
				w.putInt32(arg)
			}
		}
	}

	return w.buf.Bytes(), nil
}

// WriteTo writes the encoded program to w.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	data, err := Encode(p)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}
