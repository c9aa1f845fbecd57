package bytecode

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"
)

// Header size constants for reading
const (
	magicSize   = 4
	versionSize = 4
	HeaderSize  = magicSize + versionSize
)

// Smallest possible encodings, used to reject counts that cannot fit in the
// remaining input before allocating for them.
const (
	minConstSize       = 1
	minFunctionSize    = 8
	minInstructionSize = 1
)

// DecodeLimits bounds what Decode accepts. A zero field means unlimited.
type DecodeLimits struct {
	MaxBytes                   int
	MaxConstPool               int
	MaxFunctions               int
	MaxInstructionsPerFunction int
}

// ---------------------------------------------------------------------------
// Reader: deserializes a Program from the binary format
// ---------------------------------------------------------------------------

type programReader struct {
	data   []byte
	offset int
}

func (r *programReader) remaining() int {
	return len(r.data) - r.offset
}

func (r *programReader) readByte() (byte, error) {
	if r.offset+1 > len(r.data) {
		return 0, loadErrorf(r.offset, ErrUnexpectedEOF, "reading byte")
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *programReader) readUint32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, loadErrorf(r.offset, ErrUnexpectedEOF, "reading uint32")
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *programReader) readUint64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, loadErrorf(r.offset, ErrUnexpectedEOF, "reading uint64")
	}
	v := binary.BigEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *programReader) readString() (string, error) {
	start := r.offset
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.remaining()) {
		return "", loadErrorf(start, ErrUnexpectedEOF, "string of length %d", n)
	}
	s := r.data[r.offset : r.offset+int(n)]
	if !utf8.Valid(s) {
		return "", loadErrorf(start, ErrInvalidUTF8, "string at offset %d", start)
	}
	r.offset += int(n)
	return string(s), nil
}

// readCount reads a uint32 count and checks it against a limit and against
// the number of items that could possibly fit in the remaining input.
func (r *programReader) readCount(what string, limit, minItemSize int) (int, error) {
	start := r.offset
	n, err := r.readUint32()
	if err != nil {
		return 0, err
	}
	if limit > 0 && uint64(n) > uint64(limit) {
		return 0, loadErrorf(start, ErrLimitExceeded, "%s %d exceeds limit %d", what, n, limit)
	}
	if uint64(n)*uint64(minItemSize) > uint64(r.remaining()) {
		return 0, loadErrorf(start, ErrUnexpectedEOF, "%s %d does not fit in %d remaining bytes", what, n, r.remaining())
	}
	return int(n), nil
}

func (r *programReader) readConstant() (Constant, error) {
	start := r.offset
	tag, err := r.readByte()
	if err != nil {
		return Constant{}, err
	}
	switch ConstKind(tag) {
	case ConstNull:
		return Null(), nil
	case ConstInt:
		v, err := r.readUint64()
		if err != nil {
			return Constant{}, err
		}
		return Int(int64(v)), nil
	case ConstFloat:
		v, err := r.readUint64()
		if err != nil {
			return Constant{}, err
		}
		return Float(math.Float64frombits(v)), nil
	case ConstString:
		s, err := r.readString()
		if err != nil {
			return Constant{}, err
		}
		return String(s), nil
	case ConstBool:
		b, err := r.readByte()
		if err != nil {
			return Constant{}, err
		}
		if b > 1 {
			return Constant{}, loadErrorf(start+1, ErrInvalidBool, "got 0x%02X", b)
		}
		return Bool(b == 1), nil
	default:
		return Constant{}, loadErrorf(start, ErrInvalidConstTag, "tag 0x%02X", tag)
	}
}

func (r *programReader) readInstruction() (Instruction, error) {
	start := r.offset
	b, err := r.readByte()
	if err != nil {
		return Instruction{}, err
	}
	op := Opcode(b)
	info, ok := LookupOpcode(op)
	if !ok {
		return Instruction{}, loadErrorf(start, ErrUnknownOpcode, "0x%02X", b)
	}
	in := Instruction{Op: op}
	for i := range info.Operands {
		v, err := r.readUint32()
		if err != nil {
			return Instruction{}, err
		}
		in.Args[i] = int32(v)
	}
	return in, nil
}

func (r *programReader) readFunction(lim DecodeLimits) (*Function, error) {
	name, err := r.readString()
	if err != nil {
		return nil, err
	}
	n, err := r.readCount("instruction count of "+name, lim.MaxInstructionsPerFunction, minInstructionSize)
	if err != nil {
		return nil, err
	}
	fn := &Function{Name: name, Code: make([]Instruction, n)}
	for pc := 0; pc < n; pc++ {
		if fn.Code[pc], err = r.readInstruction(); err != nil {
			return nil, err
		}
	}
	return fn, nil
}

// Decode parses a program from its binary form, enforcing lim. Every failure
// is a *LoadError. Decode does not verify operands; see the vm package.
func Decode(data []byte, lim DecodeLimits) (*Program, error) {
	if lim.MaxBytes > 0 && len(data) > lim.MaxBytes {
		return nil, LimitError("program size", len(data), lim.MaxBytes)
	}
	if len(data) < HeaderSize {
		return nil, loadErrorf(0, ErrUnexpectedEOF, "header needs %d bytes, got %d", HeaderSize, len(data))
	}

	r := &programReader{data: data}

	// Read magic number
	var magic [4]byte
	copy(magic[:], data[:magicSize])
	if magic != Magic {
		return nil, loadErrorf(0, ErrInvalidMagic, "got %q", magic[:])
	}
	r.offset = magicSize

	// Read version
	version, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, loadErrorf(magicSize, ErrVersionMismatch, "expected %d, got %d", FormatVersion, version)
	}

	p := &Program{Version: version}

	nconst, err := r.readCount("constant pool size", lim.MaxConstPool, minConstSize)
	if err != nil {
		return nil, err
	}
	p.Constants = make([]Constant, nconst)
	for i := range p.Constants {
		if p.Constants[i], err = r.readConstant(); err != nil {
			return nil, err
		}
	}

	nfunc, err := r.readCount("function count", lim.MaxFunctions, minFunctionSize)
	if err != nil {
		return nil, err
	}
	p.Functions = make([]*Function, nfunc)
	for i := range p.Functions {
		if p.Functions[i], err = r.readFunction(lim); err != nil {
			return nil, err
		}
	}

	if r.remaining() != 0 {
		return nil, loadErrorf(r.offset, ErrTrailingData, "%d bytes", r.remaining())
	}
	return p, nil
}

// ReadProgram reads all of r and decodes it.
func ReadProgram(r io.Reader, lim DecodeLimits) (*Program, error) {
	var (
		data []byte
		err  error
	)
	if lim.MaxBytes > 0 {
		// Read one byte past the limit so oversized input is detected
		// without buffering all of it.
		data, err = io.ReadAll(io.LimitReader(r, int64(lim.MaxBytes)+1))
	} else {
		data, err = io.ReadAll(r)
	}
	if err != nil {
		return nil, &LoadError{Offset: -1, Err: err}
	}
	return Decode(data, lim)
}
