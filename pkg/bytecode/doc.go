// Package bytecode defines the Kestrel register-machine instruction set and
// its "KSBC" binary container.
//
// A Program is a constant pool plus a table of functions. Each function is a
// flat list of fixed-shape instructions whose operands are int32 values:
// register slots (0..NumSlots-1), constant pool indices, function indices or
// absolute instruction targets within the same function. NoOperand (-1)
// marks an absent optional operand such as the destination of a CALL whose
// result is discarded.
//
// # Binary Format
//
// All integers are big-endian.
//
//	magic     [4]byte   "KSBC"
//	version   uint32    FormatVersion
//	nconst    uint32
//	constants nconst × (kind uint8, payload)
//	nfunc     uint32
//	functions nfunc × (name string, ninstr uint32, instructions)
//
// Strings are a uint32 length followed by UTF-8 bytes. Constant payloads
// depend on the kind: nothing for null, int64 for integers, IEEE-754 bits
// for floats, a string, or one byte for booleans. An instruction is its
// opcode byte followed by one int32 per operand the opcode declares.
//
// Decode checks the container only: magic, version, counts against
// DecodeLimits, truncation and trailing bytes. Whether operands make sense
// is the verifier's job (see package vm).
//
// # Disassembly
//
// Disassemble renders a program as a listing with resolved constants and
// function names, as printed by `kes dis`.
package bytecode
