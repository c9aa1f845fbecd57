// Package dist implements content-addressed exchange of encoded Kestrel
// programs. A chunk carries the program bytes, their SHA-256 hash and the
// capabilities the program declares; chunks travel as canonical CBOR.
package dist

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// ErrHashMismatch is returned when a chunk's declared hash does not match
// its program bytes.
var ErrHashMismatch = errors.New("dist: hash mismatch")

// Chunk is the unit of program distribution. The receiver recomputes the
// hash before decoding the program.
type Chunk struct {
	Hash         [32]byte `cbor:"1,keyasint"`
	Name         string   `cbor:"2,keyasint,omitempty"`
	Program      []byte   `cbor:"3,keyasint"`           // encoded KSBC bytes
	Capabilities []string `cbor:"4,keyasint,omitempty"` // declared capabilities
}

// CapabilityManifest declares what capabilities a program requires.
type CapabilityManifest struct {
	Required []string `cbor:"1,keyasint"` // e.g. "io.print", "statics"
}

// HashProgram returns the content hash of encoded program bytes.
func HashProgram(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashString renders a hash the way the store and CLI print it.
func HashString(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses a hex-encoded hash.
func ParseHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("dist: parse hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("dist: parse hash: got %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// NewChunk wraps encoded program bytes, hashing them.
func NewChunk(name string, program []byte, caps []string) *Chunk {
	return &Chunk{
		Hash:         HashProgram(program),
		Name:         name,
		Program:      program,
		Capabilities: caps,
	}
}

// ChunkProgram encodes p and declares exactly the capabilities it requires.
func ChunkProgram(name string, p *bytecode.Program) (*Chunk, error) {
	data, err := bytecode.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("dist: encode program: %w", err)
	}
	return NewChunk(name, data, RequiredCapabilities(p)), nil
}

// Manifest returns the chunk's declared capabilities, or nil when it
// declares none.
func (c *Chunk) Manifest() *CapabilityManifest {
	if len(c.Capabilities) == 0 {
		return nil
	}
	return &CapabilityManifest{Required: c.Capabilities}
}

// VerifyChunk checks that the declared hash matches the program bytes.
func VerifyChunk(c *Chunk) error {
	if computed := HashProgram(c.Program); computed != c.Hash {
		return fmt.Errorf("%w: declared %x, computed %x", ErrHashMismatch, c.Hash, computed)
	}
	return nil
}
