package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("kestrel.dist")

// MaxChunkBytes bounds the size of an encoded chunk accepted from a peer.
const MaxChunkBytes = 4 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      256,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v as canonical CBOR. Equal values always produce equal
// bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR from an untrusted source into v.
func Unmarshal(data []byte, v any) error {
	if len(data) > MaxChunkBytes {
		return fmt.Errorf("dist: message of %d bytes exceeds %d", len(data), MaxChunkBytes)
	}
	return decMode.Unmarshal(data, v)
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes. It does not check the
// hash; see VerifyChunk.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal chunk: %w", err)
	}
	return &c, nil
}

// MarshalCapabilityManifest serializes a CapabilityManifest to CBOR bytes.
func MarshalCapabilityManifest(m *CapabilityManifest) ([]byte, error) {
	return Marshal(m)
}

// UnmarshalCapabilityManifest deserializes a CapabilityManifest from CBOR bytes.
func UnmarshalCapabilityManifest(data []byte) (*CapabilityManifest, error) {
	var m CapabilityManifest
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dist: unmarshal capability manifest: %w", err)
	}
	return &m, nil
}
