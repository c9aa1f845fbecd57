package server

import "github.com/chazu/kestrel/vm/dist"

// cborCodec carries service messages as canonical CBOR, the same encoding
// chunks use on the wire. Both the handlers and the client register it, so
// no generated protobuf types are needed.
type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	return dist.Marshal(msg)
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	return dist.Unmarshal(data, msg)
}
