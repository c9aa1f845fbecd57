package server

import "github.com/chazu/kestrel/vm/dist"

// Service and procedure names.
const (
	ServiceName     = "kestrel.v1.ExecService"
	RunProcedure    = "/" + ServiceName + "/Run"
	VerifyProcedure = "/" + ServiceName + "/Verify"
)

// PeerHeader identifies the submitting peer for reputation tracking. When
// absent the remote address is used.
const PeerHeader = "Kestrel-Peer"

// Error kinds reported in RunResponse.ErrorKind.
const (
	ErrorKindLoad     = "load"
	ErrorKindVerify   = "verify"
	ErrorKindFatal    = "fatal"
	ErrorKindUncaught = "uncaught"
)

// RunRequest submits a program for execution. Exactly one of Chunk and Hash
// is set; Hash names a program already in the server's store.
type RunRequest struct {
	Chunk *dist.Chunk `cbor:"1,keyasint,omitempty"`
	Hash  string      `cbor:"2,keyasint,omitempty"`
	Entry string      `cbor:"3,keyasint,omitempty"`
}

// RunResponse reports the outcome of a run. Program-level failures are
// reported here; transport and policy failures are connect errors.
type RunResponse struct {
	RunID     string `cbor:"1,keyasint"`
	Hash      string `cbor:"2,keyasint"`
	Output    string `cbor:"3,keyasint,omitempty"`
	Result    string `cbor:"4,keyasint,omitempty"`
	ErrorKind string `cbor:"5,keyasint,omitempty"`
	Message   string `cbor:"6,keyasint,omitempty"`
	Steps     int64  `cbor:"7,keyasint,omitempty"`
}

// VerifyRequest asks for a program to be decoded and verified without
// running it.
type VerifyRequest struct {
	Program []byte `cbor:"1,keyasint"`
}

// VerifyResponse lists every problem found. OK is set when there are none.
type VerifyResponse struct {
	OK         bool     `cbor:"1,keyasint"`
	ErrorKind  string   `cbor:"2,keyasint,omitempty"`
	Violations []string `cbor:"3,keyasint,omitempty"`
}
