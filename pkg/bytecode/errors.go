package bytecode

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Load Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected KSBC")
	ErrVersionMismatch = errors.New("bytecode version mismatch")
	ErrUnexpectedEOF   = errors.New("unexpected end of bytecode data")
	ErrLimitExceeded   = errors.New("load limit exceeded")
	ErrInvalidConstTag = errors.New("invalid constant tag")
	ErrInvalidBool     = errors.New("invalid boolean payload")
	ErrInvalidUTF8     = errors.New("string is not valid UTF-8")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrTrailingData    = errors.New("trailing data after last function")
	ErrNoEntry         = errors.New("no entry function")
)

// LoadError reports a malformed or oversized program. It is raised before
// any instruction executes. Offset is the byte offset in the input where the
// problem was detected, or -1 when the error is not tied to a position.
type LoadError struct {
	Offset int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Offset < 0 {
		return "load: " + e.Err.Error()
	}
	return fmt.Sprintf("load: offset %d: %v", e.Offset, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// loadErrorf wraps a sentinel with detail at the given offset.
func loadErrorf(offset int, sentinel error, format string, args ...any) *LoadError {
	return &LoadError{
		Offset: offset,
		Err:    fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

// LimitError builds a LoadError for a count that exceeds its configured limit.
func LimitError(what string, got, limit int) *LoadError {
	return loadErrorf(-1, ErrLimitExceeded, "%s %d exceeds limit %d", what, got, limit)
}
