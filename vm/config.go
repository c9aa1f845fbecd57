package vm

import "github.com/chazu/kestrel/pkg/bytecode"

// DefaultEntry is the function a module starts in unless Config.Entry names
// another.
const DefaultEntry = "main"

// DefaultContextCheckInterval is how many instructions run between checks of
// ctx.Done().
const DefaultContextCheckInterval = 1000

// Limits bounds what a module may contain and what a run may consume.
// Zero means unlimited for every field.
type Limits struct {
	// Load-time limits
	MaxBytes                   int
	MaxConstPool               int
	MaxFunctions               int
	MaxInstructionsPerFunction int

	// Run-time limits
	MaxSteps            int64
	MaxCallDepth        int
	MaxHandlersPerFrame int
	MaxArrayLength      int
}

// TrustedLimits returns the limits used for bytecode produced by a trusted
// encoder.
func TrustedLimits() Limits {
	return Limits{
		MaxBytes:                   64 << 20,
		MaxConstPool:               1 << 20,
		MaxFunctions:               1 << 16,
		MaxInstructionsPerFunction: 1 << 20,
		MaxSteps:                   0,
		MaxCallDepth:               4096,
		MaxHandlersPerFrame:        256,
		MaxArrayLength:             1 << 24,
	}
}

// UntrustedLimits returns the stricter limits used for bytecode of unknown
// origin.
func UntrustedLimits() Limits {
	return Limits{
		MaxBytes:                   1 << 20,
		MaxConstPool:               1 << 14,
		MaxFunctions:               1024,
		MaxInstructionsPerFunction: 1 << 16,
		MaxSteps:                   10_000_000,
		MaxCallDepth:               256,
		MaxHandlersPerFrame:        32,
		MaxArrayLength:             1 << 16,
	}
}

// Config controls loading, verification and execution of a module.
type Config struct {
	// Untrusted records that Limits came from the untrusted profile.
	Untrusted bool
	Limits    Limits

	// VerifyControlFlow enables the try-depth dataflow check. Structural
	// checks always run.
	VerifyControlFlow bool

	// StrictEntry makes a missing entry function a load error instead of
	// falling back to function 0.
	StrictEntry bool
	Entry       string

	// LegacyTypeMatching keeps the name-suffix rule for umbrella exception
	// filters on top of the explicit hierarchy.
	LegacyTypeMatching bool

	// ExceptionParents adds child -> parent edges to the built-in exception
	// hierarchy.
	ExceptionParents map[string]string
}

// NewConfig returns the default configuration for the given posture.
func NewConfig(untrusted bool) Config {
	cfg := Config{
		Untrusted:          untrusted,
		Limits:             TrustedLimits(),
		VerifyControlFlow:  true,
		Entry:              DefaultEntry,
		LegacyTypeMatching: true,
	}
	if untrusted {
		cfg.Limits = UntrustedLimits()
	}
	return cfg
}

// DefaultConfig returns the trusted configuration.
func DefaultConfig() Config {
	return NewConfig(false)
}

// UntrustedConfig returns the untrusted configuration.
func UntrustedConfig() Config {
	return NewConfig(true)
}

// DecodeLimits returns the load-time subset of the limits.
func (c Config) DecodeLimits() bytecode.DecodeLimits {
	return bytecode.DecodeLimits{
		MaxBytes:                   c.Limits.MaxBytes,
		MaxConstPool:               c.Limits.MaxConstPool,
		MaxFunctions:               c.Limits.MaxFunctions,
		MaxInstructionsPerFunction: c.Limits.MaxInstructionsPerFunction,
	}
}

func (c Config) entryName() string {
	if c.Entry == "" {
		return DefaultEntry
	}
	return c.Entry
}
