// Package vm loads, verifies and executes Kestrel bytecode.
//
// This package contains:
//   - Load-time configuration and resource limits
//   - The two-layer verifier (structural checks and try-depth dataflow)
//   - Runtime values and their formatting
//   - The exception-type hierarchy used to match handler filters
//   - The register-based executor with an explicit frame stack
package vm
