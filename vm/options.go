package vm

import "io"

// Option configures an Executor.
type Option func(*Executor)

// WithOutput sets where PRINT writes. The default discards output.
func WithOutput(w io.Writer) Option {
	return func(e *Executor) {
		e.output = w
	}
}

// WithStatics supplies the statics store for the run. By default each
// Executor creates its own.
func WithStatics(s *Statics) Option {
	return func(e *Executor) {
		e.statics = s
	}
}

// WithContextCheckInterval sets how many instructions run between checks of
// ctx.Done(). Zero disables the periodic check. The default is
// DefaultContextCheckInterval.
func WithContextCheckInterval(n int) Option {
	return func(e *Executor) {
		e.contextCheckInterval = n
	}
}

// WithRunID overrides the generated run identifier used in log messages.
func WithRunID(id string) Option {
	return func(e *Executor) {
		e.runID = id
	}
}
