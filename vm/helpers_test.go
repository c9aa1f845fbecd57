package vm

import (
	"bytes"
	"context"
	"testing"

	"github.com/chazu/kestrel/compiler"
	"github.com/chazu/kestrel/pkg/ir"
)

// assemble lowers builders to encoded bytecode. The first builder is the
// entry unless one is named main.
func assemble(t testing.TB, fns ...*ir.FunctionBuilder) []byte {
	t.Helper()
	built := make([]*ir.Function, len(fns))
	for i, b := range fns {
		built[i] = b.Build()
	}
	data, err := compiler.Assemble(ir.NewProgram(built...))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return data
}

// mustLoad assembles, decodes and verifies a program with cfg.
func mustLoad(t testing.TB, cfg Config, fns ...*ir.FunctionBuilder) *Module {
	t.Helper()
	m, err := Load(assemble(t, fns...), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return m
}

// runModule runs m on a fresh executor and returns what it printed.
func runModule(t testing.TB, m *Module, opts ...Option) (string, Value, error) {
	t.Helper()
	var out bytes.Buffer
	e := NewExecutor(m, append([]Option{WithOutput(&out)}, opts...)...)
	v, err := e.Run(context.Background())
	return out.String(), v, err
}
