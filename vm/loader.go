package vm

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/kestrel/pkg/bytecode"
)

var log = commonlog.GetLogger("kestrel.vm")

// ---------------------------------------------------------------------------
// Module: a loaded, verified program
// ---------------------------------------------------------------------------

// Module is a decoded and verified program ready to run. It is immutable and
// may be shared by any number of Executors.
type Module struct {
	prog    *bytecode.Program
	consts  []Value
	entry   int
	cfg     Config
	matcher *TypeMatcher
}

// Program returns the underlying bytecode. Callers must not modify it.
func (m *Module) Program() *bytecode.Program { return m.prog }

// Entry returns the index of the function a run starts in.
func (m *Module) Entry() int { return m.entry }

// EntryName returns the name of the entry function.
func (m *Module) EntryName() string { return m.prog.Functions[m.entry].Name }

// Config returns the configuration the module was loaded with.
func (m *Module) Config() Config { return m.cfg }

// Matcher returns the module's exception-type matcher.
func (m *Module) Matcher() *TypeMatcher { return m.matcher }

// Load decodes, verifies and resolves the entry of an encoded program.
// Failures are *bytecode.LoadError or verification errors; nothing runs
// unless every check passes.
func Load(data []byte, cfg Config) (*Module, error) {
	prog, err := bytecode.Decode(data, cfg.DecodeLimits())
	if err != nil {
		log.Warningf("load rejected: %s", err)
		return nil, err
	}
	return LoadProgram(prog, cfg)
}

// LoadProgram verifies an in-memory program and resolves its entry. Count
// limits are checked again since the program did not come through Decode.
func LoadProgram(p *bytecode.Program, cfg Config) (*Module, error) {
	if err := checkCounts(p, cfg.Limits); err != nil {
		log.Warningf("load rejected: %s", err)
		return nil, err
	}
	if err := Verify(p, cfg); err != nil {
		log.Warningf("verification failed: %d violation(s)", len(Violations(err)))
		return nil, err
	}
	entry, err := resolveEntry(p, cfg)
	if err != nil {
		log.Warningf("load rejected: %s", err)
		return nil, err
	}

	consts := make([]Value, len(p.Constants))
	for i, c := range p.Constants {
		consts[i] = constValue(c)
	}

	m := &Module{
		prog:    p,
		consts:  consts,
		entry:   entry,
		cfg:     cfg,
		matcher: NewTypeMatcher(cfg.ExceptionParents, cfg.LegacyTypeMatching),
	}
	log.Debugf("loaded module: %d functions, %d constants, entry %s",
		len(p.Functions), len(p.Constants), m.EntryName())
	return m, nil
}

func checkCounts(p *bytecode.Program, lim Limits) error {
	if lim.MaxConstPool > 0 && len(p.Constants) > lim.MaxConstPool {
		return bytecode.LimitError("constant pool size", len(p.Constants), lim.MaxConstPool)
	}
	if lim.MaxFunctions > 0 && len(p.Functions) > lim.MaxFunctions {
		return bytecode.LimitError("function count", len(p.Functions), lim.MaxFunctions)
	}
	if lim.MaxInstructionsPerFunction > 0 {
		for _, fn := range p.Functions {
			if len(fn.Code) > lim.MaxInstructionsPerFunction {
				return bytecode.LimitError("instruction count of "+fn.Name, len(fn.Code), lim.MaxInstructionsPerFunction)
			}
		}
	}
	return nil
}

// resolveEntry finds the entry function. Without StrictEntry a missing entry
// falls back to function 0.
func resolveEntry(p *bytecode.Program, cfg Config) (int, error) {
	if len(p.Functions) == 0 {
		return 0, &bytecode.LoadError{Offset: -1, Err: fmt.Errorf("%w: program has no functions", bytecode.ErrNoEntry)}
	}
	name := cfg.entryName()
	if i := p.FunctionIndex(name); i >= 0 {
		return i, nil
	}
	if cfg.StrictEntry {
		return 0, &bytecode.LoadError{Offset: -1, Err: fmt.Errorf("%w: function %q not found", bytecode.ErrNoEntry, name)}
	}
	return 0, nil
}
