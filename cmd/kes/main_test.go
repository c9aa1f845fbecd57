package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/kestrel/manifest"
	"github.com/chazu/kestrel/vm"
)

const helloYAML = `functions:
  - name: main
    ops:
      - {op: const, dst: s, value: "hi"}
      - {op: print, src: s, newline: true}
      - {op: return}
`

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("usage"), exitError},
		{&vm.RuntimeFatalError{Limit: vm.LimitSteps}, exitFatal},
		{fmt.Errorf("wrapped: %w", &vm.UncaughtException{TypeName: "Boom"}), exitUncaught},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUntrustedKeepsManifestSettings(t *testing.T) {
	m, err := manifest.Parse([]byte(`[project]
entry = "start"

[limits]
max_call_depth = 8

[verify]
strict_entry = true
legacy_type_matching = false

[exceptions]
ParseFailure = "RuntimeException"
`))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}

	cfg := vmConfig(m, true)
	if !cfg.Untrusted || cfg.Limits.MaxSteps != vm.UntrustedLimits().MaxSteps {
		t.Errorf("untrusted profile not applied: %+v", cfg.Limits)
	}
	if cfg.Limits.MaxCallDepth != 8 {
		t.Errorf("MaxCallDepth = %d, want manifest value 8", cfg.Limits.MaxCallDepth)
	}
	if cfg.Entry != "start" || !cfg.StrictEntry || cfg.LegacyTypeMatching {
		t.Errorf("entry %q strict %v legacy %v", cfg.Entry, cfg.StrictEntry, cfg.LegacyTypeMatching)
	}
	if cfg.ExceptionParents["ParseFailure"] != vm.RuntimeException {
		t.Errorf("exception parents = %v", cfg.ExceptionParents)
	}
	if m.Limits.Untrusted {
		t.Error("manifest was modified")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "two.yaml")
	prog := `functions:
  - name: main
    ops:
      - {op: return}
  - name: start
    ops:
      - {op: return}
`
	if err := os.WriteFile(src, []byte(prog), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := loadFile(src)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	mod, err := vm.Load(data, cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if mod.EntryName() != "start" {
		t.Errorf("entry = %s, want start", mod.EntryName())
	}

	if cfg := vmConfig(nil, true); !cfg.Untrusted || cfg.Entry != vm.DefaultEntry {
		t.Errorf("no manifest: %+v", cfg)
	}
}

func TestVerbosityCountsRepeats(t *testing.T) {
	var v verbosity
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&v, "v", "")
	if err := fs.Parse([]string{"-v", "-v", "-v=false"}); err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("verbosity = %d, want 2", v)
	}
}

func TestAsmThenRead(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.yaml")
	if err := os.WriteFile(src, []byte(helloYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := handleAsmCommand([]string{src}); err != nil {
		t.Fatalf("asm: %v", err)
	}
	out := filepath.Join(dir, "hello.kbc")

	var m *manifest.Manifest
	fromFile, err := readProgram(out, m.VMConfig())
	if err != nil {
		t.Fatalf("read kbc: %v", err)
	}
	fromIR, err := readProgram(src, m.VMConfig())
	if err != nil {
		t.Fatalf("read yaml: %v", err)
	}
	if len(fromFile.Functions) != 1 || len(fromFile.Functions[0].Code) != len(fromIR.Functions[0].Code) {
		t.Errorf("kbc and yaml disagree: %d vs %d instructions",
			len(fromFile.Functions[0].Code), len(fromIR.Functions[0].Code))
	}
	if err := handleVerifyCommand([]string{out}, nil); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestStoreCommandRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.yaml")
	if err := os.WriteFile(src, []byte(helloYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(dir, "programs.db")

	if err := handleStoreCommand([]string{"-db", db, "put", src}, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	st, err := openStore(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := st.List()
	st.Close()
	if err != nil || len(entries) != 1 {
		t.Fatalf("list = %v, %v", entries, err)
	}

	data, err := loadStored(db, entries[0].Hash, nil)
	if err != nil {
		t.Fatalf("load stored: %v", err)
	}
	if _, err := vm.Load(data, vm.DefaultConfig()); err != nil {
		t.Errorf("stored program does not load: %v", err)
	}
	if err := handleStoreCommand([]string{"-db", db, "rm", entries[0].Hash}, nil); err != nil {
		t.Errorf("rm: %v", err)
	}
}
