package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/kestrel/compiler"
	"github.com/chazu/kestrel/manifest"
	"github.com/chazu/kestrel/pkg/bytecode"
	"github.com/chazu/kestrel/pkg/ir"
	"github.com/chazu/kestrel/vm"
)

// handleAsmCommand processes `kes asm`.
func handleAsmCommand(args []string) error {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default: input with .kbc extension)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: kes asm <prog.yaml> [-o out.kbc]")
	}

	in := fs.Arg(0)
	prog, err := ir.LoadYAML(in)
	if err != nil {
		return err
	}
	data, err := compiler.Assemble(prog)
	if err != nil {
		return err
	}

	dst := *out
	if dst == "" {
		dst = strings.TrimSuffix(in, filepath.Ext(in)) + ".kbc"
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes, %d functions)\n", dst, len(data), len(prog.Functions))
	return nil
}

// handleVerifyCommand processes `kes verify`.
func handleVerifyCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	untrusted := fs.Bool("untrusted", false, "Apply the untrusted limit profile")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: kes verify <prog.kbc>")
	}

	cfg := vmConfig(m, *untrusted)
	p, err := readProgram(fs.Arg(0), cfg)
	if err != nil {
		return err
	}
	if err := vm.Verify(p, cfg); err != nil {
		for _, v := range vm.Violations(err) {
			fmt.Fprintln(os.Stderr, v)
		}
		return fmt.Errorf("%s: %d violation(s)", fs.Arg(0), len(vm.Violations(err)))
	}
	fmt.Printf("%s: ok (%d functions, %d constants)\n", fs.Arg(0), len(p.Functions), len(p.Constants))
	return nil
}

// handleDisCommand processes `kes dis`.
func handleDisCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("dis", flag.ExitOnError)
	fn := fs.String("f", "", "Only list the named function")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: kes dis [-f name] <prog.kbc>")
	}

	p, err := readProgram(fs.Arg(0), m.VMConfig())
	if err != nil {
		return err
	}
	if *fn == "" {
		fmt.Print(bytecode.Disassemble(p))
		return nil
	}
	fi := p.FunctionIndex(*fn)
	if fi < 0 {
		return fmt.Errorf("no function named %q", *fn)
	}
	fmt.Print(bytecode.DisassembleFunction(p, fi))
	return nil
}

// readProgram decodes a .kbc file, or assembles a .yaml IR file in memory.
func readProgram(path string, cfg vm.Config) (*bytecode.Program, error) {
	if isIR(path) {
		prog, err := ir.LoadYAML(path)
		if err != nil {
			return nil, err
		}
		return compiler.Encode(prog)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return bytecode.ReadProgram(f, cfg.DecodeLimits())
}

func isIR(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
