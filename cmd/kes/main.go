// Kestrel CLI - assemble, verify, inspect and run KSBC programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/kestrel/manifest"
	"github.com/chazu/kestrel/vm"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1 // usage, load or verification failure
	exitFatal    = 2 // a runtime limit aborted the run
	exitUncaught = 3
)

var (
	log        = commonlog.GetLogger("kestrel.cli")
	errorColor = color.New(color.FgRed, color.Bold)
)

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*v++
	}
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: kes [-v] <command> [options] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  asm <prog.yaml> [-o out.kbc]      Assemble an IR program\n")
	fmt.Fprintf(os.Stderr, "  verify <prog.kbc>                 Decode and verify without running\n")
	fmt.Fprintf(os.Stderr, "  dis <prog.kbc>                    Print a disassembly listing\n")
	fmt.Fprintf(os.Stderr, "  run [options] <prog.kbc|.yaml>    Run a program\n")
	fmt.Fprintf(os.Stderr, "  store put|get|list|rm ...         Manage the local program store\n")
	fmt.Fprintf(os.Stderr, "  serve [-port N]                   Start the execution service\n")
	fmt.Fprintf(os.Stderr, "\nSettings are read from the nearest %s.\n", manifest.FileName)
}

func main() {
	var v verbosity
	flag.Var(&v, "v", "Verbose output (repeat for more)")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Usage = usage
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}
	commonlog.Configure(int(v), nil)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(exitError)
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fail(err)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "asm":
		err = handleAsmCommand(rest)
	case "verify":
		err = handleVerifyCommand(rest, m)
	case "dis":
		err = handleDisCommand(rest, m)
	case "run":
		err = handleRunCommand(rest, m)
	case "store":
		err = handleStoreCommand(rest, m)
	case "serve":
		err = handleServeCommand(rest, m)
	case "help":
		usage()
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fail(err)
	}
}

// vmConfig builds the executor configuration from the manifest. untrusted
// swaps in the untrusted limit profile; explicit manifest limits, the entry,
// verification switches and exception parents still apply.
func vmConfig(m *manifest.Manifest, untrusted bool) vm.Config {
	if !untrusted {
		return m.VMConfig()
	}
	if m == nil {
		return vm.UntrustedConfig()
	}
	hardened := *m
	hardened.Limits.Untrusted = true
	return hardened.VMConfig()
}

// fail prints err in red and exits with the code matching its kind.
func fail(err error) {
	errorColor.Fprintf(os.Stderr, "Error: ")
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var fe *vm.RuntimeFatalError
	var ue *vm.UncaughtException
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &fe):
		return exitFatal
	case errors.As(err, &ue):
		return exitUncaught
	default:
		return exitError
	}
}
