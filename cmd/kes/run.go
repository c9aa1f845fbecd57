package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"

	"github.com/chazu/kestrel/compiler"
	"github.com/chazu/kestrel/manifest"
	"github.com/chazu/kestrel/pkg/ir"
	"github.com/chazu/kestrel/store"
	"github.com/chazu/kestrel/vm"
)

// handleRunCommand processes `kes run`. Flags override the manifest.
func handleRunCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	entry := fs.String("entry", "", "Entry function (default: main)")
	untrusted := fs.Bool("untrusted", false, "Apply the untrusted limit profile")
	maxSteps := fs.Int64("max-steps", -1, "Instruction budget, 0 for unlimited")
	maxDepth := fs.Int("max-call-depth", -1, "Maximum call depth")
	timeout := fs.Duration("timeout", 0, "Abort the run after this long")
	storePath := fs.String("store", "", "Program store for -hash (default: manifest or ~/.kestrel)")
	hash := fs.String("hash", "", "Run a stored program by hash")
	printResult := fs.Bool("r", false, "Print the entry function's return value")
	fs.Parse(args)

	cfg := vmConfig(m, *untrusted)
	if *entry != "" {
		cfg.Entry = *entry
	}
	if *maxSteps >= 0 {
		cfg.Limits.MaxSteps = *maxSteps
	}
	if *maxDepth >= 0 {
		cfg.Limits.MaxCallDepth = *maxDepth
	}

	var (
		data []byte
		err  error
	)
	switch {
	case *hash != "" && fs.NArg() == 0:
		data, err = loadStored(*storePath, *hash, m)
	case *hash == "" && fs.NArg() == 1:
		data, err = loadFile(fs.Arg(0))
	default:
		return errors.New("usage: kes run [options] <prog.kbc|prog.yaml> | kes run -hash H")
	}
	if err != nil {
		return err
	}

	mod, err := vm.Load(data, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	exec := vm.NewExecutor(mod, vm.WithOutput(os.Stdout))
	result, err := exec.Run(ctx)
	log.Infof("run %s: %d steps in %s", exec.RunID(), exec.Steps(), time.Since(start))
	if err != nil {
		return err
	}
	if *printResult {
		color.New(color.FgGreen).Printf("=> %s\n", vm.Format(result))
	}
	return nil
}

func loadFile(path string) ([]byte, error) {
	if !isIR(path) {
		return os.ReadFile(path)
	}
	prog, err := ir.LoadYAML(path)
	if err != nil {
		return nil, err
	}
	return compiler.Assemble(prog)
}

func loadStored(path, hash string, m *manifest.Manifest) ([]byte, error) {
	st, err := openStore(path, m)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.Get(hash)
}

// openStore opens the store named by path, the manifest, or the default
// location, in that order.
func openStore(path string, m *manifest.Manifest) (*store.Store, error) {
	if path == "" {
		path = m.StorePath()
	}
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}
