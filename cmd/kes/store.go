package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chazu/kestrel/manifest"
)

// handleStoreCommand processes the `kes store` subcommand.
// Usage:
//
//	kes store put <prog.kbc|prog.yaml> [-name N]   Add a program, print its hash
//	kes store get <hash> [-o out.kbc]              Write a stored program
//	kes store list                                 List stored programs
//	kes store rm <hash>                            Remove a stored program
func handleStoreCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	path := fs.String("db", "", "Store database (default: manifest or ~/.kestrel/programs.db)")
	name := fs.String("name", "", "Program name for put")
	out := fs.String("o", "", "Output file for get (default: stdout)")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("usage: kes store [-db path] put|get|list|rm ...")
	}
	st, err := openStore(*path, m)
	if err != nil {
		return err
	}
	defer st.Close()

	sub, rest := fs.Arg(0), fs.Args()[1:]
	switch sub {
	case "put":
		if len(rest) != 1 {
			return errors.New("usage: kes store put <prog.kbc|prog.yaml>")
		}
		data, err := loadFile(rest[0])
		if err != nil {
			return err
		}
		if *name == "" {
			*name = rest[0]
		}
		hash, err := st.Put(*name, data)
		if err != nil {
			return err
		}
		fmt.Println(hash)
	case "get":
		if len(rest) != 1 {
			return errors.New("usage: kes store get <hash>")
		}
		data, err := st.Get(rest[0])
		if err != nil {
			return err
		}
		if *out == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(*out, data, 0o644)
	case "list":
		entries, err := st.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HASH\tNAME\tSIZE\tCREATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Hash[:12], e.Name, e.Size, e.Created.Format(time.RFC3339))
		}
		return tw.Flush()
	case "rm":
		if len(rest) != 1 {
			return errors.New("usage: kes store rm <hash>")
		}
		return st.Delete(rest[0])
	default:
		return fmt.Errorf("unknown store subcommand %q", sub)
	}
	return nil
}
