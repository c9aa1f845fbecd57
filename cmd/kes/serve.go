package main

import (
	"flag"
	"fmt"

	"github.com/chazu/kestrel/manifest"
	"github.com/chazu/kestrel/server"
	"github.com/chazu/kestrel/store"
)

// handleServeCommand processes `kes serve`. The server always runs
// submitted programs under the untrusted profile; manifest limits tighten
// or relax individual values on top of it.
func handleServeCommand(args []string, m *manifest.Manifest) error {
	port := manifest.DefaultPort
	workers := manifest.DefaultWorkers
	banThreshold := 0
	if m != nil {
		port, workers, banThreshold = m.Server.Port, m.Server.Workers, m.Server.BanThreshold
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.IntVar(&port, "port", port, "Listen port")
	fs.IntVar(&workers, "workers", workers, "Concurrent program runs")
	storePath := fs.String("store", m.StorePath(), "Cache accepted programs in this store")
	fs.Parse(args)

	cfg := vmConfig(m, true)

	opts := []server.ServerOption{
		server.WithWorkers(workers),
		server.WithPolicy(m.Policy()),
		server.WithVMConfig(cfg),
	}
	if banThreshold > 0 {
		opts = append(opts, server.WithBanThreshold(banThreshold))
	}
	if *storePath != "" {
		st, err := store.Open(*storePath)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	}

	srv := server.New(opts...)
	defer srv.Stop()
	return srv.ListenAndServe(fmt.Sprintf(":%d", port))
}
