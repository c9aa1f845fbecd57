// Package server exposes program verification and execution over Connect.
package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/kestrel/store"
	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/dist"
)

var log = commonlog.GetLogger("kestrel.server")

// DefaultWorkers is the runner pool size when none is configured.
const DefaultWorkers = 4

// Server runs submitted programs on a bounded pool of workers.
type Server struct {
	runner *Runner
	peers  *dist.PeerStore
	exec   *ExecService
	mux    *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	policy       *dist.CapabilityPolicy
	store        *store.Store
	workers      int
	banThreshold int
	vmConfig     vm.Config
}

// WithPolicy sets the capability policy applied to submitted chunks.
// If not set, a permissive policy (allow all) is used.
func WithPolicy(policy *dist.CapabilityPolicy) ServerOption {
	return func(c *serverConfig) { c.policy = policy }
}

// WithStore caches accepted programs and lets clients run them by hash.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithWorkers sets the number of programs that may run at once.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithBanThreshold sets how many hash mismatches ban a peer.
func WithBanThreshold(n int) ServerOption {
	return func(c *serverConfig) { c.banThreshold = n }
}

// WithVMConfig replaces the untrusted configuration programs are loaded
// with.
func WithVMConfig(cfg vm.Config) ServerOption {
	return func(c *serverConfig) { c.vmConfig = cfg }
}

// New creates a Server and starts its runner pool.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{
		policy:   dist.NewPermissivePolicy(),
		workers:  DefaultWorkers,
		vmConfig: vm.UntrustedConfig(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		runner: NewRunner(cfg.workers),
		peers:  dist.NewPeerStore(cfg.banThreshold),
		mux:    http.NewServeMux(),
	}
	s.exec = NewExecService(s.runner, s.peers, cfg.policy, cfg.store, cfg.vmConfig)

	codec := connect.WithCodec(cborCodec{})
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.exec.Run, codec))
	s.mux.Handle(VerifyProcedure, connect.NewUnaryHandler(VerifyProcedure, s.exec.Verify, codec))
	return s
}

// Handler returns the HTTP handler serving the service procedures.
func (s *Server) Handler() http.Handler { return s.mux }

// Peers returns the reputation store for submitting peers.
func (s *Server) Peers() *dist.PeerStore { return s.peers }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("kestrel exec service listening on %s", addr)
	log.Noticef("  run:    http://%s%s", addr, RunProcedure)
	log.Noticef("  verify: http://%s%s", addr, VerifyProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the runner pool.
func (s *Server) Stop() {
	s.runner.Stop()
}
