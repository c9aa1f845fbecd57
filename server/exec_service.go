package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/kestrel/pkg/bytecode"
	"github.com/chazu/kestrel/store"
	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/dist"
)

// ExecService loads, verifies and runs programs submitted by peers.
type ExecService struct {
	runner *Runner
	peers  *dist.PeerStore
	policy *dist.CapabilityPolicy
	store  *store.Store // optional
	cfg    vm.Config
}

// NewExecService creates an ExecService. st may be nil.
func NewExecService(
	runner *Runner,
	peers *dist.PeerStore,
	policy *dist.CapabilityPolicy,
	st *store.Store,
	cfg vm.Config,
) *ExecService {
	return &ExecService{
		runner: runner,
		peers:  peers,
		policy: policy,
		store:  st,
		cfg:    cfg,
	}
}

// Run verifies the submitted chunk against its hash and the capability
// policy, then loads and executes it on the runner pool.
func (s *ExecService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	peerID := peerOf(req.Header().Get(PeerHeader), req.Peer().Addr)

	if s.peers.IsBanned(peerID) {
		log.Warningf("rejecting run from banned peer %s", peerID)
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("peer %s is banned", peerID))
	}

	chunk, err := s.resolveChunk(msg)
	if err != nil {
		return nil, err
	}
	if err := dist.VerifyChunk(chunk); err != nil {
		s.peers.RecordHashMismatch(peerID)
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := s.policy.Check(chunk.Manifest()); err != nil {
		s.peers.RecordRejected(peerID)
		return nil, connect.NewError(connect.CodePermissionDenied, err)
	}

	hash := dist.HashString(chunk.Hash)
	resp := &RunResponse{Hash: hash}

	cfg := s.cfg
	if msg.Entry != "" {
		cfg.Entry = msg.Entry
	}
	m, err := vm.Load(chunk.Program, cfg)
	if err != nil {
		if vs := vm.Violations(err); len(vs) > 0 {
			rules := make([]string, len(vs))
			for i, v := range vs {
				rules[i] = string(v.Rule)
			}
			s.peers.RecordVerifyFailure(peerID, rules)
		} else {
			s.peers.RecordRejected(peerID)
		}
		resp.ErrorKind, resp.Message = loadErrorKind(err), err.Error()
		return connect.NewResponse(resp), nil
	}
	if err := dist.CheckDeclared(m.Program(), chunk.Capabilities); err != nil {
		s.peers.RecordRejected(peerID)
		return nil, connect.NewError(connect.CodePermissionDenied, err)
	}

	if s.store != nil && msg.Chunk != nil {
		if _, err := s.store.Put(chunk.Name, chunk.Program); err != nil {
			log.Errorf("caching %s: %s", hash, err)
		}
	}

	var (
		out    bytes.Buffer
		result vm.Value
		runErr error
		exec   = vm.NewExecutor(m, vm.WithOutput(&out))
	)
	resp.RunID = exec.RunID()
	log.Infof("run %s: program %s from peer %s", resp.RunID, hash, peerID)

	if err := s.runner.Do(ctx, func() {
		result, runErr = exec.Run(ctx)
	}); err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	s.peers.RecordAccepted(peerID)

	resp.Output = out.String()
	resp.Steps = exec.Steps()
	if runErr != nil {
		resp.ErrorKind, resp.Message = runErrorKind(runErr), runErr.Error()
		if resp.ErrorKind == ErrorKindFatal {
			s.peers.RecordAborted(peerID)
		}
	} else {
		resp.Result = vm.Format(result)
	}
	return connect.NewResponse(resp), nil
}

// resolveChunk returns the submitted chunk, or builds one from the store
// when the request names a hash.
func (s *ExecService) resolveChunk(msg *RunRequest) (*dist.Chunk, error) {
	switch {
	case msg.Chunk != nil && msg.Hash != "":
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("set either chunk or hash, not both"))
	case msg.Chunk != nil:
		return msg.Chunk, nil
	case msg.Hash == "":
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("missing chunk or hash"))
	case s.store == nil:
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("server has no program store"))
	}

	data, err := s.store.Get(msg.Hash)
	if errors.Is(err, store.ErrProgramNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	// Stored programs declare exactly what they use.
	p, err := bytecode.Decode(data, s.cfg.DecodeLimits())
	if err != nil {
		return nil, connect.NewError(connect.CodeDataLoss, err)
	}
	return dist.NewChunk("", data, dist.RequiredCapabilities(p)), nil
}

// Verify decodes and verifies a program without running it.
func (s *ExecService) Verify(
	ctx context.Context,
	req *connect.Request[VerifyRequest],
) (*connect.Response[VerifyResponse], error) {
	p, err := bytecode.Decode(req.Msg.Program, s.cfg.DecodeLimits())
	if err != nil {
		return connect.NewResponse(&VerifyResponse{
			ErrorKind:  ErrorKindLoad,
			Violations: []string{err.Error()},
		}), nil
	}

	err = vm.Verify(p, s.cfg)
	if err == nil {
		return connect.NewResponse(&VerifyResponse{OK: true}), nil
	}
	resp := &VerifyResponse{ErrorKind: ErrorKindVerify}
	for _, v := range vm.Violations(err) {
		resp.Violations = append(resp.Violations, v.Error())
	}
	return connect.NewResponse(resp), nil
}

func loadErrorKind(err error) string {
	if len(vm.Violations(err)) > 0 {
		return ErrorKindVerify
	}
	return ErrorKindLoad
}

func runErrorKind(err error) string {
	var ue *vm.UncaughtException
	if errors.As(err, &ue) {
		return ErrorKindUncaught
	}
	return ErrorKindFatal
}

func peerOf(header, addr string) string {
	if header != "" {
		return header
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}
