// Package dispatcher wires the pool, scheduler, health monitor, rate
// limiter, and pipeline into the single running process spec.md
// describes, the way the teacher's pool.go composes its own
// subcomponents into one Pool value.
package dispatcher

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/dispatcher/internal/logging"
	"github.com/cuemby/dispatcher/internal/pipeline"
	"github.com/cuemby/dispatcher/internal/rpcapi"
)

const version = "0.1.0"

// ProverServer implements rpcapi.ProverServiceServer for a single
// configured ProofKind: the RPC matching the dispatcher's declared kind
// is forwarded through the Pipeline; the other two are rejected, since a
// dispatcher instance is fixed to one proof kind for its lifetime
// (spec.md §3's `proxy.kind`).
type ProverServer struct {
	kind     rpcapi.ProofKind
	pipeline *pipeline.Pipeline
	log      *logging.Logger
}

// NewProverServer constructs a ProverServer bound to kind, forwarding
// matching requests through pl.
func NewProverServer(kind rpcapi.ProofKind, pl *pipeline.Pipeline, log *logging.Logger) *ProverServer {
	return &ProverServer{kind: kind, pipeline: pl, log: log.WithComponent("prover_server")}
}

func clientAddrFromContext(ctx context.Context) string {
	if p, ok := peerFromContext(ctx); ok {
		return p
	}
	return "unknown"
}

func (s *ProverServer) ProveTransaction(ctx context.Context, req *rpcapi.TxWitness) (*rpcapi.TxProof, error) {
	if s.kind != rpcapi.KindTransaction {
		return nil, status.Errorf(codes.Unimplemented, "this dispatcher is configured for %s proofs, not transaction proofs", s.kind)
	}
	ctx = logging.WithTraceID(ctx)
	s.log.InfoContext(ctx, "forwarding transaction proof request")
	resp, err := s.pipeline.Execute(ctx, clientAddrFromContext(ctx), func(ctx context.Context, conn grpc.ClientConnInterface) (interface{}, error) {
		return rpcapi.NewProverServiceClient(conn).ProveTransaction(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*rpcapi.TxProof), nil
}

func (s *ProverServer) ProveBatch(ctx context.Context, req *rpcapi.ProposedBatch) (*rpcapi.BatchProof, error) {
	if s.kind != rpcapi.KindBatch {
		return nil, status.Errorf(codes.Unimplemented, "this dispatcher is configured for %s proofs, not batch proofs", s.kind)
	}
	ctx = logging.WithTraceID(ctx)
	s.log.InfoContext(ctx, "forwarding batch proof request")
	resp, err := s.pipeline.Execute(ctx, clientAddrFromContext(ctx), func(ctx context.Context, conn grpc.ClientConnInterface) (interface{}, error) {
		return rpcapi.NewProverServiceClient(conn).ProveBatch(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*rpcapi.BatchProof), nil
}

func (s *ProverServer) ProveBlock(ctx context.Context, req *rpcapi.ProposedBlock) (*rpcapi.BlockProof, error) {
	if s.kind != rpcapi.KindBlock {
		return nil, status.Errorf(codes.Unimplemented, "this dispatcher is configured for %s proofs, not block proofs", s.kind)
	}
	ctx = logging.WithTraceID(ctx)
	s.log.InfoContext(ctx, "forwarding block proof request")
	resp, err := s.pipeline.Execute(ctx, clientAddrFromContext(ctx), func(ctx context.Context, conn grpc.ClientConnInterface) (interface{}, error) {
		return rpcapi.NewProverServiceClient(conn).ProveBlock(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*rpcapi.BlockProof), nil
}

func (s *ProverServer) Status(ctx context.Context, _ *rpcapi.StatusRequest) (*rpcapi.StatusResponse, error) {
	return &rpcapi.StatusResponse{Ready: true, ProverKind: s.kind, Version: version}, nil
}
