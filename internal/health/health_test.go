package health

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/dispatcher/internal/logging"
	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/rpcapi"
	"github.com/cuemby/dispatcher/internal/scheduler"
)

type fakeHealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	status grpc_health_v1.HealthCheckResponse_ServingStatus
}

func (f *fakeHealthServer) Check(context.Context, *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: f.status}, nil
}

type fakeProverServer struct {
	ready   bool
	kind    rpcapi.ProofKind
	version string
}

func (f *fakeProverServer) ProveTransaction(context.Context, *rpcapi.TxWitness) (*rpcapi.TxProof, error) {
	return &rpcapi.TxProof{}, nil
}
func (f *fakeProverServer) ProveBatch(context.Context, *rpcapi.ProposedBatch) (*rpcapi.BatchProof, error) {
	return &rpcapi.BatchProof{}, nil
}
func (f *fakeProverServer) ProveBlock(context.Context, *rpcapi.ProposedBlock) (*rpcapi.BlockProof, error) {
	return &rpcapi.BlockProof{}, nil
}
func (f *fakeProverServer) Status(context.Context, *rpcapi.StatusRequest) (*rpcapi.StatusResponse, error) {
	return &rpcapi.StatusResponse{Ready: f.ready, ProverKind: f.kind, Version: f.version}, nil
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpcapi.DialOption(),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	return conn
}

func TestProbeHealthyWorker(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, &fakeHealthServer{status: grpc_health_v1.HealthCheckResponse_SERVING})
	rpcapi.RegisterProverServiceServer(srv, &fakeProverServer{ready: true, kind: rpcapi.KindTransaction, version: "v2"})
	go srv.Serve(lis)
	defer srv.Stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()

	p := pool.New()
	w, _ := p.Insert("unused")
	_ = w

	s := scheduler.New(p, 0)
	m := New(p, s, rpcapi.KindTransaction, time.Second, time.Second, logging.New(logging.Config{Level: "error", Format: "text"}))

	ok, kind, version, reason := m.probeConn(context.Background(), conn)
	if !ok {
		t.Fatalf("expected probe to succeed, got reason %q", reason)
	}
	if kind != rpcapi.KindTransaction || version != "v2" {
		t.Fatalf("unexpected probe result: kind=%s version=%s", kind, version)
	}
}

func TestProbeUnhealthyWorker(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, &fakeHealthServer{status: grpc_health_v1.HealthCheckResponse_NOT_SERVING})
	rpcapi.RegisterProverServiceServer(srv, &fakeProverServer{ready: true, kind: rpcapi.KindTransaction, version: "v2"})
	go srv.Serve(lis)
	defer srv.Stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()

	p := pool.New()
	s := scheduler.New(p, 0)
	m := New(p, s, rpcapi.KindTransaction, time.Second, time.Second, logging.New(logging.Config{Level: "error", Format: "text"}))

	ok, _, _, reason := m.probeConn(context.Background(), conn)
	if ok {
		t.Fatalf("expected probe to fail")
	}
	if reason == "" {
		t.Fatalf("expected a failure reason")
	}
}
