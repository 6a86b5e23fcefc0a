package pipeline

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/dispatcher/internal/logging"
	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/ratelimit"
	"github.com/cuemby/dispatcher/internal/rpcapi"
	"github.com/cuemby/dispatcher/internal/scheduler"
)

type scriptedProver struct {
	rpcapi.ProverServiceServer
	results []error
	calls   int
}

func (s *scriptedProver) ProveTransaction(ctx context.Context, req *rpcapi.TxWitness) (*rpcapi.TxProof, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) && s.results[i] != nil {
		return nil, s.results[i]
	}
	return &rpcapi.TxProof{Payload: []byte("proof")}, nil
}

func startScriptedWorker(t *testing.T, results []error) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(rpcapi.ServerOption())
	rpcapi.RegisterProverServiceServer(srv, &scriptedProver{results: results})
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpcapi.DialOption(),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, func() { conn.Close(); srv.Stop() }
}

func forwardTx(req *rpcapi.TxWitness) ForwardFunc {
	return func(ctx context.Context, conn grpc.ClientConnInterface) (interface{}, error) {
		return rpcapi.NewProverServiceClient(conn).ProveTransaction(ctx, req)
	}
}

func newTestPipeline(t *testing.T, maxRetries int) (*Pipeline, *pool.Pool) {
	p := pool.New()
	s := scheduler.New(p, 0)
	limiter := ratelimit.New(1000, 1000)
	log := logging.New(logging.Config{Level: "error", Format: "text"})
	return New(s, limiter, rpcapi.KindTransaction, time.Second, time.Second, maxRetries, log), p
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	conn, cleanup := startScriptedWorker(t, nil)
	defer cleanup()

	pl, p := newTestPipeline(t, 2)
	w, _ := p.Insert("worker-1")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	w.SetTestConn(conn)

	resp, err := pl.Execute(context.Background(), "client-a", forwardTx(&rpcapi.TxWitness{Payload: []byte("w")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.(*rpcapi.TxProof) == nil {
		t.Fatalf("expected a proof response")
	}
}

func TestExecuteRetriesOnAlternateWorkerAfterTransportFailure(t *testing.T) {
	// A transport failure demotes the worker to Unhealthy until the next
	// health probe; the retry must land on a different, still-Idle
	// worker rather than the one that just failed.
	failingConn, cleanupFailing := startScriptedWorker(t, []error{status.Error(codes.Unavailable, "boom")})
	defer cleanupFailing()
	healthyConn, cleanupHealthy := startScriptedWorker(t, nil)
	defer cleanupHealthy()

	pl, p := newTestPipeline(t, 2)
	w1, _ := p.Insert("worker-1")
	w2, _ := p.Insert("worker-2")
	p.ApplyProbeResult(w1.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	p.ApplyProbeResult(w2.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	w1.SetTestConn(failingConn)
	w2.SetTestConn(healthyConn)

	_, err := pl.Execute(context.Background(), "client-a", forwardTx(&rpcapi.TxWitness{}))
	if err != nil {
		t.Fatalf("expected eventual success after retry on alternate worker, got %v", err)
	}

	snap := p.Snapshot()
	for _, v := range snap {
		if v.Address == w1.Address() && v.State != pool.StateUnhealthy {
			t.Fatalf("expected failed worker to be marked Unhealthy, got %+v", v)
		}
		if v.Address == w2.Address() && v.State != pool.StateIdle {
			t.Fatalf("expected successful worker to return to Idle, got %+v", v)
		}
	}
}

func TestExecutePassesThroughApplicationError(t *testing.T) {
	conn, cleanup := startScriptedWorker(t, []error{status.Error(codes.InvalidArgument, "bad proof input")})
	defer cleanup()

	pl, p := newTestPipeline(t, 2)
	w, _ := p.Insert("worker-1")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	w.SetTestConn(conn)

	_, err := pl.Execute(context.Background(), "client-a", forwardTx(&rpcapi.TxWitness{}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected application error to pass through verbatim, got %v", err)
	}

	// The worker itself is fine after an application error: it must be
	// Idle again, not penalized.
	snap := p.Snapshot()
	if snap[0].State != pool.StateIdle {
		t.Fatalf("expected worker to remain Idle after application error, got %+v", snap[0])
	}
}

func TestExecuteFailsFastOnRateLimit(t *testing.T) {
	p := pool.New()
	s := scheduler.New(p, 0)
	limiter := ratelimit.New(0, 0)
	log := logging.New(logging.Config{Level: "error", Format: "text"})
	pl := New(s, limiter, rpcapi.KindTransaction, time.Second, time.Second, 0, log)

	_, err := pl.Execute(context.Background(), "client-a", forwardTx(&rpcapi.TxWitness{}))
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestExecuteReturnsCanceledWhenClientCancelsWhileParked(t *testing.T) {
	pl, p := newTestPipeline(t, 0)
	w, _ := p.Insert("worker-1")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	// Occupy the only compatible worker so the next acquire parks.
	if occupied, _ := p.TryAcquireAny(rpcapi.KindTransaction); occupied == nil {
		t.Fatalf("setup: expected to occupy the worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, execErr := pl.Execute(ctx, "client-a", forwardTx(&rpcapi.TxWitness{}))
	if status.Code(execErr) != codes.Canceled {
		t.Fatalf("expected Canceled for a client-canceled parked acquire, got %v", execErr)
	}
}

func TestExecuteRecoversPanicInForwardPath(t *testing.T) {
	conn, cleanup := startScriptedWorker(t, nil)
	defer cleanup()

	pl, p := newTestPipeline(t, 0)
	w, _ := p.Insert("worker-1")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	w.SetTestConn(conn)

	panicking := func(ctx context.Context, conn grpc.ClientConnInterface) (interface{}, error) {
		panic("boom")
	}

	_, err := pl.Execute(context.Background(), "client-a", panicking)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected panic to surface as Internal, got %v", err)
	}

	snap := p.Snapshot()
	if snap[0].State != pool.StateUnhealthy {
		t.Fatalf("expected worker to be released as a transport failure after a panic, got %+v", snap[0])
	}
}

func TestExecuteReturnsUnavailableWhenNoCompatibleWorkers(t *testing.T) {
	pl, _ := newTestPipeline(t, 0)

	_, err := pl.Execute(context.Background(), "client-a", forwardTx(&rpcapi.TxWitness{}))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}
