// Package health runs the periodic worker probe loop spec.md §4.2
// describes: each worker is polled on an interval with the standard gRPC
// health protocol plus the dispatcher's own Status RPC, and the combined
// result is fed into the pool's state machine. It never removes workers
// and never demotes one that is currently Busy — pool.Worker defers
// that to release, per spec.md §4.2.5.
//
// Grounded on the teacher's pool.go health-check ticker
// (pkg/pyproc/pool.go's Health/monitor loop), retargeted from "ping a
// child process over its existing transport" to "probe a remote worker
// over a dedicated dial".
package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	grpcproto "google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/dispatcher/internal/logging"
	"github.com/cuemby/dispatcher/internal/metrics"
	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/rpcapi"
	"github.com/cuemby/dispatcher/internal/scheduler"
)

// protoCallOption forces the standard grpc.health.v1.Health RPC onto the
// real proto wire codec, overriding the JSON codec the dispatcher
// otherwise forces by default on worker connections (rpcapi.DialOption).
// A call-site CallOption always wins over a connection's default, so this
// is the only place proto encoding appears on the wire.
func protoCallOption() grpc.CallOption {
	return grpc.ForceCodec(encoding.GetCodec(grpcproto.Name))
}

// Monitor periodically probes every worker in a Pool.
type Monitor struct {
	pool      *pool.Pool
	scheduler *scheduler.Scheduler
	wantKind  rpcapi.ProofKind
	interval  time.Duration
	dialTO    time.Duration
	log       *logging.Logger

	cancel context.CancelFunc
}

// New constructs a Monitor. wantKind is the proof kind this dispatcher
// instance was configured to forward, used to detect workers that declare
// an unsupported kind.
func New(p *pool.Pool, s *scheduler.Scheduler, wantKind rpcapi.ProofKind, interval, dialTimeout time.Duration, log *logging.Logger) *Monitor {
	return &Monitor{
		pool:      p,
		scheduler: s,
		wantKind:  wantKind,
		interval:  interval,
		dialTO:    dialTimeout,
		log:       log.WithComponent("health"),
	}
}

// Start runs the probe loop in a background goroutine until Stop is
// called.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop halts the probe loop. It does not close worker connections; the
// pool owns those.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	addrs := m.pool.Addresses()
	for _, addr := range addrs {
		addr := addr
		go m.probeOne(ctx, addr)
	}
	m.recordGauges()
}

// recordGauges publishes the pool's current shape to Prometheus. Run once
// per tick rather than per-probe since individual probes race with each
// other and a mid-tick snapshot is good enough for a gauge.
func (m *Monitor) recordGauges() {
	snap := m.pool.Snapshot()
	metrics.WorkersTotal.Set(float64(len(snap)))
	for _, v := range snap {
		for _, st := range []pool.State{pool.StateIdle, pool.StateBusy, pool.StateUnhealthy} {
			val := 0.0
			if v.State == st {
				val = 1.0
			}
			metrics.WorkerState.WithLabelValues(v.Address, st.String()).Set(val)
		}
	}
}

func (m *Monitor) probeOne(ctx context.Context, addr string) {
	w, ok := m.pool.Get(addr)
	if !ok {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.dialTO)
	defer cancel()

	ok2, declaredKind, version, reason := m.probe(reqCtx, w)
	m.pool.ApplyProbeResult(addr, ok2, declaredKind, version, string(m.wantKind), reason)
	m.scheduler.NotifyPoolChanged()

	if !ok2 {
		m.log.WarnContext(ctx, "worker probe failed", "worker_address", addr, "reason", reason)
	}
}

func (m *Monitor) probe(ctx context.Context, w *pool.Worker) (ok bool, kind rpcapi.ProofKind, version, reason string) {
	conn, err := w.Conn(m.dialTO)
	if err != nil {
		return false, "", "", fmt.Sprintf("dial failed: %v", err)
	}
	return m.probeConn(ctx, conn)
}

// probeConn runs the health-check-then-status sequence over an already
// established connection, split out from probe so it can be exercised
// directly against an in-process bufconn server in tests.
func (m *Monitor) probeConn(ctx context.Context, conn grpc.ClientConnInterface) (ok bool, kind rpcapi.ProofKind, version, reason string) {
	healthClient := grpc_health_v1.NewHealthClient(conn)
	hresp, err := healthClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{}, protoCallOption())
	if err != nil {
		return false, "", "", fmt.Sprintf("health check failed: %v", err)
	}
	if hresp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return false, "", "", fmt.Sprintf("health status %s", hresp.Status)
	}

	statusClient := rpcapi.NewProverServiceClient(conn)
	sresp, err := statusClient.Status(ctx, &rpcapi.StatusRequest{})
	if err != nil {
		return false, "", "", fmt.Sprintf("status rpc failed: %v", err)
	}
	if !sresp.Ready {
		return false, sresp.ProverKind, sresp.Version, "worker reported not ready"
	}

	return true, sresp.ProverKind, sresp.Version, ""
}
