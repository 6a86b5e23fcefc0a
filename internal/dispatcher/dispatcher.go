package dispatcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/cuemby/dispatcher/internal/config"
	"github.com/cuemby/dispatcher/internal/control"
	healthmon "github.com/cuemby/dispatcher/internal/health"
	"github.com/cuemby/dispatcher/internal/logging"
	"github.com/cuemby/dispatcher/internal/metrics"
	"github.com/cuemby/dispatcher/internal/pipeline"
	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/ratelimit"
	"github.com/cuemby/dispatcher/internal/rpcapi"
	"github.com/cuemby/dispatcher/internal/scheduler"
	"github.com/cuemby/dispatcher/internal/status"
)

// Dispatcher owns every long-running component of one proving-service
// dispatcher process: the public proving endpoint, the loopback control
// endpoint, the health monitor, and the optional status/metrics HTTP
// servers.
type Dispatcher struct {
	cfg *config.Config
	log *logging.Logger

	pool      *pool.Pool
	scheduler *scheduler.Scheduler
	limiter   *ratelimit.Limiter
	monitor   *healthmon.Monitor

	proverServer    *grpc.Server
	controlServer   *grpc.Server
	statusServer    *http.Server
	metricsServer   *http.Server
	stopRateLimitGC func()
}

// New assembles a Dispatcher from cfg. It does not start listening; call
// Serve for that.
func New(cfg *config.Config, log *logging.Logger) (*Dispatcher, error) {
	kind, err := cfg.ProofKind()
	if err != nil {
		return nil, err
	}

	p := pool.New()
	for _, addr := range cfg.Workers.Initial {
		p.Insert(addr)
	}

	sched := scheduler.New(p, cfg.Scheduler.BusyPenalty())
	limiter := ratelimit.New(cfg.RateLimit.MaxRequestsPerSecond, cfg.RateLimit.Burst)
	monitor := healthmon.New(p, sched, kind, cfg.Timeouts.HealthCheckInterval(), cfg.Timeouts.ConnectionTimeout(), log)

	pl := pipeline.New(sched, limiter, kind, cfg.Timeouts.RequestTimeout(), cfg.Timeouts.ConnectionTimeout(), cfg.Retry.MaxRetriesPerRequest, log)
	proverSrv := NewProverServer(kind, pl, log)

	// The dispatcher's own public endpoint deliberately does not register
	// grpc.health.v1.Health: that server forces the JSON codec
	// (rpcapi.ServerOption) for every method, which would make the
	// standard health RPC unreachable by ordinary proto-speaking health
	// probes. Liveness/readiness for the dispatcher itself is the
	// Status RPC and the /status HTTP endpoint; grpc.health.v1.Health is
	// reserved for probing workers, which genuinely speak it natively.
	proverServer := grpc.NewServer(rpcapi.ServerOption())
	rpcapi.RegisterProverServiceServer(proverServer, proverSrv)

	controlSvc := control.New(p, sched, cfg.Control.BestEffortRemove, log)
	controlServer := control.NewServer(controlSvc)

	d := &Dispatcher{
		cfg:       cfg,
		log:       log,
		pool:      p,
		scheduler: sched,
		limiter:   limiter,
		monitor:   monitor,

		proverServer:  proverServer,
		controlServer: controlServer,
	}

	if cfg.Listen.StatusPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/status", status.Handler(p, kind, version))
		d.statusServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Listen.Host, cfg.Listen.StatusPort),
			Handler: mux,
		}
	}

	if cfg.Listen.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		d.metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Listen.Host, cfg.Listen.MetricsPort),
			Handler: mux,
		}
	}

	return d, nil
}

// Serve starts every configured listener and blocks until ctx is
// canceled, then drains in-flight work for up to cfg.Shutdown.GracePeriod
// before returning.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.monitor.Start()
	d.stopRateLimitGC = d.limiter.StartCleanup(time.Minute, 10*time.Minute)

	errCh := make(chan error, 4)

	proverLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", d.cfg.Listen.Host, d.cfg.Listen.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on proving port: %w", err)
	}
	go func() {
		d.log.InfoContext(ctx, "proving endpoint listening", "address", proverLis.Addr().String())
		errCh <- d.proverServer.Serve(proverLis)
	}()

	controlLis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", d.cfg.Listen.ControlPort))
	if err != nil {
		return fmt.Errorf("failed to listen on control port: %w", err)
	}
	go func() {
		d.log.InfoContext(ctx, "control endpoint listening", "address", controlLis.Addr().String())
		errCh <- d.controlServer.Serve(controlLis)
	}()

	if d.statusServer != nil {
		go func() {
			d.log.InfoContext(ctx, "status endpoint listening", "address", d.statusServer.Addr)
			if err := d.statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	if d.metricsServer != nil {
		go func() {
			d.log.InfoContext(ctx, "metrics endpoint listening", "address", d.metricsServer.Addr)
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		return d.shutdown()
	case err := <-errCh:
		_ = d.shutdown()
		return err
	}
}

func (d *Dispatcher) shutdown() error {
	d.log.Info("shutting down, draining in-flight requests", "grace_period", d.cfg.Shutdown.GracePeriod().String())

	done := make(chan struct{})
	go func() {
		d.proverServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.cfg.Shutdown.GracePeriod()):
		d.proverServer.Stop()
	}

	d.controlServer.GracefulStop()
	d.monitor.Stop()
	if d.stopRateLimitGC != nil {
		d.stopRateLimitGC()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if d.statusServer != nil {
		_ = d.statusServer.Shutdown(shutdownCtx)
	}
	if d.metricsServer != nil {
		_ = d.metricsServer.Shutdown(shutdownCtx)
	}

	return nil
}
