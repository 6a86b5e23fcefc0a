// Package pipeline implements the per-request state machine spec.md §4.4
// describes: rate-limit, acquire a worker, forward the call, and on
// failure release & retry against another worker up to the configured
// bound.
//
// Grounded on the teacher's pool.go Call method (acquire a worker slot,
// forward, release, with a bounded retry-by-reacquire loop), generalized
// from "in-process worker selection" to "scheduler-mediated lease with
// classification of the worker's gRPC response".
package pipeline

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/dispatcher/internal/logging"
	"github.com/cuemby/dispatcher/internal/metrics"
	"github.com/cuemby/dispatcher/internal/ratelimit"
	"github.com/cuemby/dispatcher/internal/rpcapi"
	"github.com/cuemby/dispatcher/internal/scheduler"
)

// ForwardFunc issues the actual worker RPC over conn and returns its
// response (as an interface{} the caller type-asserts back) or the error
// the worker's client stub returned.
type ForwardFunc func(ctx context.Context, conn grpc.ClientConnInterface) (interface{}, error)

// Pipeline wires rate limiting, the Scheduler, and worker forwarding into
// one reusable per-request driver, shared by all three proof RPCs.
type Pipeline struct {
	scheduler         *scheduler.Scheduler
	limiter           *ratelimit.Limiter
	kind              rpcapi.ProofKind
	requestTimeout    time.Duration
	connectionTimeout time.Duration
	maxRetries        int
	log               *logging.Logger
}

// New constructs a Pipeline for proof kind kind.
func New(s *scheduler.Scheduler, limiter *ratelimit.Limiter, kind rpcapi.ProofKind, requestTimeout, connectionTimeout time.Duration, maxRetries int, log *logging.Logger) *Pipeline {
	return &Pipeline{
		scheduler:         s,
		limiter:           limiter,
		kind:              kind,
		requestTimeout:    requestTimeout,
		connectionTimeout: connectionTimeout,
		maxRetries:        maxRetries,
		log:               log.WithComponent("pipeline"),
	}
}

type outcomeClass int

const (
	classApplication outcomeClass = iota
	classTransportFailure
	classWorkerBusy
	classCancelled
)

func classify(err error) outcomeClass {
	st, ok := status.FromError(err)
	if !ok {
		return classTransportFailure
	}
	switch st.Code() {
	case codes.Canceled:
		return classCancelled
	case codes.Unavailable, codes.DeadlineExceeded:
		return classTransportFailure
	case codes.ResourceExhausted:
		return classWorkerBusy
	default:
		return classApplication
	}
}

// Execute runs the full pipeline for one inbound RPC: rate limit, acquire,
// forward, retry-on-failure, release. forward is called once per attempt
// with a live worker connection.
func (p *Pipeline) Execute(ctx context.Context, clientAddr string, forward ForwardFunc) (interface{}, error) {
	overall := metrics.NewTimer()

	if !p.limiter.Allow(clientAddr) {
		metrics.RateLimitedTotal.Inc()
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded for client")
	}

	deadline := time.Now().Add(p.requestTimeout)
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	maxAttempts := p.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		waitTimer := metrics.NewTimer()
		lease, err := p.scheduler.Acquire(dctx, p.kind)
		waitTimer.ObserveSeconds(metrics.QueueWaitDuration, string(p.kind))
		if err != nil {
			return nil, p.finishAcquireFailure(err)
		}

		resp, callErr := p.attempt(dctx, lease, forward)
		if callErr == nil {
			overall.ObserveSeconds(metrics.RequestDuration, string(p.kind))
			metrics.RequestsTotal.WithLabelValues(string(p.kind), "success").Inc()
			return resp, nil
		}

		class := classify(callErr)
		if class == classApplication || class == classCancelled {
			overall.ObserveSeconds(metrics.RequestDuration, string(p.kind))
			outcome := "application_error"
			if class == classCancelled {
				outcome = "cancelled"
			}
			metrics.RequestsTotal.WithLabelValues(string(p.kind), outcome).Inc()
			return nil, callErr
		}

		lastErr = callErr
		metrics.RetriesTotal.WithLabelValues(string(p.kind)).Inc()

		if dctx.Err() != nil || attempt == maxAttempts-1 {
			break
		}
	}

	if dctx.Err() == context.Canceled {
		metrics.RequestsTotal.WithLabelValues(string(p.kind), "cancelled").Inc()
		return nil, status.Error(codes.Canceled, "client canceled during retries")
	}
	metrics.RequestsTotal.WithLabelValues(string(p.kind), "unavailable").Inc()
	if dctx.Err() == context.DeadlineExceeded {
		return nil, status.Error(codes.DeadlineExceeded, "request_timeout elapsed during retries")
	}
	return nil, status.Errorf(codes.Unavailable, "no worker completed the request after retries: %v", lastErr)
}

// attempt performs exactly one forward over an already-acquired lease
// (Execute does the acquiring) and releases the lease according to the
// outcome, implementing spec.md §4.4 step 3 and the
// cancellation rule in §5 (a cancelled in-flight call releases as
// Success, never leaking a Busy worker).
func (p *Pipeline) attempt(ctx context.Context, lease *scheduler.Lease, forward ForwardFunc) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.scheduler.Release(lease, false, true, false)
			resp = nil
			err = status.Errorf(codes.Internal, "panic in forward path: %v", r)
		}
	}()

	conn, dialErr := lease.Worker.Conn(p.connectionTimeout)
	if dialErr != nil {
		p.scheduler.Release(lease, false, true, false)
		return nil, status.Errorf(codes.Unavailable, "failed to connect to worker: %v", dialErr)
	}

	resp, callErr := forward(ctx, conn)
	if callErr == nil {
		p.scheduler.Release(lease, true, false, false)
		return resp, nil
	}

	switch classify(callErr) {
	case classCancelled:
		// Worker honors cancellation and returns to Idle cleanly.
		p.scheduler.Release(lease, true, false, false)
	case classTransportFailure:
		p.scheduler.Release(lease, false, true, false)
	case classWorkerBusy:
		p.scheduler.Release(lease, false, false, true)
	default:
		p.scheduler.Release(lease, true, false, false)
	}
	return nil, callErr
}

func (p *Pipeline) finishAcquireFailure(err error) error {
	switch err {
	case scheduler.ErrCanceled:
		metrics.RequestsTotal.WithLabelValues(string(p.kind), "cancelled").Inc()
		return status.Error(codes.Canceled, "client canceled while waiting for an available worker")
	case scheduler.ErrTimeout:
		metrics.RequestsTotal.WithLabelValues(string(p.kind), "deadline_exceeded").Inc()
		return status.Error(codes.DeadlineExceeded, "timed out waiting for an available worker")
	case scheduler.ErrNoCompatibleWorkers:
		metrics.RequestsTotal.WithLabelValues(string(p.kind), "unavailable").Inc()
		return status.Error(codes.Unavailable, "no compatible workers registered for this proof kind")
	default:
		metrics.RequestsTotal.WithLabelValues(string(p.kind), "error").Inc()
		return err
	}
}
