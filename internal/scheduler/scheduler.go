// Package scheduler turns Pool occupancy into the blocking acquire/release
// contract spec.md §4.3 describes: callers park until a compatible worker
// frees up or their deadline expires, and the two ways of coming back
// empty-handed (NoCompatibleWorkers vs Timeout) are distinguishable.
//
// The waiter-queue shape is grounded on the teacher's pool.go semaphore
// (a buffered channel used purely for backpressure); here it's
// generalized into a broadcast-on-release gate since acquisition also
// needs to re-scan for a specific ProofKind rather than just count free
// slots.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/rpcapi"
)

// ErrNoCompatibleWorkers is returned when no worker in the pool declares
// the requested ProofKind, regardless of how long the caller is willing to
// wait. Distinct from ErrTimeout per spec.md §4.3.4.
var ErrNoCompatibleWorkers = errors.New("no compatible workers registered for requested proof kind")

// ErrTimeout is returned when compatible workers exist but none freed up
// before the caller's deadline.
var ErrTimeout = errors.New("timed out waiting for an available worker")

// ErrCanceled is returned when the caller's context is canceled (not
// merely deadline-exceeded) while parked waiting for a worker — spec.md
// §8 scenario S6 requires this be distinguishable from an ordinary
// request_timeout expiry.
var ErrCanceled = errors.New("caller canceled while waiting for an available worker")

// Lease represents a held worker slot. It must be released exactly once.
type Lease struct {
	Worker *pool.Worker
	Kind   rpcapi.ProofKind
}

// Scheduler is the single pool-wide waiter queue spec.md §4.3 calls for —
// one gate shared by every ProofKind, not one queue per kind. Each
// broadcast wakes every parked waiter at once and they re-scan the pool
// concurrently; no wake order among waiters is kept.
type Scheduler struct {
	pool        *pool.Pool
	busyPenalty time.Duration

	mu   sync.Mutex
	gate chan struct{}
}

// New constructs a Scheduler over p. busyPenalty is the duration a worker
// that reports itself busy spends in Unhealthy before becoming eligible
// again (spec.md §9 open question, resolved as a short fixed backoff).
func New(p *pool.Pool, busyPenalty time.Duration) *Scheduler {
	return &Scheduler{
		pool:        p,
		busyPenalty: busyPenalty,
		gate:        make(chan struct{}),
	}
}

func (s *Scheduler) currentGate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

// broadcast wakes every current waiter by swapping in a fresh gate and
// closing the old one. Called any time pool occupancy could have changed
// in a way that might satisfy a waiter: release, insert, probe result.
func (s *Scheduler) broadcast() {
	s.mu.Lock()
	old := s.gate
	s.gate = make(chan struct{})
	s.mu.Unlock()
	close(old)
}

// Acquire blocks until a worker declaring kind becomes Idle, ctx is
// canceled/expires, or it becomes clear no worker will ever declare kind.
func (s *Scheduler) Acquire(ctx context.Context, kind rpcapi.ProofKind) (*Lease, error) {
	for {
		w, sawCompatible := s.pool.TryAcquireAny(kind)
		if w != nil {
			return &Lease{Worker: w, Kind: kind}, nil
		}
		if !sawCompatible {
			return nil, ErrNoCompatibleWorkers
		}

		gate := s.currentGate()
		select {
		case <-gate:
			continue
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ErrCanceled
			}
			return nil, ErrTimeout
		}
	}
}

// Release returns a held Lease to the pool per outcome and wakes parked
// waiters. Exactly one of success/transportFailure/workerBusy should be
// true; see pool.Pool.Release for the order in which the flags are
// checked, and the pool.Worker release methods for how a deferred
// health-probe failure that is also pending is applied.
func (s *Scheduler) Release(lease *Lease, success, transportFailure, workerBusy bool) {
	addr := lease.Worker.Address()
	s.pool.Release(addr, success, transportFailure, workerBusy)

	if workerBusy && s.busyPenalty > 0 {
		time.AfterFunc(s.busyPenalty, func() {
			s.pool.ExpireBusyPenalty(addr)
			s.broadcast()
		})
	}

	s.broadcast()
}

// NotifyPoolChanged wakes parked waiters after a worker is inserted or a
// probe result potentially makes a previously-ineligible worker Idle. The
// Health Monitor and control-plane Insert path call this.
func (s *Scheduler) NotifyPoolChanged() {
	s.broadcast()
}
