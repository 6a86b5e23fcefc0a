// Package pool owns the Worker Pool: the authoritative registry of known
// worker backends and their health/occupancy state.
//
// Worker's state-machine shape (atomic-ish guarded transitions, lazy
// connection) is grounded on the teacher's pkg/pyproc/worker.go, retargeted
// from "a subprocess this code spawns" to "a remote gRPC backend this code
// only ever dials".
package pool

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/cuemby/dispatcher/internal/rpcapi"
)

// State is one of the three states a Worker may be in.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// Worker is a reference to one backend proof-generation process. All
// mutation goes through its mu, giving it the "totally ordered per-worker
// state transitions" guarantee spec.md §5 requires.
type Worker struct {
	address string

	mu             sync.Mutex
	state          State
	declaredKind   rpcapi.ProofKind
	version        string
	failedAttempts int
	reason         string
	tombstoned     bool

	// pendingFailureReason holds a health-probe failure observed while the
	// worker was Busy. spec.md §4.2.5 requires the state change be
	// deferred until release rather than demoting an in-flight worker.
	pendingFailureReason string

	connMu sync.Mutex
	conn   *grpc.ClientConn
}

func newWorker(address string) *Worker {
	return &Worker{
		address: address,
		state:   StateUnhealthy,
		reason:  "pending first probe",
	}
}

// Address returns the worker's immutable identity.
func (w *Worker) Address() string { return w.address }

// View is a consistent, race-free snapshot of a Worker for the status
// endpoint and scheduling decisions.
type View struct {
	Address        string
	State          State
	DeclaredKind   rpcapi.ProofKind
	Version        string
	FailedAttempts int
	Reason         string
	Tombstoned     bool
}

func (w *Worker) view() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return View{
		Address:        w.address,
		State:          w.state,
		DeclaredKind:   w.declaredKind,
		Version:        w.version,
		FailedAttempts: w.failedAttempts,
		Reason:         w.reason,
		Tombstoned:     w.tombstoned,
	}
}

// Conn lazily dials (or returns the existing) gRPC channel to this worker.
// A new client connection is created under lock so concurrent requests
// forwarding to the same worker reuse a single channel, matching the
// teacher's pool_transport.go connection-reuse idiom.
func (w *Worker) Conn(dialTimeout time.Duration) (*grpc.ClientConn, error) {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	if w.conn != nil && w.conn.GetState().String() != "SHUTDOWN" {
		return w.conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             dialTimeout,
			PermitWithoutStream: true,
		}),
		rpcapi.DialOption(),
	}

	conn, err := grpc.NewClient(w.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial worker %s: %w", w.address, err)
	}
	w.conn = conn
	return conn, nil
}

// SetTestConn installs a pre-established connection in place of the
// normal dial-by-address path, so tests can point a Worker at an
// in-process (bufconn) server.
func (w *Worker) SetTestConn(conn *grpc.ClientConn) {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	w.conn = conn
}

// CloseConn tears down the worker's connection, if any. Called when a
// worker is actually removed from the pool.
func (w *Worker) CloseConn() error {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// applyProbeResult is called by the Health Monitor exactly once per probe
// tick. It implements spec.md §4.2's transition table, including the
// "don't demote Busy workers" rule.
func (w *Worker) applyProbeResult(ok bool, declaredKind rpcapi.ProofKind, version, wantKind, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateBusy {
		// Defer: record what would have happened, apply it at release.
		if !ok {
			w.pendingFailureReason = reason
		} else if declaredKind != rpcapi.ProofKind(wantKind) {
			w.pendingFailureReason = fmt.Sprintf("unsupported prover type: %s", declaredKind)
		} else {
			// A healthy probe clears any previously pending failure.
			w.pendingFailureReason = ""
			w.version = version
		}
		return
	}

	if ok && declaredKind == rpcapi.ProofKind(wantKind) {
		w.state = StateIdle
		w.version = version
		w.declaredKind = declaredKind
		w.failedAttempts = 0
		w.reason = ""
		return
	}

	w.state = StateUnhealthy
	w.failedAttempts++
	if ok && declaredKind != rpcapi.ProofKind(wantKind) {
		w.declaredKind = declaredKind
		w.reason = fmt.Sprintf("unsupported prover type: %s", declaredKind)
	} else {
		w.reason = reason
	}
}

// tryAcquire attempts the Idle->Busy transition used by the Scheduler. It
// reports whether the worker was eligible (Idle, matching kind, not
// tombstoned).
func (w *Worker) tryAcquire(kind rpcapi.ProofKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tombstoned || w.state != StateIdle || w.declaredKind != kind {
		return false
	}
	w.state = StateBusy
	return true
}

// hasKind reports whether this worker's learned kind matches, regardless
// of current health/occupancy — used for the NoCompatibleWorkers
// distinction in spec.md §4.3.4.
func (w *Worker) hasKind(kind rpcapi.ProofKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.declaredKind == kind
}

// releaseOutcome is returned by release* methods so the pool can decide
// whether to actually drop a tombstoned worker.
type releaseOutcome struct {
	tombstonedNowRemovable bool
}

// releaseSuccess transitions Busy->Idle, applying any deferred probe
// failure recorded while the worker was in flight.
func (w *Worker) releaseSuccess() releaseOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingFailureReason != "" {
		w.state = StateUnhealthy
		w.failedAttempts++
		w.reason = w.pendingFailureReason
		w.pendingFailureReason = ""
	} else {
		w.state = StateIdle
	}
	return releaseOutcome{tombstonedNowRemovable: w.tombstoned}
}

// releaseTransportFailure transitions Busy->Unhealthy with reason
// "transport error during request".
func (w *Worker) releaseTransportFailure() releaseOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateUnhealthy
	w.failedAttempts++
	w.reason = "transport error during request"
	w.pendingFailureReason = ""
	return releaseOutcome{tombstonedNowRemovable: w.tombstoned}
}

// releaseWorkerBusy implements the resolved Open Question: a worker that
// reported "already in use" is penalized with a short, explicit Unhealthy
// window rather than silently reinserted as Idle. penaltyExpiry is handled
// by the caller (the Scheduler schedules a timer); here the worker is just
// marked per the policy.
func (w *Worker) releaseWorkerBusy() releaseOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingFailureReason != "" {
		w.state = StateUnhealthy
		w.failedAttempts++
		w.reason = w.pendingFailureReason
		w.pendingFailureReason = ""
		return releaseOutcome{tombstonedNowRemovable: w.tombstoned}
	}
	w.state = StateUnhealthy
	w.reason = "transient: worker reported busy"
	return releaseOutcome{tombstonedNowRemovable: w.tombstoned}
}

// expireBusyPenalty restores a worker penalized by releaseWorkerBusy back
// to Idle, provided nothing worse has happened to it since (still
// Unhealthy with the penalty's own reason).
func (w *Worker) expireBusyPenalty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateUnhealthy && w.reason == "transient: worker reported busy" {
		w.state = StateIdle
		w.reason = ""
	}
}

func (w *Worker) markTombstoned() (alreadyIdleOrUnhealthy bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tombstoned = true
	return w.state != StateBusy
}
