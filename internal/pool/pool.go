package pool

import (
	"sort"
	"sync"

	"github.com/cuemby/dispatcher/internal/rpcapi"
)

// Pool is the authoritative registry of known workers, keyed by address.
// Its ordered-slice-plus-map layout is grounded on the teacher's
// pkg/pyproc/pool.go round-robin Pool, retargeted from "fixed-size process
// slab" to "dynamically grown/shrunk remote worker set" per spec.md §3.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string // worker addresses, kept sorted for deterministic iteration
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{workers: make(map[string]*Worker)}
}

// Insert adds a new worker at address if one doesn't already exist. It
// reports whether a worker was actually added.
func (p *Pool) Insert(address string) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.workers[address]; ok {
		return w, false
	}

	w := newWorker(address)
	p.workers[address] = w
	p.order = append(p.order, address)
	sort.Strings(p.order)
	return w, true
}

// Tombstone marks the worker at address for removal. If it is not
// currently Busy (or best-effort removal is requested by the caller via
// ForceRemove), it is dropped immediately; otherwise it remains visible
// but ineligible for new acquisitions until its in-flight request
// releases. Reports whether the worker existed.
func (p *Pool) Tombstone(address string) bool {
	p.mu.Lock()
	w, ok := p.workers[address]
	if !ok {
		p.mu.Unlock()
		return false
	}
	removable := w.markTombstoned()
	p.mu.Unlock()

	if removable {
		p.remove(address)
	}
	return true
}

// ForceRemove drops a worker immediately regardless of its occupancy,
// implementing the config.Control.BestEffortRemove alternative to
// tombstoning named in spec.md §9.
func (p *Pool) ForceRemove(address string) bool {
	p.mu.Lock()
	w, ok := p.workers[address]
	p.mu.Unlock()
	if !ok {
		return false
	}
	_ = w.CloseConn()
	p.remove(address)
	return true
}

func (p *Pool) remove(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[address]
	if !ok {
		return
	}
	_ = w.CloseConn()
	delete(p.workers, address)
	for i, a := range p.order {
		if a == address {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// releaseAndMaybeRemove is called after a Worker's release* method returns,
// so the pool can drop a tombstoned worker that has just gone idle/failed.
func (p *Pool) releaseAndMaybeRemove(address string, outcome releaseOutcome) {
	if outcome.tombstonedNowRemovable {
		p.remove(address)
	}
}

// Get returns the worker at address, if any.
func (p *Pool) Get(address string) (*Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[address]
	return w, ok
}

// Snapshot returns a point-in-time, deterministically ordered view of
// every known worker — used by the status endpoint and the Health
// Monitor's gauges. The scheduler's acquisition scan uses TryAcquireAny.
func (p *Pool) Snapshot() []View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	views := make([]View, 0, len(p.order))
	for _, addr := range p.order {
		views = append(views, p.workers[addr].view())
	}
	return views
}

// TryAcquireAny scans the pool in deterministic order for an Idle worker
// declaring kind, and atomically transitions the first match to Busy. It
// also reports whether ANY worker (regardless of current state) declares
// kind, which the Scheduler uses to distinguish NoCompatibleWorkers from a
// plain timeout per spec.md §4.3.4.
func (p *Pool) TryAcquireAny(kind rpcapi.ProofKind) (w *Worker, sawCompatible bool) {
	p.mu.RLock()
	addrs := make([]string, len(p.order))
	copy(addrs, p.order)
	workers := make([]*Worker, len(addrs))
	for i, a := range addrs {
		workers[i] = p.workers[a]
	}
	p.mu.RUnlock()

	for _, cand := range workers {
		if cand.hasKind(kind) {
			sawCompatible = true
			if cand.tryAcquire(kind) {
				return cand, true
			}
		}
	}
	return nil, sawCompatible
}

// Release returns lease's worker to the pool per outcome, and drops it
// immediately if it had been tombstoned while in flight.
func (p *Pool) Release(address string, success bool, transportFailure bool, workerBusy bool) {
	w, ok := p.Get(address)
	if !ok {
		return
	}

	var outcome releaseOutcome
	switch {
	case transportFailure:
		outcome = w.releaseTransportFailure()
	case workerBusy:
		outcome = w.releaseWorkerBusy()
	case success:
		outcome = w.releaseSuccess()
	default:
		outcome = w.releaseTransportFailure()
	}

	p.releaseAndMaybeRemove(address, outcome)
}

// ApplyProbeResult forwards a Health Monitor probe outcome to the named
// worker, if still present.
func (p *Pool) ApplyProbeResult(address string, ok bool, declaredKind rpcapi.ProofKind, version, wantKind, reason string) {
	w, found := p.Get(address)
	if !found {
		return
	}
	w.applyProbeResult(ok, declaredKind, version, wantKind, reason)
}

// ExpireBusyPenalty restores a worker penalized for reporting itself busy
// back to Idle once the configured penalty window elapses.
func (p *Pool) ExpireBusyPenalty(address string) {
	if w, ok := p.Get(address); ok {
		w.expireBusyPenalty()
	}
}

// Addresses returns every known worker address in deterministic order,
// used by the Health Monitor to drive its probe loop without holding the
// pool lock for the duration of the probes.
func (p *Pool) Addresses() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len reports the number of known workers, tombstoned or not.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}
