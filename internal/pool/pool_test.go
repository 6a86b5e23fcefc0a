package pool

import (
	"testing"

	"github.com/cuemby/dispatcher/internal/rpcapi"
)

func TestInsertIsIdempotent(t *testing.T) {
	p := New()

	_, added := p.Insert("127.0.0.1:9000")
	if !added {
		t.Fatalf("expected first insert to report added=true")
	}

	_, added = p.Insert("127.0.0.1:9000")
	if added {
		t.Fatalf("expected duplicate insert to report added=false")
	}

	if got := p.Len(); got != 1 {
		t.Fatalf("expected 1 worker, got %d", got)
	}
}

func TestAcquireRequiresHealthyAndMatchingKind(t *testing.T) {
	p := New()
	w, _ := p.Insert("127.0.0.1:9000")

	if _, sawCompatible := p.TryAcquireAny(rpcapi.KindTransaction); sawCompatible {
		t.Fatalf("expected no compatible workers before first probe")
	}

	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")

	got, sawCompatible := p.TryAcquireAny(rpcapi.KindTransaction)
	if !sawCompatible || got == nil {
		t.Fatalf("expected worker to be acquirable after healthy probe")
	}
	if got.Address() != w.Address() {
		t.Fatalf("acquired wrong worker")
	}

	if again, _ := p.TryAcquireAny(rpcapi.KindTransaction); again != nil {
		t.Fatalf("expected worker to be unavailable while Busy")
	}
}

func TestReleaseSuccessReturnsWorkerToIdle(t *testing.T) {
	p := New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindBatch, "v1", string(rpcapi.KindBatch), "")

	acquired, _ := p.TryAcquireAny(rpcapi.KindBatch)
	if acquired == nil {
		t.Fatalf("expected acquisition to succeed")
	}

	p.Release(w.Address(), true, false, false)

	snap := p.Snapshot()
	if len(snap) != 1 || snap[0].State != StateIdle {
		t.Fatalf("expected worker back to Idle, got %+v", snap)
	}
}

func TestReleaseWorkerBusyAppliesPenalty(t *testing.T) {
	p := New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindBlock, "v1", string(rpcapi.KindBlock), "")
	p.TryAcquireAny(rpcapi.KindBlock)

	p.Release(w.Address(), false, false, true)

	snap := p.Snapshot()
	if snap[0].State != StateUnhealthy || snap[0].Reason != "transient: worker reported busy" {
		t.Fatalf("expected busy-penalty state, got %+v", snap[0])
	}

	p.ExpireBusyPenalty(w.Address())
	snap = p.Snapshot()
	if snap[0].State != StateIdle {
		t.Fatalf("expected penalty to expire back to Idle, got %+v", snap[0])
	}
}

func TestTombstoneDefersRemovalUntilBusyWorkerReleases(t *testing.T) {
	p := New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	p.TryAcquireAny(rpcapi.KindTransaction)

	p.Tombstone(w.Address())

	if _, ok := p.Get(w.Address()); !ok {
		t.Fatalf("expected tombstoned-but-busy worker to remain visible until release")
	}

	p.Release(w.Address(), true, false, false)

	if _, ok := p.Get(w.Address()); ok {
		t.Fatalf("expected worker to be removed once its in-flight request released")
	}
}

func TestTombstoneRemovesIdleWorkerImmediately(t *testing.T) {
	p := New()
	w, _ := p.Insert("127.0.0.1:9001")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")

	p.Tombstone(w.Address())

	if _, ok := p.Get(w.Address()); ok {
		t.Fatalf("expected idle worker to be removed immediately on tombstone")
	}
}

func TestDeferredProbeFailureAppliesAtRelease(t *testing.T) {
	p := New()
	w, _ := p.Insert("127.0.0.1:9002")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")
	p.TryAcquireAny(rpcapi.KindTransaction)

	// Probe fails while the worker is in flight; must not demote it yet.
	p.ApplyProbeResult(w.Address(), false, "", "", string(rpcapi.KindTransaction), "connection refused")

	snap := p.Snapshot()
	if snap[0].State != StateBusy {
		t.Fatalf("expected worker to remain Busy despite failed probe, got %+v", snap[0])
	}

	p.Release(w.Address(), true, false, false)

	snap = p.Snapshot()
	if snap[0].State != StateUnhealthy || snap[0].Reason != "connection refused" {
		t.Fatalf("expected deferred probe failure applied at release, got %+v", snap[0])
	}
}
