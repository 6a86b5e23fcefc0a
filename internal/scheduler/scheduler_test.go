package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/rpcapi"
)

func TestAcquireReturnsNoCompatibleWorkersWhenNoneDeclareKind(t *testing.T) {
	p := pool.New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindBatch, "v1", string(rpcapi.KindBatch), "")

	s := New(p, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Acquire(ctx, rpcapi.KindTransaction)
	if err != ErrNoCompatibleWorkers {
		t.Fatalf("expected ErrNoCompatibleWorkers, got %v", err)
	}
}

func TestAcquireTimesOutWhenAllCompatibleWorkersBusy(t *testing.T) {
	p := pool.New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindBatch, "v1", string(rpcapi.KindBatch), "")

	s := New(p, 0)

	lease, err := s.Acquire(context.Background(), rpcapi.KindBatch)
	if err != nil {
		t.Fatalf("unexpected error acquiring first lease: %v", err)
	}
	_ = lease

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, rpcapi.KindBatch)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestAcquireWakesOnRelease(t *testing.T) {
	p := pool.New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindBlock, "v1", string(rpcapi.KindBlock), "")

	s := New(p, 0)
	lease, err := s.Acquire(context.Background(), rpcapi.KindBlock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := s.Acquire(ctx, rpcapi.KindBlock)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Release(lease, true, false, false)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected second acquire to succeed after release, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("second acquire never woke up after release")
	}
}

func TestAcquireDistinguishesClientCancellationFromTimeout(t *testing.T) {
	p := pool.New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindBatch, "v1", string(rpcapi.KindBatch), "")

	s := New(p, 0)
	_, err := s.Acquire(context.Background(), rpcapi.KindBatch)
	if err != nil {
		t.Fatalf("unexpected error acquiring first lease: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Acquire(ctx, rpcapi.KindBatch)
	if err != ErrCanceled {
		t.Fatalf("expected ErrCanceled for a caller-canceled context, got %v", err)
	}
}

func TestReleaseWorkerBusyAppliesPenaltyThenExpires(t *testing.T) {
	p := pool.New()
	w, _ := p.Insert("127.0.0.1:9000")
	p.ApplyProbeResult(w.Address(), true, rpcapi.KindTransaction, "v1", string(rpcapi.KindTransaction), "")

	s := New(p, 20*time.Millisecond)
	lease, err := s.Acquire(context.Background(), rpcapi.KindTransaction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Release(lease, false, false, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, err = s.Acquire(ctx, rpcapi.KindTransaction)
	cancel()
	if err != ErrTimeout {
		t.Fatalf("expected worker to still be penalized, got %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	if _, err := s.Acquire(ctx2, rpcapi.KindTransaction); err != nil {
		t.Fatalf("expected worker to become acquirable once penalty expired, got %v", err)
	}
}
