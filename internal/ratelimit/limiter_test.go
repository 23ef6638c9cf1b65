package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jaecopzm/postcraft-sub000/internal/clock"
	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

func manualClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
}

func TestEvaluateValidatesLimits(t *testing.T) {
	l := NewLimiter(store.NewMemoryStore(), Options{})

	if _, err := l.Evaluate(context.Background(), "generate", "u1", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero max_requests")
	} else if _, ok := err.(*errors.ErrInvalidLimit); !ok {
		t.Fatalf("error type = %T, want *errors.ErrInvalidLimit", err)
	}

	if _, err := l.Evaluate(context.Background(), "generate", "u1", 10, 0); err == nil {
		t.Fatal("expected error for zero window")
	}
}

// 25 concurrent evaluations against one identifier: exactly 20 admitted.
func TestConcurrentEvaluationsNeverExceedLimit(t *testing.T) {
	cl := manualClock()
	l := NewLimiter(store.NewMemoryStore(), Options{Clock: cl})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0

	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Evaluate(context.Background(), "generate", "u1", 20, time.Minute)
			if err != nil {
				t.Errorf("evaluate: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if d.Allowed {
				admitted++
			} else {
				rejected++
				want := clock.Millis(cl.Now()) + time.Minute.Milliseconds()
				if d.ResetAt != want {
					t.Errorf("resetAt = %d, want %d", d.ResetAt, want)
				}
			}
		}()
	}
	wg.Wait()

	if admitted != 20 || rejected != 5 {
		t.Fatalf("admitted=%d rejected=%d, want 20/5", admitted, rejected)
	}
}

func TestWindowSlides(t *testing.T) {
	cl := manualClock()
	l := NewLimiter(store.NewMemoryStore(), Options{Clock: cl})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if d, _ := l.Evaluate(ctx, "generate", "u1", 20, time.Minute); !d.Allowed {
			t.Fatalf("request %d: expected admission", i)
		}
	}
	if d, _ := l.Evaluate(ctx, "generate", "u1", 20, time.Minute); d.Allowed {
		t.Fatal("expected rejection at limit")
	}

	cl.Advance(59 * time.Second)
	if d, _ := l.Evaluate(ctx, "generate", "u1", 20, time.Minute); d.Allowed {
		t.Fatal("expected rejection before window expiry")
	}

	cl.Advance(2 * time.Second)
	if d, _ := l.Evaluate(ctx, "generate", "u1", 20, time.Minute); !d.Allowed {
		t.Fatal("expected admission after window expiry")
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	cl := manualClock()
	l := NewLimiter(store.NewMemoryStore(), Options{Clock: cl})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Evaluate(ctx, "generate", "u1", 5, time.Minute)
	}
	if d, _ := l.Evaluate(ctx, "generate", "u1", 5, time.Minute); d.Allowed {
		t.Fatal("u1 should be exhausted")
	}
	if d, _ := l.Evaluate(ctx, "generate", "u2", 5, time.Minute); !d.Allowed {
		t.Fatal("u2 must have its own budget")
	}
}

func TestFailOpenAdmitsOnStoreFailure(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLimiter(st, Options{Clock: manualClock(), FailOpen: true})

	st.FailNext(1)
	d, err := l.Evaluate(context.Background(), "generate", "u1", 20, time.Minute)
	if err != nil {
		t.Fatalf("fail-open must swallow the store error, got %v", err)
	}
	if !d.Allowed {
		t.Fatal("fail-open must admit")
	}
	if d.Remaining != 1 {
		t.Fatalf("fail-open remaining = %d, want 1", d.Remaining)
	}
}

func TestFailClosedRejectsOnStoreFailure(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLimiter(st, Options{Clock: manualClock(), FailOpen: false})

	st.FailNext(1)
	d, err := l.Evaluate(context.Background(), "generate", "u1", 20, time.Minute)
	if err == nil {
		t.Fatal("fail-closed must surface the store error")
	}
	if d.Allowed {
		t.Fatal("fail-closed must reject")
	}
}

// A fail-open admission leaves no record behind, so recovery starts clean.
func TestFailOpenDoesNotCorruptState(t *testing.T) {
	st := store.NewMemoryStore()
	cl := manualClock()
	l := NewLimiter(st, Options{Clock: cl, FailOpen: true})
	ctx := context.Background()

	st.FailNext(1)
	l.Evaluate(ctx, "generate", "u1", 2, time.Minute)

	// Store recovered: full budget available.
	for i := 0; i < 2; i++ {
		if d, _ := l.Evaluate(ctx, "generate", "u1", 2, time.Minute); !d.Allowed {
			t.Fatalf("request %d after recovery: expected admission", i)
		}
	}
	if d, _ := l.Evaluate(ctx, "generate", "u1", 2, time.Minute); d.Allowed {
		t.Fatal("expected rejection at limit after recovery")
	}
}

type captureNotifier struct {
	mu        sync.Mutex
	degraded  int
	recovered int
}

func (n *captureNotifier) NotifyStoreDegraded(ctx context.Context, component, backend string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.degraded++
}

func (n *captureNotifier) NotifyStoreRecovered(ctx context.Context, backend string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recovered++
}

func TestNotifierSeesDegradationAndRecovery(t *testing.T) {
	st := store.NewMemoryStore()
	n := &captureNotifier{}
	l := NewLimiter(st, Options{Clock: manualClock(), FailOpen: true, Notifier: n})
	ctx := context.Background()

	st.FailNext(1)
	if _, err := l.Evaluate(ctx, "generate", "u1", 20, time.Minute); err != nil {
		t.Fatalf("fail-open evaluate: %v", err)
	}
	if n.degraded != 1 || n.recovered != 0 {
		t.Fatalf("after failure: degraded=%d recovered=%d", n.degraded, n.recovered)
	}

	// First success after the failure signals recovery, later ones stay quiet.
	l.Evaluate(ctx, "generate", "u1", 20, time.Minute)
	l.Evaluate(ctx, "generate", "u1", 20, time.Minute)
	if n.degraded != 1 || n.recovered != 1 {
		t.Fatalf("after recovery: degraded=%d recovered=%d", n.degraded, n.recovered)
	}
}

func TestInspectDoesNotConsumeBudget(t *testing.T) {
	cl := manualClock()
	l := NewLimiter(store.NewMemoryStore(), Options{Clock: cl})
	ctx := context.Background()

	l.Evaluate(ctx, "generate", "u1", 5, time.Minute)
	l.Evaluate(ctx, "generate", "u1", 5, time.Minute)

	for i := 0; i < 10; i++ {
		n, err := l.Inspect(ctx, "u1", time.Minute)
		if err != nil {
			t.Fatalf("inspect: %v", err)
		}
		if n != 2 {
			t.Fatalf("in window = %d, want 2", n)
		}
	}

	if d, _ := l.Evaluate(ctx, "generate", "u1", 5, time.Minute); d.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2", d.Remaining)
	}
}
