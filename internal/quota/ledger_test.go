package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jaecopzm/postcraft-sub000/internal/clock"
	"github.com/jaecopzm/postcraft-sub000/internal/config"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

func testTiers() *config.QuotaConfig {
	return &config.QuotaConfig{Tiers: map[string]config.TierConfig{
		"free": {MonthlyCeiling: 10},
		"pro":  {Unlimited: true},
	}}
}

func manualClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
}

func TestCheckAndReserveEnforcesCeiling(t *testing.T) {
	l := NewLedger(store.NewMemoryStore(), testTiers(), Options{Clock: manualClock()})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.CheckAndReserve(ctx, "acct-1", models.TierFree)
		if err != nil || !d.Admitted {
			t.Fatalf("reservation %d: admitted=%v err=%v", i, d.Admitted, err)
		}
	}

	d, err := l.CheckAndReserve(ctx, "acct-1", models.TierFree)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Admitted {
		t.Fatal("expected rejection at ceiling")
	}
	if d.Used != 10 || d.Ceiling != 10 {
		t.Fatalf("used=%d ceiling=%d, want 10/10", d.Used, d.Ceiling)
	}
}

// The ceiling stays hard under concurrency: with 3 remaining and 10 racing
// requests, exactly 3 are admitted.
func TestConcurrentReservationsNeverExceedCeiling(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, testTiers(), Options{Clock: manualClock()})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		l.CheckAndReserve(ctx, "acct-1", models.TierFree)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndReserve(ctx, "acct-1", models.TierFree)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if d.Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 3 {
		t.Fatalf("admitted %d racing reservations, want 3", admitted)
	}

	used, _, err := l.Used(ctx, "acct-1")
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 10 {
		t.Fatalf("final count = %d, want 10", used)
	}
}

// A new month resets available quota without touching the old count.
func TestRolloverAcrossMonths(t *testing.T) {
	cl := manualClock()
	l := NewLedger(store.NewMemoryStore(), testTiers(), Options{Clock: cl})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.CheckAndReserve(ctx, "acct-1", models.TierFree)
	}
	if d, _ := l.CheckAndReserve(ctx, "acct-1", models.TierFree); d.Admitted {
		t.Fatal("march should be exhausted")
	}

	cl.Set(time.Date(2026, time.April, 1, 0, 0, 1, 0, time.UTC))

	d, err := l.CheckAndReserve(ctx, "acct-1", models.TierFree)
	if err != nil || !d.Admitted {
		t.Fatalf("april: admitted=%v err=%v", d.Admitted, err)
	}
	if d.Used != 1 {
		t.Fatalf("april used = %d, want 1", d.Used)
	}
}

// Unlimited tiers never touch the store.
func TestUnlimitedTierSkipsStore(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, testTiers(), Options{Clock: manualClock()})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := l.CheckAndReserve(ctx, "acct-pro", models.TierPro)
		if err != nil || !d.Admitted {
			t.Fatalf("pro reservation %d: admitted=%v err=%v", i, d.Admitted, err)
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.QuotaCount != 0 {
		t.Fatalf("unlimited tier created %d quota records, want 0", stats.QuotaCount)
	}

	// Even a failing store cannot affect an unlimited tier.
	st.FailNext(1)
	if d, err := l.CheckAndReserve(ctx, "acct-pro", models.TierPro); err != nil || !d.Admitted {
		t.Fatal("unlimited tier must not depend on the store")
	}
}

func TestFailOpenAdmitsOnStoreFailure(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, testTiers(), Options{Clock: manualClock(), FailOpen: true})

	st.FailNext(1)
	d, err := l.CheckAndReserve(context.Background(), "acct-1", models.TierFree)
	if err != nil {
		t.Fatalf("fail-open must swallow the store error, got %v", err)
	}
	if !d.Admitted {
		t.Fatal("fail-open must admit")
	}
}

func TestFailClosedRejectsOnStoreFailure(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, testTiers(), Options{Clock: manualClock(), FailOpen: false})

	st.FailNext(1)
	d, err := l.CheckAndReserve(context.Background(), "acct-1", models.TierFree)
	if err == nil {
		t.Fatal("fail-closed must surface the store error")
	}
	if d.Admitted {
		t.Fatal("fail-closed must reject")
	}
}

// A fail-open admission is not recorded, so the ledger stays consistent when
// the store recovers.
func TestFailOpenDoesNotRecordUsage(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, testTiers(), Options{Clock: manualClock(), FailOpen: true})
	ctx := context.Background()

	st.FailNext(1)
	l.CheckAndReserve(ctx, "acct-1", models.TierFree)

	used, _, err := l.Used(ctx, "acct-1")
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 0 {
		t.Fatalf("fail-open recorded usage: %d", used)
	}
}
