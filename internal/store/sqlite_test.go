package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jaecopzm/postcraft-sub000/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteEvalRateLimit(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		d, err := st.EvalRateLimit(ctx, "u1", 20, 60_000, int64(i))
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}

	d, err := st.EvalRateLimit(ctx, "u1", 20, 60_000, 30_000)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected rejection at limit")
	}
	if d.ResetAt != 60_000 {
		t.Fatalf("resetAt = %d, want 60000", d.ResetAt)
	}
}

func TestSQLiteEvalRateLimitConcurrent(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := st.EvalRateLimit(ctx, "u1", 20, 60_000, 0)
			if err != nil {
				t.Errorf("eval: %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 20 {
		t.Fatalf("admitted = %d, want 20", admitted)
	}
}

func TestSQLiteRateLimitPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quota.db")
	ctx := context.Background()

	st, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		st.EvalRateLimit(ctx, "u1", 5, 60_000, int64(i))
	}
	st.Close()

	st2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	d, err := st2.EvalRateLimit(ctx, "u1", 5, 60_000, 10)
	if err != nil {
		t.Fatalf("eval after reopen: %v", err)
	}
	if d.Allowed {
		t.Fatal("window state must survive a restart")
	}
}

func TestSQLiteReserveQuota(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		d, err := st.ReserveQuota(ctx, "acct-1", "2026-03", 10, 0)
		if err != nil || !d.Admitted {
			t.Fatalf("reservation %d: admitted=%v err=%v", i, d.Admitted, err)
		}
		if d.Used != i {
			t.Fatalf("reservation %d: used=%d", i, d.Used)
		}
	}

	d, err := st.ReserveQuota(ctx, "acct-1", "2026-03", 10, 0)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if d.Admitted {
		t.Fatal("expected rejection at ceiling")
	}

	used, err := st.QuotaUsed(ctx, "acct-1", "2026-03")
	if err != nil || used != 10 {
		t.Fatalf("used=%d err=%v, want 10", used, err)
	}

	// A different period starts at zero.
	d, err = st.ReserveQuota(ctx, "acct-1", "2026-04", 10, 0)
	if err != nil || !d.Admitted || d.Used != 1 {
		t.Fatalf("april: admitted=%v used=%d err=%v", d.Admitted, d.Used, err)
	}
}

func TestSQLiteReserveQuotaConcurrent(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := st.ReserveQuota(ctx, "acct-1", "2026-03", 10, 0)
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

	if admitted != 10 {
		t.Fatalf("admitted = %d, want 10", admitted)
	}
}

func TestSQLiteAccounts(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	if _, ok, err := st.GetAccount(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing account: ok=%v err=%v", ok, err)
	}

	if err := st.SetAccount(ctx, &models.Account{ID: "acct-1", Tier: models.TierPro}); err != nil {
		t.Fatalf("set: %v", err)
	}
	acc, ok, err := st.GetAccount(ctx, "acct-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if acc.Tier != models.TierPro {
		t.Fatalf("tier = %s, want pro", acc.Tier)
	}

	if err := st.SetAccount(ctx, &models.Account{ID: "acct-1", Tier: models.TierFree, CreatedAt: acc.CreatedAt}); err != nil {
		t.Fatalf("update: %v", err)
	}
	acc, _, _ = st.GetAccount(ctx, "acct-1")
	if acc.Tier != models.TierFree {
		t.Fatal("tier update lost")
	}
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quota.db")

	st, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	st.Close()

	// Reopening must not re-run applied migrations.
	st2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	st2.Close()
}

func TestSQLiteStats(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	st.EvalRateLimit(ctx, "u1", 5, 60_000, 0)
	st.ReserveQuota(ctx, "acct-1", "2026-03", 5, 0)
	st.ReserveQuota(ctx, "acct-1", "2026-04", 5, 0)
	st.SetAccount(ctx, &models.Account{ID: "acct-1", Tier: models.TierFree})

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AccountCount != 1 || stats.RateLimitCount != 1 || stats.QuotaCount != 1 {
		t.Fatalf("stats = %+v, want 1/1/1", stats)
	}
}
