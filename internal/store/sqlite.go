package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
)

// SQLiteStore implements Store backed by SQLite. Rate-limit timestamp lists
// are stored as JSON text in a single row per identifier; quota counts live in
// one row per (account, period). Each admission decision runs as one SQL
// transaction guarded by a process-local mutex, since SQLite serializes
// writers anyway and the mutex keeps busy-timeout churn out of the hot path.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Migration represents a database schema migration
type Migration struct {
	Version int
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		SQL: `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rate_limits (
			identifier TEXT PRIMARY KEY,
			timestamps TEXT NOT NULL DEFAULT '[]',
			last_updated INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS quota_counts (
			account_id TEXT NOT NULL,
			period TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			last_action_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, period)
		);
		`,
	},
	{
		Version: 2,
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_quota_counts_period ON quota_counts(period);
		CREATE INDEX IF NOT EXISTS idx_rate_limits_last_updated ON rate_limits(last_updated);
		`,
	},
}

// NewSQLiteStore creates a new SQLite store at the given path
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseMigration{Version: 0, Err: err}
	}

	var current int
	err = s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return &errors.ErrDatabaseMigration{Version: 0, Err: err}
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return &errors.ErrDatabaseMigration{Version: m.Version, Err: err}
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return &errors.ErrDatabaseMigration{Version: m.Version, Err: err}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
			tx.Rollback()
			return &errors.ErrDatabaseMigration{Version: m.Version, Err: err}
		}
		if err := tx.Commit(); err != nil {
			return &errors.ErrDatabaseMigration{Version: m.Version, Err: err}
		}
	}

	return nil
}

// EvalRateLimit loads the identifier's timestamp list, applies the
// sliding-window rule and writes the updated list back, all in one
// transaction.
func (s *SQLiteStore) EvalRateLimit(ctx context.Context, identifier string, maxRequests int, windowMs, nowMs int64) (models.RateLimitDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decision models.RateLimitDecision
	err := s.withTx(ctx, "eval_rate_limit", func(tx *sql.Tx) error {
		rec := models.NewRateLimitRecord(identifier)

		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT timestamps FROM rate_limits WHERE identifier = ?`, identifier,
		).Scan(&raw)
		switch {
		case err == sql.ErrNoRows:
			// first request for this identifier
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &rec.Timestamps); err != nil {
				return fmt.Errorf("corrupt timestamp list for %s: %w", identifier, err)
			}
		}

		decision = rec.Evaluate(maxRequests, windowMs, nowMs)

		encoded, err := json.Marshal(rec.Timestamps)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_limits (identifier, timestamps, last_updated)
			VALUES (?, ?, ?)
			ON CONFLICT(identifier) DO UPDATE SET
				timestamps = excluded.timestamps,
				last_updated = excluded.last_updated
		`, identifier, string(encoded), nowMs)
		return err
	})
	if err != nil {
		return models.RateLimitDecision{}, &errors.ErrStoreUnavailable{Backend: "sqlite", Err: err}
	}
	return decision, nil
}

// ReserveQuota performs the conditional increment for (account, period) in one
// transaction so the ceiling is never exceeded under concurrency.
func (s *SQLiteStore) ReserveQuota(ctx context.Context, accountID, periodKey string, ceiling int64, nowMs int64) (models.QuotaDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decision models.QuotaDecision
	err := s.withTx(ctx, "reserve_quota", func(tx *sql.Tx) error {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT count FROM quota_counts WHERE account_id = ? AND period = ?`,
			accountID, periodKey,
		).Scan(&used)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if used >= ceiling {
			decision = models.QuotaDecision{Admitted: false, Used: used, Ceiling: ceiling}
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO quota_counts (account_id, period, count, last_action_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(account_id, period) DO UPDATE SET
				count = count + 1,
				last_action_at = excluded.last_action_at
		`, accountID, periodKey, nowMs)
		if err != nil {
			return err
		}

		decision = models.QuotaDecision{Admitted: true, Used: used + 1, Ceiling: ceiling}
		return nil
	})
	if err != nil {
		return models.QuotaDecision{}, &errors.ErrStoreUnavailable{Backend: "sqlite", Err: err}
	}
	return decision, nil
}

// QuotaUsed returns the count for a period key, zero if absent.
func (s *SQLiteStore) QuotaUsed(ctx context.Context, accountID, periodKey string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM quota_counts WHERE account_id = ? AND period = ?`,
		accountID, periodKey,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &errors.ErrStoreUnavailable{Backend: "sqlite", Err: err}
	}
	return used, nil
}

// GetRateLimitRecord returns the stored record for inspection.
func (s *SQLiteStore) GetRateLimitRecord(ctx context.Context, identifier string) (*models.RateLimitRecord, bool, error) {
	rec := models.NewRateLimitRecord(identifier)

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamps, last_updated FROM rate_limits WHERE identifier = ?`, identifier,
	).Scan(&raw, &rec.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &errors.ErrStoreUnavailable{Backend: "sqlite", Err: err}
	}
	if err := json.Unmarshal([]byte(raw), &rec.Timestamps); err != nil {
		return nil, false, &errors.ErrDatabaseQuery{Operation: "get_rate_limit_record", Err: err}
	}
	return rec, true, nil
}

// GetAccount retrieves an account by ID
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, bool, error) {
	var acc models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tier, created_at, updated_at FROM accounts WHERE id = ?`, id,
	).Scan(&acc.ID, &acc.Tier, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &errors.ErrStoreUnavailable{Backend: "sqlite", Err: err}
	}
	return &acc, true, nil
}

// SetAccount stores or updates an account
func (s *SQLiteStore) SetAccount(ctx context.Context, acc *models.Account) error {
	now := time.Now()
	created := acc.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, tier, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			updated_at = excluded.updated_at
	`, acc.ID, string(acc.Tier), created, now)
	if err != nil {
		return &errors.ErrStoreUnavailable{Backend: "sqlite", Err: err}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Backend returns the backend name.
func (s *SQLiteStore) Backend() string {
	return "sqlite"
}

// Stats returns statistics about the store
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var stats StoreStats

	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM accounts`, &stats.AccountCount},
		{`SELECT COUNT(*) FROM rate_limits`, &stats.RateLimitCount},
		{`SELECT COUNT(DISTINCT account_id) FROM quota_counts`, &stats.QuotaCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return StoreStats{}, &errors.ErrDatabaseQuery{Operation: "stats", Err: err}
		}
	}
	return stats, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", operation, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%s: %w", operation, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", operation, err)
	}
	return nil
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
