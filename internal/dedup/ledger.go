// Package dedup implements the deduplication ledger: a TTL-bounded
// claim store where the first caller to claim a key wins. Everything
// else in the ingestion core leans on this primitive.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"docverse/internal/domain"

	_ "modernc.org/sqlite"
)

// Ledger implements domain.Ledger on SQLite. The claim is one upsert
// statement, never a read-then-write pair, so two concurrent deliveries
// of the same key cannot both win.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dedup_claims (
		key         TEXT PRIMARY KEY,
		claimed_at  DATETIME NOT NULL,
		expires_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_claims_expiry ON dedup_claims(expires_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Claim atomically records key if absent (or expired) and reports
// whether this caller won. A lost claim is not an error.
func (l *Ledger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO dedup_claims (key, claimed_at, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET claimed_at = excluded.claimed_at, expires_at = excluded.expires_at
		 WHERE dedup_claims.expires_at <= ?`,
		key, now, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("%w: claim %s: %v", domain.ErrLedgerUnavailable, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: claim %s: %v", domain.ErrLedgerUnavailable, key, err)
	}
	return n > 0, nil
}

// Release removes a claim early, as a compensating rollback when the
// side effect the claim guarded did not happen.
func (l *Ledger) Release(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM dedup_claims WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("%w: release %s: %v", domain.ErrLedgerUnavailable, key, err)
	}
	return nil
}

// Exists is a read-only diagnostic check; it never extends a claim.
func (l *Ledger) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM dedup_claims WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", domain.ErrLedgerUnavailable, key, err)
	}
	return true, nil
}

// Sweep deletes expired claims. Expired rows are already claimable
// again, so this only bounds table growth.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM dedup_claims WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("ledger sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.Debug("ledger sweep", "evicted", n)
	}
	return n, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
