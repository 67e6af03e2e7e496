// Package tracker owns the per-document job records. A job is created
// exactly once per document identity; state only moves forward within a
// lease, and an expired lease lets a later delivery reclaim the job.
package tracker

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

// Store persists DocumentJob records in SQLite.
type Store struct {
	db     *sql.DB
	lease  time.Duration
	logger *slog.Logger
}

func New(dbPath string, lease time.Duration, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if lease <= 0 {
		lease = 5 * time.Minute
	}

	s := &Store{db: db, lease: lease, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS document_jobs (
		job_id           TEXT PRIMARY KEY,
		sender           TEXT NOT NULL,
		media_id         TEXT NOT NULL,
		filename         TEXT,
		mime_type        TEXT,
		caption          TEXT,
		state            TEXT NOT NULL,
		attempt          INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT,
		stored_location  TEXT,
		lease_expires_at DATETIME NOT NULL,
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON document_jobs(state, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateOrGet inserts a fresh Received job or returns the existing one.
// The insert is the claim: under concurrent deliveries of the same
// document exactly one caller observes created=true.
func (s *Store) CreateOrGet(ctx context.Context, job domain.DocumentJob) (*domain.DocumentJob, bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO document_jobs
		 (job_id, sender, media_id, filename, mime_type, caption, state, attempt, last_error, stored_location, lease_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', '', ?, ?, ?)`,
		job.JobID, job.Sender, job.MediaID, job.Filename, job.MimeType, job.Caption,
		domain.StateReceived, now.Add(s.lease), now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create job %s: %w", job.JobID, err)
	}

	rec, err := s.Get(ctx, job.JobID)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, fmt.Errorf("job %s vanished after insert", job.JobID)
	}
	return rec, n > 0, nil
}

// Get returns the job record, or nil if unknown.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.DocumentJob, error) {
	var j domain.DocumentJob
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, sender, media_id, filename, mime_type, caption, state, attempt,
		        last_error, stored_location, lease_expires_at, created_at, updated_at
		 FROM document_jobs WHERE job_id = ?`, jobID,
	).Scan(&j.JobID, &j.Sender, &j.MediaID, &j.Filename, &j.MimeType, &j.Caption, &state,
		&j.Attempt, &j.LastError, &j.StoredLocation, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	j.State = domain.JobState(state)
	return &j, nil
}

// Reclaim takes over a non-terminal job whose lease has expired, moving
// it back to its resume state under a fresh lease. Returns nil, false
// when the lease is still live or another worker got there first.
func (s *Store) Reclaim(ctx context.Context, jobID string) (*domain.DocumentJob, bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE document_jobs
		 SET state = CASE WHEN state IN (?, ?) THEN ? ELSE ? END,
		     attempt = attempt + 1,
		     lease_expires_at = ?,
		     updated_at = ?
		 WHERE job_id = ? AND state NOT IN (?, ?) AND lease_expires_at <= ?`,
		domain.StateStored, domain.StateProcessing, domain.StateStored, domain.StateReceived,
		now.Add(s.lease), now,
		jobID, domain.StateCompleted, domain.StateFailed, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reclaim job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("reclaim job %s: %w", jobID, err)
	}
	if n == 0 {
		return nil, false, nil
	}

	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("job reclaimed", "job", jobID, "state", rec.State, "attempt", rec.Attempt)
	return rec, true, nil
}

// Transition moves the job from → to and extends the lease. The write
// is guarded by the expected current state, so a worker whose lease was
// reclaimed gets ErrStaleTransition instead of clobbering progress.
func (s *Store) Transition(ctx context.Context, jobID string, from, to domain.JobState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal transition %s → %s for job %s", from, to, jobID)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE document_jobs SET state = ?, lease_expires_at = ?, updated_at = ?
		 WHERE job_id = ? AND state = ?`,
		to, now.Add(s.lease), now, jobID, from,
	)
	if err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s not in %s", domain.ErrStaleTransition, jobID, from)
	}
	return nil
}

// MarkStored is the Storing → Stored transition plus the durable
// artifact location, written together.
func (s *Store) MarkStored(ctx context.Context, jobID, location string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE document_jobs SET state = ?, stored_location = ?, lease_expires_at = ?, updated_at = ?
		 WHERE job_id = ? AND state = ?`,
		domain.StateStored, location, now.Add(s.lease), now, jobID, domain.StateStoring,
	)
	if err != nil {
		return fmt.Errorf("mark stored %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark stored %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s not in %s", domain.ErrStaleTransition, jobID, domain.StateStoring)
	}
	return nil
}

// MarkFailed moves a non-terminal job to Failed with a stage:detail
// record. The write is fenced by the caller's attempt counter: Reclaim
// bumps it, so a worker whose lease was reclaimed away cannot flip the
// new owner's live job to Failed. A fenced-out write returns
// ErrStaleTransition.
func (s *Store) MarkFailed(ctx context.Context, jobID string, attempt int, record string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE document_jobs SET state = ?, last_error = ?, updated_at = ?
		 WHERE job_id = ? AND state NOT IN (?, ?) AND attempt = ?`,
		domain.StateFailed, record, now, jobID, domain.StateCompleted, domain.StateFailed, attempt,
	)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s terminal or reclaimed past attempt %d", domain.ErrStaleTransition, jobID, attempt)
	}
	return nil
}

// MarkCompleted is the Processing → Completed transition.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.Transition(ctx, jobID, domain.StateProcessing, domain.StateCompleted)
}

// SweepTerminal evicts Completed/Failed records older than the
// retention window. Retention exists only to answer duplicate-delivery
// queries; after it, a redelivered event would rightly start over.
func (s *Store) SweepTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM document_jobs WHERE state IN (?, ?) AND updated_at <= ?`,
		domain.StateCompleted, domain.StateFailed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("tracker sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("tracker sweep", "evicted", n)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
