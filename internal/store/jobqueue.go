package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Enqueue inserts a job_queue row. The (job_id, dedupe_key) unique
// constraint makes a second enqueue for the same logical work a no-op:
// ErrDuplicate is returned so callers can treat it as "already queued"
// rather than a hard failure, mirroring the dedup check in
// _enqueue_if_not_active (the teacher's pack has no durable queue of its
// own; this enqueue/dedupe shape is grounded on that ingest task queue).
var ErrDuplicate = errors.New("store: duplicate job_queue entry")

func (s *Store) EnqueueJob(ctx context.Context, e *JobQueueEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = 1
	}
	var id int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, s.rebind(`INSERT INTO job_queue
			(job_id, scheduled_for, dedupe_key, status, attempts, max_attempts, lease_owner, lease_expires_at, last_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.JobID, e.ScheduledFor, e.DedupeKey, JobQueuePending, 0, e.MaxAttempts, "", nil, "", e.CreatedAt)
		if execErr != nil {
			return execErr
		}
		row := tx.QueryRowContext(ctx, s.idLastInsertQuery(), e.JobID, e.DedupeKey)
		return row.Scan(&id)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("store: enqueue job: %w", err)
	}
	return id, nil
}

// idLastInsertQuery sidesteps database/sql's driver-specific LastInsertId
// support (pgx's stdlib driver does not implement it) by re-reading the row
// we just inserted via its natural key instead.
func (s *Store) idLastInsertQuery() string {
	return s.rebind(`SELECT id FROM job_queue WHERE job_id = ? AND dedupe_key = ? ORDER BY id DESC LIMIT 1`)
}

// ClaimJobs atomically claims up to limit pending (or expired-lease) jobs
// due at or before now, marking them running and attributing a lease to
// leaseOwner for leaseDuration. Postgres uses SELECT ... FOR UPDATE SKIP
// LOCKED so multiple server processes can claim concurrently without
// blocking each other (spec.md §4.6: "the job queue must support more than
// one queue worker process claiming work concurrently"). SQLite has no
// SKIP LOCKED and needs none: Open sets SetMaxOpenConns(1), so at most one
// goroutine ever holds the single connection/transaction at a time and
// claims are already serialized.
func (s *Store) ClaimJobs(ctx context.Context, leaseOwner string, leaseDuration time.Duration, limit int) ([]*JobQueueEntry, error) {
	var claimed []*JobQueueEntry
	now := nowUTC()
	leaseExpires := now.Add(leaseDuration)

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		selectQuery := `SELECT id, job_id, scheduled_for, dedupe_key, status, attempts, max_attempts,
			lease_owner, lease_expires_at, last_error, created_at FROM job_queue
			WHERE scheduled_for <= ? AND (
				status = ? OR (status = ? AND lease_expires_at < ?)
			) ORDER BY scheduled_for LIMIT ?`
		if s.Dialect == DialectPostgres {
			selectQuery += ` FOR UPDATE SKIP LOCKED`
		}
		rows, err := tx.QueryContext(ctx, s.rebind(selectQuery), now, JobQueuePending, JobQueueRunning, now, limit)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var e JobQueueEntry
			if err := rows.Scan(&e.ID, &e.JobID, &e.ScheduledFor, &e.DedupeKey, &e.Status, &e.Attempts,
				&e.MaxAttempts, &e.LeaseOwner, &e.LeaseExpiresAt, &e.LastError, &e.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			claimed = append(claimed, &e)
			ids = append(ids, e.ID)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE job_queue SET status = ?, attempts = attempts + 1,
				lease_owner = ?, lease_expires_at = ? WHERE id = ?`), JobQueueRunning, leaseOwner, leaseExpires, id); err != nil {
				return err
			}
			claimed[i].Status = JobQueueRunning
			claimed[i].Attempts++
			claimed[i].LeaseOwner = leaseOwner
			claimed[i].LeaseExpiresAt = &leaseExpires
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: claim jobs: %w", err)
	}
	return claimed, nil
}

// CompleteJob marks a claimed job success, or requeues it as pending with
// exponential backoff applied to scheduled_for if attempts remain, or marks
// it dead once max_attempts is exhausted (spec.md §4.6 Completion).
func (s *Store) CompleteJob(ctx context.Context, id int64, success bool, errMsg string) error {
	if success {
		_, err := s.exec(ctx, `UPDATE job_queue SET status = ?, last_error = '' WHERE id = ?`, JobQueueSuccess, id)
		if err != nil {
			return fmt.Errorf("store: complete job: %w", err)
		}
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT attempts, max_attempts FROM job_queue WHERE id = ?`), id)
		var attempts, maxAttempts int
		if err := row.Scan(&attempts, &maxAttempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if attempts >= maxAttempts {
			_, err := tx.ExecContext(ctx, s.rebind(`UPDATE job_queue SET status = ?, last_error = ? WHERE id = ?`), JobQueueDead, errMsg, id)
			return err
		}
		backoff := RetryBackoff(attempts)
		_, err := tx.ExecContext(ctx, s.rebind(`UPDATE job_queue SET status = ?, last_error = ?, scheduled_for = ? WHERE id = ?`),
			JobQueuePending, errMsg, nowUTC().Add(backoff), id)
		return err
	})
}

// RetryBackoff is exponential with a cap, keyed by the attempt count already
// recorded on the entry (attempts is incremented at claim time, so attempts
// == 1 after the first failed try).
func RetryBackoff(attempts int) time.Duration {
	backoff := time.Duration(1<<uint(attempts)) * time.Second
	const cap = 5 * time.Minute
	if backoff > cap {
		return cap
	}
	return backoff
}

// SweepZombieLeases resets jobs whose lease has expired without a
// completion report (worker crash) back to pending, mirroring
// reset_stale_running_tasks's crash-recovery sweep, but lease-driven rather
// than a single fixed startup pass so it can run on every poll tick.
func (s *Store) SweepZombieLeases(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `UPDATE job_queue SET status = ?, lease_owner = '', lease_expires_at = NULL
		WHERE status = ? AND lease_expires_at < ?`, JobQueuePending, JobQueueRunning, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("store: sweep zombie leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: sweep zombie leases: %w", err)
	}
	return n, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*JobQueueEntry, error) {
	row := s.queryRow(ctx, `SELECT id, job_id, scheduled_for, dedupe_key, status, attempts, max_attempts,
		lease_owner, lease_expires_at, last_error, created_at FROM job_queue WHERE id = ?`, id)
	var e JobQueueEntry
	if err := row.Scan(&e.ID, &e.JobID, &e.ScheduledFor, &e.DedupeKey, &e.Status, &e.Attempts, &e.MaxAttempts,
		&e.LeaseOwner, &e.LeaseExpiresAt, &e.LastError, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	return &e, nil
}
