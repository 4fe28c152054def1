package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) CreateRunner(ctx context.Context, r *Runner) error {
	_, err := s.exec(ctx, `INSERT INTO runners (id, owner_id, name, auth_secret_hash, status, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.Name, r.AuthSecretHash, r.Status, r.LastHeartbeat)
	if err != nil {
		return fmt.Errorf("store: create runner: %w", err)
	}
	return nil
}

const runnersSelect = `SELECT id, owner_id, name, auth_secret_hash, status, last_heartbeat FROM runners`

func (s *Store) GetRunner(ctx context.Context, id string) (*Runner, error) {
	row := s.queryRow(ctx, runnersSelect+` WHERE id = ?`, id)
	return scanRunner(row)
}

func (s *Store) ListRunnersByOwner(ctx context.Context, ownerID string) ([]*Runner, error) {
	rows, err := s.query(ctx, runnersSelect+` WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list runners: %w", err)
	}
	defer rows.Close()
	var out []*Runner
	for rows.Next() {
		var r Runner
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.AuthSecretHash, &r.Status, &r.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("store: scan runner: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListOnlineRunners backs the fleet dispatcher's pick-a-runner step
// (spec.md §4.7): only runners that have heartbeat within the liveness
// window are eligible.
func (s *Store) ListOnlineRunners(ctx context.Context, ownerID string) ([]*Runner, error) {
	rows, err := s.query(ctx, runnersSelect+` WHERE owner_id = ? AND status = ? ORDER BY last_heartbeat DESC`, ownerID, RunnerOnline)
	if err != nil {
		return nil, fmt.Errorf("store: list online runners: %w", err)
	}
	defer rows.Close()
	var out []*Runner
	for rows.Next() {
		var r Runner
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.AuthSecretHash, &r.Status, &r.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("store: scan runner: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) SetRunnerStatus(ctx context.Context, id string, status RunnerStatus, heartbeat bool) error {
	if heartbeat {
		_, err := s.exec(ctx, `UPDATE runners SET status = ?, last_heartbeat = ? WHERE id = ?`, status, nowUTC(), id)
		if err != nil {
			return fmt.Errorf("store: set runner status: %w", err)
		}
		return nil
	}
	_, err := s.exec(ctx, `UPDATE runners SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: set runner status: %w", err)
	}
	return nil
}

func scanRunner(row *sql.Row) (*Runner, error) {
	var r Runner
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.AuthSecretHash, &r.Status, &r.LastHeartbeat); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan runner: %w", err)
	}
	return &r, nil
}

func (s *Store) CreateRunnerJob(ctx context.Context, j *RunnerJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = nowUTC()
	}
	_, err := s.exec(ctx, `INSERT INTO runner_jobs
		(id, runner_id, owner_id, command, timeout_secs, status, stdout_tail, stderr_tail, exit_code, worker_id, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.RunnerID, j.OwnerID, j.Command, j.TimeoutSecs, j.Status, j.StdoutTail, j.StderrTail, j.ExitCode,
		j.WorkerID, j.CreatedAt, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("store: create runner job: %w", err)
	}
	return nil
}

const runnerJobsSelect = `SELECT id, runner_id, owner_id, command, timeout_secs, status, stdout_tail, stderr_tail,
	exit_code, worker_id, created_at, finished_at FROM runner_jobs`

func (s *Store) GetRunnerJob(ctx context.Context, id string) (*RunnerJob, error) {
	row := s.queryRow(ctx, runnerJobsSelect+` WHERE id = ?`, id)
	var j RunnerJob
	if err := row.Scan(&j.ID, &j.RunnerID, &j.OwnerID, &j.Command, &j.TimeoutSecs, &j.Status, &j.StdoutTail,
		&j.StderrTail, &j.ExitCode, &j.WorkerID, &j.CreatedAt, &j.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan runner job: %w", err)
	}
	return &j, nil
}

// FinishRunnerJob records the terminal WS dispatch outcome reported by the
// runner fleet (spec.md §4.7: stdout/stderr tails, exit code, timeout).
func (s *Store) FinishRunnerJob(ctx context.Context, id string, status RunnerJobStatus, stdoutTail, stderrTail string, exitCode *int) error {
	_, err := s.exec(ctx, `UPDATE runner_jobs SET status = ?, stdout_tail = ?, stderr_tail = ?, exit_code = ?, finished_at = ? WHERE id = ?`,
		status, stdoutTail, stderrTail, exitCode, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("store: finish runner job: %w", err)
	}
	return nil
}

func (s *Store) SetRunnerJobWorker(ctx context.Context, id, workerID string) error {
	_, err := s.exec(ctx, `UPDATE runner_jobs SET worker_id = ?, status = ? WHERE id = ?`, workerID, RunnerJobRunning, id)
	if err != nil {
		return fmt.Errorf("store: set runner job worker: %w", err)
	}
	return nil
}
