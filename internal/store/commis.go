package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) CreateCommisJob(ctx context.Context, j *CommisJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = nowUTC()
	}
	_, err := s.exec(ctx, `INSERT INTO commis_jobs
		(id, owner_id, concierge_course_id, task, model, execution_mode, git_repo, status, commis_id,
		 trace_id, result_summary, artifacts, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OwnerID, j.ConciergeCourseID, j.Task, j.Model, j.ExecutionMode, j.GitRepo, j.Status, j.CommisID,
		j.TraceID, j.ResultSummary, j.Artifacts, j.CreatedAt, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("store: create commis job: %w", err)
	}
	return nil
}

const commisJobsSelect = `SELECT id, owner_id, concierge_course_id, task, model, execution_mode, git_repo, status,
	commis_id, trace_id, result_summary, artifacts, created_at, finished_at FROM commis_jobs`

func (s *Store) GetCommisJob(ctx context.Context, id string) (*CommisJob, error) {
	row := s.queryRow(ctx, commisJobsSelect+` WHERE id = ?`, id)
	return scanCommisJob(row)
}

// ListCommisJobsByIDs fetches a barrier's still-outstanding jobs in one
// round trip, used by internal/barrier to decide whether a course is ready
// to resume (spec.md §4.5 Phase 2).
func (s *Store) ListCommisJobsByIDs(ctx context.Context, ids []string) ([]*CommisJob, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := commisJobsSelect + ` WHERE id IN (` + joinPlaceholders(placeholders) + `)`
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list commis jobs: %w", err)
	}
	defer rows.Close()
	var out []*CommisJob
	for rows.Next() {
		j, err := scanCommisJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += ", " + p
	}
	return out
}

func (s *Store) SetCommisJobStatus(ctx context.Context, id string, status CommisJobStatus) error {
	_, err := s.exec(ctx, `UPDATE commis_jobs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: set commis job status: %w", err)
	}
	return nil
}

// FinishCommisJob records the terminal outcome of a commis run (spec.md
// §4.5 Phase 2: "writes a commis_jobs row with status and result_summary").
func (s *Store) FinishCommisJob(ctx context.Context, id string, status CommisJobStatus, summary, artifacts string) error {
	now := nowUTC()
	_, err := s.exec(ctx, `UPDATE commis_jobs SET status = ?, result_summary = ?, artifacts = ?, finished_at = ? WHERE id = ?`,
		status, summary, artifacts, now, id)
	if err != nil {
		return fmt.Errorf("store: finish commis job: %w", err)
	}
	return nil
}

func scanCommisJob(row *sql.Row) (*CommisJob, error) {
	var j CommisJob
	if err := row.Scan(&j.ID, &j.OwnerID, &j.ConciergeCourseID, &j.Task, &j.Model, &j.ExecutionMode, &j.GitRepo,
		&j.Status, &j.CommisID, &j.TraceID, &j.ResultSummary, &j.Artifacts, &j.CreatedAt, &j.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan commis job: %w", err)
	}
	return &j, nil
}

func scanCommisJobRows(rows *sql.Rows) (*CommisJob, error) {
	var j CommisJob
	if err := rows.Scan(&j.ID, &j.OwnerID, &j.ConciergeCourseID, &j.Task, &j.Model, &j.ExecutionMode, &j.GitRepo,
		&j.Status, &j.CommisID, &j.TraceID, &j.ResultSummary, &j.Artifacts, &j.CreatedAt, &j.FinishedAt); err != nil {
		return nil, fmt.Errorf("store: scan commis job: %w", err)
	}
	return &j, nil
}

// CreateCommisBarrier implements the unique-per-course barrier row from
// spec.md §4.5 Phase 1: "commis_barriers.course_id UNIQUE — one barrier per
// course, ever."
func (s *Store) CreateCommisBarrier(ctx context.Context, b *CommisBarrier) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = nowUTC()
	}
	jobIDs, err := json.Marshal(b.JobIDs)
	if err != nil {
		return fmt.Errorf("store: marshal job_ids: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO commis_barriers (id, course_id, job_ids, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.CourseID, string(jobIDs), b.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create commis barrier: %w", err)
	}
	return nil
}

func (s *Store) GetCommisBarrierByCourse(ctx context.Context, courseID string) (*CommisBarrier, error) {
	row := s.queryRow(ctx, `SELECT id, course_id, job_ids, created_at FROM commis_barriers WHERE course_id = ?`, courseID)
	var b CommisBarrier
	var jobIDs string
	if err := row.Scan(&b.ID, &b.CourseID, &jobIDs, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan commis barrier: %w", err)
	}
	if err := json.Unmarshal([]byte(jobIDs), &b.JobIDs); err != nil {
		return nil, fmt.Errorf("store: unmarshal job_ids: %w", err)
	}
	return &b, nil
}

// ResolveBarrier implements the Barrier Manager's "empty barrier" path from
// spec.md §4.5: delete the barrier row, create the (at-most-one, per the
// courses.continuation_of_course_id unique constraint) continuation course,
// and inject the tool message carrying the worker summary in the same
// transaction as the continuation insert — so a concurrent caller that loses
// the continuation race also skips the message insert, and the message is
// never duplicated.
func (s *Store) ResolveBarrier(ctx context.Context, barrierID string, parent *Course, continuation *Course, toolMessage *ThreadMessage) (continuationID string, created bool, err error) {
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, execErr := tx.ExecContext(ctx, s.rebind(`DELETE FROM commis_barriers WHERE id = ?`), barrierID); execErr != nil {
			return execErr
		}

		if continuation.StartedAt.IsZero() {
			continuation.StartedAt = nowUTC()
		}
		_, insertErr := tx.ExecContext(ctx, s.rebind(`INSERT INTO courses
			(id, fiche_id, thread_id, owner_id, status, trigger, trace_id, started_at, finished_at,
			 duration_ms, total_tokens, total_cost_usd, summary, error, continuation_of_course_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			continuation.ID, continuation.FicheID, continuation.ThreadID, continuation.OwnerID,
			continuation.Status, continuation.Trigger, continuation.TraceID, continuation.StartedAt, continuation.FinishedAt,
			continuation.DurationMs, continuation.TotalTokens, continuation.TotalCostUSD, continuation.Summary,
			continuation.Error, parent.ID)
		if insertErr == nil {
			continuationID = continuation.ID
			created = true
			if toolMessage.CreatedAt.IsZero() {
				toolMessage.CreatedAt = nowUTC()
			}
			calls, marshalErr := json.Marshal(toolMessage.ToolCalls)
			if marshalErr != nil {
				return marshalErr
			}
			_, msgErr := tx.ExecContext(ctx, s.rebind(`INSERT INTO thread_messages
				(id, thread_id, role, content, tool_calls, tool_call_id, processed, assistant_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				toolMessage.ID, toolMessage.ThreadID, toolMessage.Role, toolMessage.Content, string(calls),
				toolMessage.ToolCallID, toolMessage.Processed, toolMessage.AssistantID, toolMessage.CreatedAt)
			return msgErr
		}
		if !isUniqueViolation(insertErr) {
			return insertErr
		}
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM courses WHERE continuation_of_course_id = ?`), parent.ID)
		return row.Scan(&continuationID)
	})
	return continuationID, created, err
}

// RemoveBarrierJob drops a completed job id from the barrier's outstanding
// list, returning the remaining count so the caller can decide whether to
// resume the course (spec.md §4.5 Phase 2: "when the last outstanding job
// resolves, ... resume").
func (s *Store) RemoveBarrierJob(ctx context.Context, courseID, jobID string) (remaining int, err error) {
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT id, job_ids FROM commis_barriers WHERE course_id = ?`), courseID)
		var id, jobIDsJSON string
		if scanErr := row.Scan(&id, &jobIDsJSON); scanErr != nil {
			return scanErr
		}
		var jobIDs []string
		if jsonErr := json.Unmarshal([]byte(jobIDsJSON), &jobIDs); jsonErr != nil {
			return jsonErr
		}
		next := jobIDs[:0]
		for _, existing := range jobIDs {
			if existing != jobID {
				next = append(next, existing)
			}
		}
		updated, marshalErr := json.Marshal(next)
		if marshalErr != nil {
			return marshalErr
		}
		if _, execErr := tx.ExecContext(ctx, s.rebind(`UPDATE commis_barriers SET job_ids = ? WHERE id = ?`), string(updated), id); execErr != nil {
			return execErr
		}
		remaining = len(next)
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("store: remove barrier job: %w", err)
	}
	return remaining, nil
}
