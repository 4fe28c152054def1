package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) CreateCourse(ctx context.Context, c *Course) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = nowUTC()
	}
	_, err := s.exec(ctx, `INSERT INTO courses
		(id, fiche_id, thread_id, owner_id, status, trigger, trace_id, started_at, finished_at,
		 duration_ms, total_tokens, total_cost_usd, summary, error, continuation_of_course_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FicheID, c.ThreadID, c.OwnerID, c.Status, c.Trigger, c.TraceID, c.StartedAt, c.FinishedAt,
		c.DurationMs, c.TotalTokens, c.TotalCostUSD, c.Summary, c.Error, c.ContinuationOfCourseID)
	if err != nil {
		return fmt.Errorf("store: create course: %w", err)
	}
	return nil
}

const coursesSelect = `SELECT id, fiche_id, thread_id, owner_id, status, trigger, trace_id, started_at, finished_at,
	duration_ms, total_tokens, total_cost_usd, summary, error, continuation_of_course_id FROM courses`

func (s *Store) GetCourse(ctx context.Context, id string) (*Course, error) {
	row := s.queryRow(ctx, coursesSelect+` WHERE id = ?`, id)
	return scanCourse(row)
}

func (s *Store) ListCoursesByOwner(ctx context.Context, ownerID string, limit int) ([]*Course, error) {
	rows, err := s.query(ctx, coursesSelect+` WHERE owner_id = ? ORDER BY started_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list courses: %w", err)
	}
	defer rows.Close()
	var out []*Course
	for rows.Next() {
		c, err := scanCourseRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCourseStatus finalizes a course: it writes status, summary, errMsg and
// durationMs and stamps finished_at with the current time, whatever the
// status. Callers use it for the terminal statuses (success or failed);
// SetCourseDeferred and SetCourseRunning change status alone. See spec.md §3
// invariant: "A course's status is monotone except deferred↔running cycles."
func (s *Store) SetCourseStatus(ctx context.Context, id string, status CourseStatus, summary, errMsg string, durationMs int64) error {
	_, err := s.exec(ctx, `UPDATE courses SET status = ?, summary = ?, error = ?, duration_ms = ?, finished_at = ? WHERE id = ?`,
		status, summary, errMsg, durationMs, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("store: set course status: %w", err)
	}
	return nil
}

// SetCourseDeferred marks a course deferred without a finished_at timestamp
// (spec.md §4.4 step 9): the course is not done, it is waiting on commis work.
func (s *Store) SetCourseDeferred(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE courses SET status = ? WHERE id = ?`, CourseDeferred, id)
	if err != nil {
		return fmt.Errorf("store: set course deferred: %w", err)
	}
	return nil
}

// SetCourseRunning transitions a course back to running without touching its
// terminal fields, the mirror image of SetCourseDeferred: used when a
// continuation course (or a resumed deferred one) starts executing.
func (s *Store) SetCourseRunning(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE courses SET status = ? WHERE id = ?`, CourseRunning, id)
	if err != nil {
		return fmt.Errorf("store: set course running: %w", err)
	}
	return nil
}

func (s *Store) AddCourseTokens(ctx context.Context, id string, tokens int, costUSD float64) error {
	_, err := s.exec(ctx, `UPDATE courses SET total_tokens = total_tokens + ?, total_cost_usd = total_cost_usd + ? WHERE id = ?`,
		tokens, costUSD, id)
	if err != nil {
		return fmt.Errorf("store: accumulate course tokens: %w", err)
	}
	return nil
}

// CreateContinuation implements the idempotency guard from spec.md §4.5:
// "Continuation creation is guarded by the unique constraint on
// continuation_of_course_id: only one continuation row can ever be created
// per parent." It returns the winning continuation course id regardless of
// whether this call created it or lost a race to a concurrent caller.
func (s *Store) CreateContinuation(ctx context.Context, parent *Course, continuation *Course) (id string, created bool, err error) {
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if continuation.StartedAt.IsZero() {
			continuation.StartedAt = nowUTC()
		}
		_, execErr := tx.ExecContext(ctx, s.rebind(`INSERT INTO courses
			(id, fiche_id, thread_id, owner_id, status, trigger, trace_id, started_at, finished_at,
			 duration_ms, total_tokens, total_cost_usd, summary, error, continuation_of_course_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			continuation.ID, continuation.FicheID, continuation.ThreadID, continuation.OwnerID,
			continuation.Status, continuation.Trigger, continuation.TraceID, continuation.StartedAt, continuation.FinishedAt,
			continuation.DurationMs, continuation.TotalTokens, continuation.TotalCostUSD, continuation.Summary,
			continuation.Error, parent.ID)
		if execErr == nil {
			id = continuation.ID
			created = true
			return nil
		}
		if !isUniqueViolation(execErr) {
			return execErr
		}
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM courses WHERE continuation_of_course_id = ?`), parent.ID)
		return row.Scan(&id)
	})
	return id, created, err
}

// GetCourseByContinuationOf finds the continuation row for parentID, if one
// has been created yet. Returns ErrNotFound until internal/barrier.Manager
// resolves the barrier.
func (s *Store) GetCourseByContinuationOf(ctx context.Context, parentID string) (*Course, error) {
	row := s.queryRow(ctx, coursesSelect+` WHERE continuation_of_course_id = ?`, parentID)
	return scanCourse(row)
}

func isUniqueViolation(err error) bool {
	// Both drivers surface unique-constraint violations as plain string
	// errors (modernc.org/sqlite: "UNIQUE constraint failed"; pgx: SQLSTATE
	// 23505 formatted into Error()); matching text keeps this driver-agnostic
	// without importing each driver's error type.
	msg := err.Error()
	return contains(msg, "UNIQUE constraint failed") || contains(msg, "23505") || contains(msg, "duplicate key")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func scanCourse(row *sql.Row) (*Course, error) {
	var c Course
	if err := row.Scan(&c.ID, &c.FicheID, &c.ThreadID, &c.OwnerID, &c.Status, &c.Trigger, &c.TraceID,
		&c.StartedAt, &c.FinishedAt, &c.DurationMs, &c.TotalTokens, &c.TotalCostUSD, &c.Summary, &c.Error,
		&c.ContinuationOfCourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan course: %w", err)
	}
	return &c, nil
}

func scanCourseRows(rows *sql.Rows) (*Course, error) {
	var c Course
	if err := rows.Scan(&c.ID, &c.FicheID, &c.ThreadID, &c.OwnerID, &c.Status, &c.Trigger, &c.TraceID,
		&c.StartedAt, &c.FinishedAt, &c.DurationMs, &c.TotalTokens, &c.TotalCostUSD, &c.Summary, &c.Error,
		&c.ContinuationOfCourseID); err != nil {
		return nil, fmt.Errorf("store: scan course: %w", err)
	}
	return &c, nil
}

// AppendCourseEvent is the durable half of spec.md §4.2: inside one
// transaction it reads the course's current MAX(seq) and inserts seq+1, so
// the sequence is contiguous and strictly increasing (spec.md §8 invariant
// 2). No row lock is taken; two concurrent writers for the same course that
// read the same maximum collide on the (course_id, seq) primary key and the
// later insert fails. It does not publish the event to the live bus.
func (s *Store) AppendCourseEvent(ctx context.Context, courseID, eventType string, payload map[string]any) (seq int64, err error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("store: marshal event payload: %w", err)
	}
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM course_events WHERE course_id = ?`), courseID)
		var maxSeq int64
		if scanErr := row.Scan(&maxSeq); scanErr != nil {
			return scanErr
		}
		seq = maxSeq + 1
		_, execErr := tx.ExecContext(ctx, s.rebind(`INSERT INTO course_events (course_id, seq, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`),
			courseID, seq, eventType, string(payloadJSON), nowUTC())
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("store: append course event: %w", err)
	}
	return seq, nil
}

// ListCourseEventsSince implements the SSE-replay read path: "(course_id,
// seq > last_seen_seq)".
func (s *Store) ListCourseEventsSince(ctx context.Context, courseID string, lastSeenSeq int64) ([]*CourseEvent, error) {
	rows, err := s.query(ctx, `SELECT course_id, seq, event_type, payload, created_at FROM course_events
		WHERE course_id = ? AND seq > ? ORDER BY seq`, courseID, lastSeenSeq)
	if err != nil {
		return nil, fmt.Errorf("store: list course events: %w", err)
	}
	defer rows.Close()

	var out []*CourseEvent
	for rows.Next() {
		var e CourseEvent
		var payload string
		if err := rows.Scan(&e.CourseID, &e.Seq, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan course event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("store: unmarshal event payload: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
