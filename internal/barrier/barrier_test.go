package barrier

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rjlane/courses/internal/store"
)

func newMockStore(t *testing.T) (sqlmock.Sqlmock, *store.Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, &store.Store{DB: db, Dialect: store.DialectSQLite}
}

func TestRelease_NotLastJobDoesNotContinue(t *testing.T) {
	mock, st := newMockStore(t)
	m := NewManager(st, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, job_ids FROM commis_barriers WHERE course_id = \?`).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_ids"}).AddRow("barrier-1", `["job-a","job-b"]`))
	mock.ExpectExec(`UPDATE commis_barriers SET job_ids = \? WHERE id = \?`).
		WithArgs(`["job-b"]`, "barrier-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	continued, id, err := m.Release(context.Background(), "course-1", "job-a", "call-1", "done")
	require.NoError(t, err)
	require.False(t, continued)
	require.Empty(t, id)
}

func TestRelease_LastJobCreatesContinuation(t *testing.T) {
	mock, st := newMockStore(t)
	enqueued := ""
	m := NewManager(st, func(ctx context.Context, continuationCourseID string) error {
		enqueued = continuationCourseID
		return nil
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, job_ids FROM commis_barriers WHERE course_id = \?`).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_ids"}).AddRow("barrier-1", `["job-a"]`))
	mock.ExpectExec(`UPDATE commis_barriers SET job_ids = \? WHERE id = \?`).
		WithArgs(`[]`, "barrier-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT .* FROM courses WHERE id = \?`).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fiche_id", "thread_id", "owner_id", "status", "trigger",
			"trace_id", "started_at", "finished_at", "duration_ms", "total_tokens", "total_cost_usd", "summary",
			"error", "continuation_of_course_id"}).
			AddRow("course-1", "fiche-1", "thread-1", "owner-1", store.CourseDeferred, store.TriggerManual,
				"trace-1", time.Now(), nil, 0, 0, 0.0, "", "", ""))
	mock.ExpectQuery(`SELECT id, course_id, job_ids, created_at FROM commis_barriers WHERE course_id = \?`).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "job_ids", "created_at"}).
			AddRow("barrier-1", "course-1", `[]`, time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM commis_barriers WHERE id = \?`).
		WithArgs("barrier-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO courses`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_messages`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	continued, id, err := m.Release(context.Background(), "course-1", "job-a", "call-1", "commis finished successfully")
	require.NoError(t, err)
	require.True(t, continued)
	require.NotEmpty(t, id)
	require.Equal(t, id, enqueued)
}
