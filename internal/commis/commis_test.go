package commis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rjlane/courses/internal/barrier"
	"github.com/rjlane/courses/internal/credentials"
	"github.com/rjlane/courses/internal/events"
	"github.com/rjlane/courses/internal/ficherunner"
	"github.com/rjlane/courses/internal/store"
)

type fakeRunner struct {
	result *ficherunner.Result
	err    error
}

func (f *fakeRunner) RunThread(_ context.Context, _ *store.Fiche, _ *store.Thread, _ *store.Course) (*ficherunner.Result, error) {
	return f.result, f.err
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, _, _ string) (string, error) { return "", nil }

func newMockExecutor(t *testing.T, runner threadRunner) (sqlmock.Sqlmock, *events.Bus, *Executor) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := &store.Store{DB: db, Dialect: store.DialectSQLite}
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	mgr := barrier.NewManager(st, nil)

	return mock, bus, &Executor{Store: st, Bus: bus, Barrier: mgr, Runner: runner, Resolver: fakeResolver{}}
}

func commisJobRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "concierge_course_id", "task", "model", "execution_mode",
		"git_repo", "status", "commis_id", "trace_id", "result_summary", "artifacts", "created_at", "finished_at"}).
		AddRow(id, "owner-1", "course-parent", "research X", "", store.CommisPlain, "", store.CommisQueued,
			"fiche-commis", "trace-1", "", "", time.Now(), nil)
}

func ficheRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "name", "system_instructions", "task_instructions", "model",
		"reasoning_effort", "allowed_tools", "config", "schedule_cron", "status", "is_concierge", "created_at"}).
		AddRow(id, "owner-1", "researcher", "be terse", "", "", "", `[]`, `{}`, "", store.FicheIdle, false, time.Now())
}

func TestExecute_SuccessPublishesEventsAndResolvesBarrier(t *testing.T) {
	mock, bus, ex := newMockExecutor(t, &fakeRunner{result: &ficherunner.Result{Content: "done"}})

	var mu sync.Mutex
	var seen []events.EventType
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	mock.ExpectQuery(`SELECT id, owner_id, concierge_course_id`).WithArgs("job-1").WillReturnRows(commisJobRow("job-1"))
	mock.ExpectQuery(`SELECT id, owner_id, name`).WithArgs("fiche-commis").WillReturnRows(ficheRow("fiche-commis"))
	mock.ExpectExec(`UPDATE commis_jobs SET status = \?`).WithArgs(store.CommisRunning, "job-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO threads`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO courses`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE courses SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE commis_jobs SET status = \?, result_summary = \?`).
		WithArgs(store.CommisSuccess, "done", "", sqlmock.AnyArg(), "job-1").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, job_ids FROM commis_barriers WHERE course_id = \?`).
		WithArgs("course-parent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_ids"}).AddRow("barrier-1", `["job-1"]`))
	mock.ExpectExec(`UPDATE commis_barriers SET job_ids = \?`).WithArgs(`[]`, "barrier-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT .* FROM courses WHERE id = \?`).
		WithArgs("course-parent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fiche_id", "thread_id", "owner_id", "status", "trigger",
			"trace_id", "started_at", "finished_at", "duration_ms", "total_tokens", "total_cost_usd", "summary",
			"error", "continuation_of_course_id"}).
			AddRow("course-parent", "fiche-concierge", "thread-parent", "owner-1", store.CourseDeferred, store.TriggerManual,
				"trace-1", time.Now(), nil, 0, 0, 0.0, "", "", ""))
	mock.ExpectQuery(`SELECT id, course_id, job_ids, created_at FROM commis_barriers WHERE course_id = \?`).
		WithArgs("course-parent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "job_ids", "created_at"}).
			AddRow("barrier-1", "course-parent", `[]`, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM commis_barriers WHERE id = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO courses`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ex.Execute(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, seen, events.EventCommisStarted)
	require.Contains(t, seen, events.EventCommisComplete)
}

func TestExecute_CancelledJobIsANoOp(t *testing.T) {
	mock, _, ex := newMockExecutor(t, &fakeRunner{})

	rows := sqlmock.NewRows([]string{"id", "owner_id", "concierge_course_id", "task", "model", "execution_mode",
		"git_repo", "status", "commis_id", "trace_id", "result_summary", "artifacts", "created_at", "finished_at"}).
		AddRow("job-1", "owner-1", "course-parent", "x", "", store.CommisPlain, "", store.CommisCancelled,
			"fiche-commis", "trace-1", "", "", time.Now(), nil)
	mock.ExpectQuery(`SELECT id, owner_id, concierge_course_id`).WithArgs("job-1").WillReturnRows(rows)

	err := ex.Execute(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_RunnerErrorReportsFailureAndResolvesBarrier(t *testing.T) {
	mock, bus, ex := newMockExecutor(t, &fakeRunner{err: errors.New("model unavailable")})

	var mu sync.Mutex
	var seen []events.EventType
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	mock.ExpectQuery(`SELECT id, owner_id, concierge_course_id`).WithArgs("job-1").WillReturnRows(commisJobRow("job-1"))
	mock.ExpectQuery(`SELECT id, owner_id, name`).WithArgs("fiche-commis").WillReturnRows(ficheRow("fiche-commis"))
	mock.ExpectExec(`UPDATE commis_jobs SET status = \?`).WithArgs(store.CommisRunning, "job-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO threads`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO courses`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE courses SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE commis_jobs SET status = \?, result_summary = \?`).
		WithArgs(store.CommisFailed, "model unavailable", "", sqlmock.AnyArg(), "job-1").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, job_ids FROM commis_barriers WHERE course_id = \?`).
		WithArgs("course-parent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_ids"}).AddRow("barrier-1", `["job-1"]`))
	mock.ExpectExec(`UPDATE commis_barriers SET job_ids = \?`).WithArgs(`[]`, "barrier-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT .* FROM courses WHERE id = \?`).
		WithArgs("course-parent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fiche_id", "thread_id", "owner_id", "status", "trigger",
			"trace_id", "started_at", "finished_at", "duration_ms", "total_tokens", "total_cost_usd", "summary",
			"error", "continuation_of_course_id"}).
			AddRow("course-parent", "fiche-concierge", "thread-parent", "owner-1", store.CourseDeferred, store.TriggerManual,
				"trace-1", time.Now(), nil, 0, 0, 0.0, "", "", ""))
	mock.ExpectQuery(`SELECT id, course_id, job_ids, created_at FROM commis_barriers WHERE course_id = \?`).
		WithArgs("course-parent").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "job_ids", "created_at"}).
			AddRow("barrier-1", "course-parent", `[]`, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM commis_barriers WHERE id = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO courses`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ex.Execute(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, seen, events.EventCommisFailed)
}

var _ credentials.Resolver = fakeResolver{}
