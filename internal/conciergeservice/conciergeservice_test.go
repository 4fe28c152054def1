package conciergeservice

import (
	"context"
	"errors"
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

func newMockService(t *testing.T, runner ficheRunner) (sqlmock.Sqlmock, *events.Bus, *Service) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := &store.Store{DB: db, Dialect: store.DialectSQLite}
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	mgr := barrier.NewManager(st, nil)

	return mock, bus, &Service{Store: st, Bus: bus, Barrier: mgr, Runner: runner, Resolver: fakeResolver{}, PollInterval: 5 * time.Millisecond}
}

// expectFreshConcierge mocks the "no concierge fiche/thread yet" get-or-create
// path: both selects miss, both inserts succeed.
func expectFreshConcierge(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT id, owner_id, name, system_instructions`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO fiches`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, fiche_id, owner_id, type, fiche_state, created_at FROM threads`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO threads`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectCourseCreateAndMessage(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`INSERT INTO courses`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestRunConcierge_SuccessCreatesFicheThreadCourseAndPublishes(t *testing.T) {
	mock, bus, svc := newMockService(t, &fakeRunner{result: &ficherunner.Result{Content: "done", TokensInput: 10, TokensOutput: 5}})

	var seen []events.EventType
	bus.Subscribe(func(e events.Event) { seen = append(seen, e.Type) })

	expectFreshConcierge(mock)
	expectCourseCreateAndMessage(mock)
	mock.ExpectExec(`UPDATE courses SET status = \?, summary = \?, error = \?, duration_ms = \?`).
		WithArgs(store.CourseSuccess, "done", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.RunConcierge(context.Background(), "owner-1", "do something", Options{})
	require.NoError(t, err)
	require.Equal(t, store.CourseSuccess, result.Status)
	require.Equal(t, "done", result.Result)
	require.NoError(t, mock.ExpectationsWereMet())

	time.Sleep(20 * time.Millisecond)
	require.Contains(t, seen, events.EventCourseCreated)
	require.Contains(t, seen, events.EventCourseComplete)
}

func TestRunConcierge_FailureMarksCourseFailed(t *testing.T) {
	mock, _, svc := newMockService(t, &fakeRunner{err: errors.New("model unavailable")})

	expectFreshConcierge(mock)
	expectCourseCreateAndMessage(mock)
	mock.ExpectExec(`UPDATE courses SET status = \?, summary = \?, error = \?, duration_ms = \?`).
		WithArgs(store.CourseFailed, "", "model unavailable", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.RunConcierge(context.Background(), "owner-1", "do something", Options{})
	require.NoError(t, err)
	require.Equal(t, store.CourseFailed, result.Status)
	require.Equal(t, "model unavailable", result.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunConcierge_InterruptedWithReturnOnDeferredReturnsImmediately(t *testing.T) {
	interrupt := &ficherunner.Interrupted{
		Type:   "commiss_pending",
		JobIDs: []string{"job-1"},
		Jobs:   []ficherunner.CommisJobSpec{{ID: "job-1", FicheID: "fiche-commis", Task: "research"}},
	}
	mock, bus, svc := newMockService(t, &fakeRunner{err: interrupt})

	var seen []events.EventType
	bus.Subscribe(func(e events.Event) { seen = append(seen, e.Type) })

	expectFreshConcierge(mock)
	expectCourseCreateAndMessage(mock)

	mock.ExpectExec(`INSERT INTO commis_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO commis_barriers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE commis_jobs SET status = \?`).WithArgs(store.CommisQueued, "job-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO job_queue`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM job_queue WHERE job_id = \? AND dedupe_key = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE courses SET status = \? WHERE id = \?`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.RunConcierge(context.Background(), "owner-1", "do something", Options{ReturnOnDeferred: true})
	require.NoError(t, err)
	require.Equal(t, store.CourseDeferred, result.Status)
	require.NoError(t, mock.ExpectationsWereMet())

	time.Sleep(20 * time.Millisecond)
	require.Contains(t, seen, events.EventCourseDeferred)
}

func TestRunConcierge_InterruptedWithoutReturnOnDeferredAwaitsContinuation(t *testing.T) {
	interrupt := &ficherunner.Interrupted{
		Type:   "commiss_pending",
		JobIDs: []string{"job-1"},
		Jobs:   []ficherunner.CommisJobSpec{{ID: "job-1", FicheID: "fiche-commis", Task: "research"}},
	}
	mock, _, svc := newMockService(t, &fakeRunner{err: interrupt})

	expectFreshConcierge(mock)
	expectCourseCreateAndMessage(mock)
	mock.ExpectExec(`INSERT INTO commis_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO commis_barriers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE commis_jobs SET status = \?`).WithArgs(store.CommisQueued, "job-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO job_queue`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM job_queue WHERE job_id = \? AND dedupe_key = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE courses SET status = \? WHERE id = \?`).WillReturnResult(sqlmock.NewResult(0, 1))

	// First poll: no continuation yet. Second poll: the continuation exists
	// and has finished successfully.
	mock.ExpectQuery(`SELECT id, fiche_id, thread_id, owner_id, status, trigger, trace_id, started_at, finished_at,\s*duration_ms, total_tokens, total_cost_usd, summary, error, continuation_of_course_id FROM courses WHERE continuation_of_course_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT id, fiche_id, thread_id, owner_id, status, trigger, trace_id, started_at, finished_at,\s*duration_ms, total_tokens, total_cost_usd, summary, error, continuation_of_course_id FROM courses WHERE continuation_of_course_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "fiche_id", "thread_id", "owner_id", "status", "trigger",
			"trace_id", "started_at", "finished_at", "duration_ms", "total_tokens", "total_cost_usd", "summary",
			"error", "continuation_of_course_id"}).
			AddRow("course-cont", "fiche-concierge", "thread-1", "owner-1", store.CourseSuccess, store.TriggerContinuation,
				"trace-1", time.Now(), nil, 120, 0, 0.0, "all done", "", "course-parent"))

	result, err := svc.RunConcierge(context.Background(), "owner-1", "do something", Options{ReturnOnDeferred: false})
	require.NoError(t, err)
	require.Equal(t, store.CourseSuccess, result.Status)
	require.Equal(t, "all done", result.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResume_MarksRunningAndReRunsThread(t *testing.T) {
	mock, _, svc := newMockService(t, &fakeRunner{result: &ficherunner.Result{Content: "resumed"}})

	mock.ExpectQuery(`SELECT id, fiche_id, thread_id, owner_id, status, trigger, trace_id, started_at, finished_at,\s*duration_ms, total_tokens, total_cost_usd, summary, error, continuation_of_course_id FROM courses WHERE id = \?`).
		WithArgs("course-cont").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fiche_id", "thread_id", "owner_id", "status", "trigger",
			"trace_id", "started_at", "finished_at", "duration_ms", "total_tokens", "total_cost_usd", "summary",
			"error", "continuation_of_course_id"}).
			AddRow("course-cont", "fiche-concierge", "thread-1", "owner-1", store.CourseQueued, store.TriggerContinuation,
				"trace-1", time.Now(), nil, 0, 0, 0.0, "", "", "course-parent"))
	mock.ExpectQuery(`SELECT id, owner_id, name, system_instructions`).
		WithArgs("fiche-concierge").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "system_instructions", "task_instructions", "model",
			"reasoning_effort", "allowed_tools", "config", "schedule_cron", "status", "is_concierge", "created_at"}).
			AddRow("fiche-concierge", "owner-1", "concierge", "be helpful", "", "", "", `["*"]`, `{}`, "", store.FicheIdle, true, time.Now()))
	mock.ExpectQuery(`SELECT id, fiche_id, owner_id, type, fiche_state, created_at FROM threads WHERE id = \?`).
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fiche_id", "owner_id", "type", "fiche_state", "created_at"}).
			AddRow("thread-1", "fiche-concierge", "owner-1", store.ThreadConcierge, nil, time.Now()))
	mock.ExpectExec(`UPDATE courses SET status = \? WHERE id = \?`).WithArgs(store.CourseRunning, "course-cont").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE courses SET status = \?, summary = \?, error = \?, duration_ms = \?`).
		WithArgs(store.CourseSuccess, "resumed", "", sqlmock.AnyArg(), sqlmock.AnyArg(), "course-cont").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Resume(context.Background(), "course-cont")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

var _ credentials.Resolver = fakeResolver{}
