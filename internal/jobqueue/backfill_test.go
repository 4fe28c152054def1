package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rjlane/courses/internal/store"
)

func TestCronEnqueuer_RegisterRejectsBadCron(t *testing.T) {
	_, st := newMockStore(t)
	c := NewCronEnqueuer(st, nil, 0)
	err := c.Register(JobConfig{JobID: "bad", Cron: "not a cron", Enabled: true})
	require.Error(t, err)
}

func TestCronEnqueuer_TickSkipsDisabled(t *testing.T) {
	_, st := newMockStore(t)
	c := NewCronEnqueuer(st, nil, 0)
	require.NoError(t, c.Register(JobConfig{JobID: "disabled_job", Cron: "* * * * *", Enabled: false}))

	err := c.Tick(context.Background(), time.Now())
	require.NoError(t, err)
}

func TestCronEnqueuer_TickEnqueuesDueJob(t *testing.T) {
	mock, st := newMockStore(t)
	c := NewCronEnqueuer(st, nil, 0)
	require.NoError(t, c.Register(JobConfig{JobID: "cron_fiche:nightly", Cron: "* * * * *", Enabled: true}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO job_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM job_queue WHERE job_id = \? AND dedupe_key = \? ORDER BY id DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	err := c.Tick(context.Background(), time.Now())
	require.NoError(t, err)
}

func TestExpectedFireTimes_EveryMinuteOverFiveMinuteWindow(t *testing.T) {
	_, st := newMockStore(t)
	c := NewCronEnqueuer(st, nil, 0)
	require.NoError(t, c.Register(JobConfig{JobID: "x", Cron: "* * * * *", Enabled: true}))

	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	fires := expectedFireTimes(c.jobs[0].expr, start, end)
	require.Len(t, fires, 5)
}
