package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestListOnlineRunners_FiltersByStatus(t *testing.T) {
	mock, s := setupMockStore(t, DialectSQLite)
	mock.ExpectQuery(`SELECT .* FROM runners WHERE owner_id = \? AND status = \? ORDER BY last_heartbeat DESC`).
		WithArgs("owner-1", RunnerOnline).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "auth_secret_hash", "status", "last_heartbeat"}).
			AddRow("runner-1", "owner-1", "laptop", "hash", RunnerOnline, time.Now()))

	runners, err := s.ListOnlineRunners(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, runners, 1)
}

func TestSetRunnerStatus_WithHeartbeatUpdatesTimestamp(t *testing.T) {
	mock, s := setupMockStore(t, DialectSQLite)
	mock.ExpectExec(`UPDATE runners SET status = \?, last_heartbeat = \? WHERE id = \?`).
		WithArgs(RunnerOnline, sqlmock.AnyArg(), "runner-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SetRunnerStatus(context.Background(), "runner-1", RunnerOnline, true)
	require.NoError(t, err)
}

func TestFinishRunnerJob(t *testing.T) {
	mock, s := setupMockStore(t, DialectSQLite)
	code := 0
	mock.ExpectExec(`UPDATE runner_jobs SET status = \?, stdout_tail = \?, stderr_tail = \?, exit_code = \?, finished_at = \? WHERE id = \?`).
		WithArgs(RunnerJobSuccess, "ok\n", "", &code, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.FinishRunnerJob(context.Background(), "job-1", RunnerJobSuccess, "ok\n", "", &code)
	require.NoError(t, err)
}
