package runnertransport

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rjlane/courses/internal/store"
)

func runnerRow(id, hash string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "name", "auth_secret_hash", "status", "last_heartbeat"}).
		AddRow(id, "owner-1", "laptop", hash, store.RunnerOffline, time.Now())
}

func TestAuthenticate_AcceptsMatchingSecret(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := &store.Store{DB: db, Dialect: store.DialectSQLite}

	mock.ExpectQuery(`SELECT .* FROM runners WHERE id = \?`).
		WithArgs("runner-1").
		WillReturnRows(runnerRow("runner-1", HashSecret("correct-secret")))

	a := &RunnerAuthenticator{Store: st}
	r, err := a.Authenticate(context.Background(), "runner-1", "correct-secret")
	require.NoError(t, err)
	require.Equal(t, "runner-1", r.ID)
}

func TestAuthenticate_RejectsWrongSecret(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := &store.Store{DB: db, Dialect: store.DialectSQLite}

	mock.ExpectQuery(`SELECT .* FROM runners WHERE id = \?`).
		WithArgs("runner-1").
		WillReturnRows(runnerRow("runner-1", HashSecret("correct-secret")))

	a := &RunnerAuthenticator{Store: st}
	_, err = a.Authenticate(context.Background(), "runner-1", "wrong-secret")
	require.ErrorIs(t, err, ErrBadSecret)
}

func TestAuthenticate_UnknownRunner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := &store.Store{DB: db, Dialect: store.DialectSQLite}

	mock.ExpectQuery(`SELECT .* FROM runners WHERE id = \?`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(nil))

	a := &RunnerAuthenticator{Store: st}
	_, err = a.Authenticate(context.Background(), "ghost", "whatever")
	require.ErrorIs(t, err, store.ErrNotFound)
}
