package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestGetConciergeThread_PicksNewest(t *testing.T) {
	mock, s := setupMockStore(t, DialectSQLite)
	mock.ExpectQuery(`SELECT id, fiche_id, owner_id, type, fiche_state, created_at FROM threads\s*
		WHERE fiche_id = \? AND type = \? ORDER BY created_at DESC LIMIT 1`).
		WithArgs("fiche-1", ThreadConcierge).
		WillReturnRows(sqlmock.NewRows([]string{"id", "fiche_id", "owner_id", "type", "fiche_state", "created_at"}).
			AddRow("thread-2", "fiche-1", "owner-1", ThreadConcierge, nil, time.Now()))

	th, err := s.GetConciergeThread(context.Background(), "fiche-1")
	require.NoError(t, err)
	require.Equal(t, "thread-2", th.ID)
}

func TestSetFicheState_PersistsCheckpoint(t *testing.T) {
	mock, s := setupMockStore(t, DialectSQLite)
	mock.ExpectExec(`UPDATE threads SET fiche_state = \? WHERE id = \?`).
		WithArgs([]byte("checkpoint-bytes"), "thread-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SetFicheState(context.Background(), "thread-1", []byte("checkpoint-bytes"))
	require.NoError(t, err)
}

func TestListMessages_OrdersByCreatedAtThenID(t *testing.T) {
	mock, s := setupMockStore(t, DialectSQLite)
	mock.ExpectQuery(`SELECT .* FROM thread_messages WHERE thread_id = \? ORDER BY created_at, id`).
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "thread_id", "role", "content", "tool_calls", "tool_call_id",
			"processed", "assistant_id", "created_at"}).
			AddRow("msg-1", "thread-1", RoleUserMsg, "hi", "[]", "", false, "", time.Now()).
			AddRow("msg-2", "thread-1", RoleAssistant, "hello", "[]", "", false, "asst-1", time.Now()))

	msgs, err := s.ListMessages(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "msg-1", msgs[0].ID)
}

func TestMarkMessagesProcessed(t *testing.T) {
	mock, s := setupMockStore(t, DialectSQLite)
	mock.ExpectExec(`UPDATE thread_messages SET processed = \? WHERE id = \?`).
		WithArgs(true, "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE thread_messages SET processed = \? WHERE id = \?`).
		WithArgs(true, "msg-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkMessagesProcessed(context.Background(), []string{"msg-1", "msg-2"})
	require.NoError(t, err)
}
