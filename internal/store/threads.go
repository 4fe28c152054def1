package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) CreateThread(ctx context.Context, t *Thread) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = nowUTC()
	}
	_, err := s.exec(ctx, `INSERT INTO threads (id, fiche_id, owner_id, type, fiche_state, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.FicheID, t.OwnerID, t.Type, t.FicheState, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create thread: %w", err)
	}
	return nil
}

func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.queryRow(ctx, `SELECT id, fiche_id, owner_id, type, fiche_state, created_at FROM threads WHERE id = ?`, id)
	var t Thread
	if err := row.Scan(&t.ID, &t.FicheID, &t.OwnerID, &t.Type, &t.FicheState, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan thread: %w", err)
	}
	return &t, nil
}

// GetConciergeThread implements the "get-or-create the concierge thread for
// that owner" half of spec.md §4.4 step 2: the newest concierge-type thread
// on the concierge fiche.
func (s *Store) GetConciergeThread(ctx context.Context, ficheID string) (*Thread, error) {
	row := s.queryRow(ctx, `SELECT id, fiche_id, owner_id, type, fiche_state, created_at FROM threads
		WHERE fiche_id = ? AND type = ? ORDER BY created_at DESC LIMIT 1`, ficheID, ThreadConcierge)
	var t Thread
	if err := row.Scan(&t.ID, &t.FicheID, &t.OwnerID, &t.Type, &t.FicheState, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan thread: %w", err)
	}
	return &t, nil
}

// SetFicheState persists the opaque checkpoint handle the Checkpointer
// produces (spec.md §4.3 step 4: "acquire or reuse a checkpoint keyed by
// thread_id").
func (s *Store) SetFicheState(ctx context.Context, threadID string, state []byte) error {
	_, err := s.exec(ctx, `UPDATE threads SET fiche_state = ? WHERE id = ?`, state, threadID)
	if err != nil {
		return fmt.Errorf("store: set fiche_state: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, m *ThreadMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	calls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("store: marshal tool_calls: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO thread_messages
		(id, thread_id, role, content, tool_calls, tool_call_id, processed, assistant_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.Role, m.Content, string(calls), m.ToolCallID, m.Processed, m.AssistantID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// ListMessages returns a thread's messages in insertion order (spec.md §8
// invariant 8: "Thread message insertion order equals message.id order").
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]*ThreadMessage, error) {
	rows, err := s.query(ctx, `SELECT id, thread_id, role, content, tool_calls, tool_call_id, processed, assistant_id, created_at
		FROM thread_messages WHERE thread_id = ? ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []*ThreadMessage
	for rows.Next() {
		var m ThreadMessage
		var calls string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &calls, &m.ToolCallID, &m.Processed, &m.AssistantID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("store: unmarshal tool_calls: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MarkMessagesProcessed flags the given messages processed=true, per
// spec.md §4.3 step 7.
func (s *Store) MarkMessagesProcessed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.exec(ctx, `UPDATE thread_messages SET processed = ? WHERE id = ?`, true, id); err != nil {
			return fmt.Errorf("store: mark message processed: %w", err)
		}
	}
	return nil
}
