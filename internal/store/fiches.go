package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) CreateFiche(ctx context.Context, f *Fiche) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = nowUTC()
	}
	tools, err := json.Marshal(f.AllowedTools)
	if err != nil {
		return fmt.Errorf("store: marshal allowed_tools: %w", err)
	}
	cfg, err := json.Marshal(f.Config)
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO fiches
		(id, owner_id, name, system_instructions, task_instructions, model, reasoning_effort, allowed_tools, config, schedule_cron, status, is_concierge, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.Name, f.SystemInstruction, f.TaskInstruction, f.Model, f.ReasoningEffort,
		string(tools), string(cfg), f.ScheduleCron, f.Status, f.IsConcierge, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create fiche: %w", err)
	}
	return nil
}

func (s *Store) GetFiche(ctx context.Context, id string) (*Fiche, error) {
	row := s.queryRow(ctx, fichesSelect+` WHERE id = ?`, id)
	return scanFiche(row)
}

// GetConciergeFiche implements the "get-or-create a singleton concierge
// fiche per owner" lookup half of spec.md §4.4 step 1.
func (s *Store) GetConciergeFiche(ctx context.Context, ownerID string) (*Fiche, error) {
	row := s.queryRow(ctx, fichesSelect+` WHERE owner_id = ? AND is_concierge = `+boolTrue(s.Dialect), ownerID)
	return scanFiche(row)
}

func (s *Store) ListFichesByOwner(ctx context.Context, ownerID string) ([]*Fiche, error) {
	rows, err := s.query(ctx, fichesSelect+` WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list fiches: %w", err)
	}
	defer rows.Close()
	var out []*Fiche
	for rows.Next() {
		f, err := scanFicheRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListScheduledFiches returns all fiches with a non-empty schedule_cron, for
// the scheduler to register as cron-driven JobConfig entries.
func (s *Store) ListScheduledFiches(ctx context.Context) ([]*Fiche, error) {
	rows, err := s.query(ctx, fichesSelect+` WHERE schedule_cron != ''`)
	if err != nil {
		return nil, fmt.Errorf("store: list scheduled fiches: %w", err)
	}
	defer rows.Close()
	var out []*Fiche
	for rows.Next() {
		f, err := scanFicheRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) SetFicheStatus(ctx context.Context, id string, status FicheStatus) error {
	_, err := s.exec(ctx, `UPDATE fiches SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: set fiche status: %w", err)
	}
	return nil
}

const fichesSelect = `SELECT id, owner_id, name, system_instructions, task_instructions, model, reasoning_effort, allowed_tools, config, schedule_cron, status, is_concierge, created_at FROM fiches`

func scanFiche(row *sql.Row) (*Fiche, error) {
	var f Fiche
	var tools, cfg string
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.SystemInstruction, &f.TaskInstruction, &f.Model,
		&f.ReasoningEffort, &tools, &cfg, &f.ScheduleCron, &f.Status, &f.IsConcierge, &f.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan fiche: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &f.AllowedTools); err != nil {
		return nil, fmt.Errorf("store: unmarshal allowed_tools: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &f.Config); err != nil {
		return nil, fmt.Errorf("store: unmarshal config: %w", err)
	}
	return &f, nil
}

func scanFicheRows(rows *sql.Rows) (*Fiche, error) {
	var f Fiche
	var tools, cfg string
	if err := rows.Scan(&f.ID, &f.OwnerID, &f.Name, &f.SystemInstruction, &f.TaskInstruction, &f.Model,
		&f.ReasoningEffort, &tools, &cfg, &f.ScheduleCron, &f.Status, &f.IsConcierge, &f.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: scan fiche: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &f.AllowedTools); err != nil {
		return nil, fmt.Errorf("store: unmarshal allowed_tools: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &f.Config); err != nil {
		return nil, fmt.Errorf("store: unmarshal config: %w", err)
	}
	return &f, nil
}

func boolTrue(d Dialect) string {
	if d == DialectPostgres {
		return "TRUE"
	}
	return "1"
}
