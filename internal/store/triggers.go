package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) CreateTrigger(ctx context.Context, t *Trigger) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = nowUTC()
	}
	_, err := s.exec(ctx, `INSERT INTO triggers (id, fiche_id, type, secret_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.FicheID, t.Type, t.SecretHash, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create trigger: %w", err)
	}
	return nil
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := s.queryRow(ctx, `SELECT id, fiche_id, type, secret_hash, created_at FROM triggers WHERE id = ?`, id)
	var t Trigger
	if err := row.Scan(&t.ID, &t.FicheID, &t.Type, &t.SecretHash, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan trigger: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTriggersByFiche(ctx context.Context, ficheID string) ([]*Trigger, error) {
	rows, err := s.query(ctx, `SELECT id, fiche_id, type, secret_hash, created_at FROM triggers WHERE fiche_id = ?`, ficheID)
	if err != nil {
		return nil, fmt.Errorf("store: list triggers: %w", err)
	}
	defer rows.Close()
	var out []*Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.ID, &t.FicheID, &t.Type, &t.SecretHash, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan trigger: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete trigger: %w", err)
	}
	return nil
}

func (s *Store) CreateDeviceToken(ctx context.Context, d *DeviceToken) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = nowUTC()
	}
	_, err := s.exec(ctx, `INSERT INTO device_tokens (owner_id, device_id, hashed_token, created_at) VALUES (?, ?, ?, ?)`,
		d.OwnerID, d.DeviceID, d.HashedToken, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create device token: %w", err)
	}
	return nil
}

func (s *Store) ListDeviceTokens(ctx context.Context, ownerID string) ([]*DeviceToken, error) {
	rows, err := s.query(ctx, `SELECT owner_id, device_id, hashed_token, created_at FROM device_tokens WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list device tokens: %w", err)
	}
	defer rows.Close()
	var out []*DeviceToken
	for rows.Next() {
		var d DeviceToken
		if err := rows.Scan(&d.OwnerID, &d.DeviceID, &d.HashedToken, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan device token: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDeviceToken(ctx context.Context, ownerID, deviceID string) error {
	_, err := s.exec(ctx, `DELETE FROM device_tokens WHERE owner_id = ? AND device_id = ?`, ownerID, deviceID)
	if err != nil {
		return fmt.Errorf("store: delete device token: %w", err)
	}
	return nil
}
