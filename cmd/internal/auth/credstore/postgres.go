package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lexion/cmd/internal/auth/session"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores the credential in lexion.credentials, keyed by slot.
// The pool is owned by the caller.
type Postgres struct {
	pool *pgxpool.Pool
	slot string
}

// NewPostgres returns a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool, slot string) (*Postgres, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(slot) == "" {
		slot = "default"
	}
	return &Postgres{pool: pool, slot: slot}, nil
}

// EnsureSchema creates the schema and table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS lexion;
		CREATE TABLE IF NOT EXISTS lexion.credentials (
			slot       text PRIMARY KEY,
			value      text NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure credential schema: %w", err)
	}
	return nil
}

func (s *Postgres) Load(ctx context.Context) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `
		SELECT value
		FROM lexion.credentials
		WHERE slot = $1
	`, s.slot).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", session.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if strings.TrimSpace(v) == "" {
		return "", session.ErrNoCredential
	}
	return v, nil
}

func (s *Postgres) Save(ctx context.Context, credential string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lexion.credentials (slot, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (slot) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, s.slot, credential)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM lexion.credentials WHERE slot = $1`, s.slot)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
