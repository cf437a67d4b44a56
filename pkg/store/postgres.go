package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresRepository stores states in a JSONB column.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the user_states table if needed.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS user_states (
			user_id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate user_states: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*UserState, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT version, state FROM user_states WHERE user_id = $1", userID)

	var (
		version int64
		raw     []byte
	)
	err := row.Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}
	return decode(raw, version)
}

func (r *PostgresRepository) Put(ctx context.Context, st *UserState) error {
	raw, err := encode(st)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO user_states (user_id, version, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, st.UserID, st.Version, raw, st.UpdatedAt); err != nil {
		return fmt.Errorf("failed to persist user state: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, st *UserState, expected int64) error {
	next := *st
	next.Version = expected + 1
	raw, err := encode(&next)
	if err != nil {
		return err
	}

	var res sql.Result
	if expected == 0 {
		res, err = r.db.ExecContext(ctx, `
		INSERT INTO user_states (user_id, version, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`,
			st.UserID, next.Version, raw, st.UpdatedAt)
	} else {
		res, err = r.db.ExecContext(ctx, `
		UPDATE user_states SET version = $1, state = $2, updated_at = $3
		WHERE user_id = $4 AND version = $5`,
			next.Version, raw, st.UpdatedAt, st.UserID, expected)
	}
	if err != nil {
		return fmt.Errorf("failed to swap user state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to swap user state: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	st.Version = next.Version
	return nil
}
