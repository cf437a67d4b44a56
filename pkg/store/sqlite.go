package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores each user's state as a JSON document with a
// version column.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a database file and migrates it.
func OpenSQLite(path string) (*SQLiteRepository, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One writer at a time; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	repo, err := NewSQLiteRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

// NewSQLiteRepository migrates db and returns a repository over it.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS user_states (
		user_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := r.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to migrate user_states: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID string) (*UserState, error) {
	var (
		version int64
		raw     string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, state FROM user_states WHERE user_id = ?`, userID).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}
	return decode([]byte(raw), version)
}

func (r *SQLiteRepository) Put(ctx context.Context, st *UserState) error {
	raw, err := encode(st)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO user_states (user_id, version, state, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		version = excluded.version,
		state = excluded.state,
		updated_at = excluded.updated_at`
	_, err = r.db.ExecContext(ctx, query, st.UserID, st.Version, string(raw), stamp(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to persist user state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CompareAndSwap(ctx context.Context, st *UserState, expected int64) error {
	next := *st
	next.Version = expected + 1
	raw, err := encode(&next)
	if err != nil {
		return err
	}

	var res sql.Result
	if expected == 0 {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO user_states (user_id, version, state, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id) DO NOTHING`,
			st.UserID, next.Version, string(raw), stamp(st.UpdatedAt))
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE user_states SET version = ?, state = ?, updated_at = ? WHERE user_id = ? AND version = ?`,
			next.Version, string(raw), stamp(st.UpdatedAt), st.UserID, expected)
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

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
