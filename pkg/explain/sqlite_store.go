package explain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists tokens in a SQLite table so that separate CLI
// invocations share them.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS explain_tokens (
		token_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		issued_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_explain_tokens_expires ON explain_tokens (expires_at);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("failed to migrate explain_tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, tok Token) error {
	query := `INSERT INTO explain_tokens (token_id, user_id, fingerprint, issued_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, 0)`
	_, err := s.db.ExecContext(ctx, query,
		tok.ID, tok.UserID, tok.Fingerprint, tok.IssuedAt.UnixNano(), tok.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert explain token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Token, error) {
	query := `SELECT token_id, user_id, fingerprint, issued_at, expires_at, used, used_at
		FROM explain_tokens WHERE token_id = ?`
	var (
		tok             Token
		issued, expires int64
		used            int
		usedAt          sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tok.ID, &tok.UserID, &tok.Fingerprint, &issued, &expires, &used, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get explain token: %w", err)
	}
	tok.IssuedAt = time.Unix(0, issued).UTC()
	tok.ExpiresAt = time.Unix(0, expires).UTC()
	tok.Used = used != 0
	if usedAt.Valid {
		t := time.Unix(0, usedAt.Int64).UTC()
		tok.UsedAt = &t
	}
	return &tok, nil
}

func (s *SQLiteStore) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE explain_tokens SET used = 1, used_at = ? WHERE token_id = ? AND used = 0`,
		at.UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark explain token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM explain_tokens WHERE expires_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune explain tokens: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
