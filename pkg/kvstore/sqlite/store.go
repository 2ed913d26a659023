// Package sqlite implements kvstore.Store on a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eyecheck/gateway/pkg/kvstore"
)

// Store is a key-value store backed by SQLite. Expired rows are treated as
// missing on read and removed lazily.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv_entries(expires_at);
`

// New opens (or creates) the store at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open kv db: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate kv db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the time source used for expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Get retrieves a value. Returns kvstore.ErrNotFound if missing or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}

	if expiresAt != 0 && s.now().UnixNano() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ? AND expires_at = ?`, key, expiresAt)
		return nil, kvstore.ErrNotFound
	}
	return value, nil
}

// Put stores a value, replacing any previous one.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Len counts live keys with the given prefix.
func (s *Store) Len(ctx context.Context, prefix string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_entries
		 WHERE substr(key, 1, length(?)) = ? AND (expires_at = 0 OR expires_at > ?)`,
		prefix, prefix, s.now().UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("kv len: %w", err)
	}
	return count, nil
}

// Clear removes keys with the given prefix. If expiredOnly is true, only
// expired keys are removed.
func (s *Store) Clear(ctx context.Context, prefix string, expiredOnly bool) error {
	query := `DELETE FROM kv_entries WHERE substr(key, 1, length(?)) = ?`
	args := []any{prefix, prefix}
	if expiredOnly {
		query += ` AND expires_at != 0 AND expires_at <= ?`
		args = append(args, s.now().UnixNano())
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("kv clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ kvstore.Store      = (*Store)(nil)
	_ kvstore.Maintainer = (*Store)(nil)
)
