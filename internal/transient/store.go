// Package transient is a small SQLite-backed key/value store whose entries
// expire after a retention window. Expired entries are invisible to readers
// and are removed by PurgeExpired.
package transient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("transient not found")

// Store persists transients in the transients table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a transient store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Set stores value under key for ttl, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("setting transient %s: ttl must be positive", key)
	}
	return s.SetUntil(ctx, key, value, s.now().Add(ttl))
}

// SetUntil stores value under key until the given instant.
func (s *Store) SetUntil(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("setting transient: empty key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transients (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("setting transient %s: %w", key, err)
	}
	return nil
}

// Get returns the value and expiry for key. Expired entries yield ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	var (
		value []byte
		exp   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM transients WHERE key = ?`, key).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("getting transient %s: %w", key, err)
	}
	expiresAt := time.Unix(0, exp)
	if !s.now().Before(expiresAt) {
		return nil, time.Time{}, ErrNotFound
	}
	return value, expiresAt, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transients WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting transient %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes every expired entry and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transients WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging transients: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged transients: %w", err)
	}
	return n, nil
}

// Count returns the number of stored entries, expired or not.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting transients: %w", err)
	}
	return n, nil
}
