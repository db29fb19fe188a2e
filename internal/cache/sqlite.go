package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

// SQLiteStore persists cache entries in a SQLite database so they survive
// restarts. Recency is tracked in accessed_at for LRU eviction.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	evictions  atomic.Int64
	now        func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string, maxEntries int) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &SQLiteStore{db: db, maxEntries: maxEntries, now: time.Now}, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS translations (
		  cache_key    TEXT PRIMARY KEY,
		  text         TEXT NOT NULL,
		  confidence   REAL NOT NULL,
		  model        TEXT NOT NULL,
		  created_at   INTEGER NOT NULL,
		  expires_at   INTEGER NOT NULL,
		  accessed_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_translations_accessed
		ON translations(accessed_at);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// Get returns the entry for key. Expired rows are deleted on read.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var e Entry
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT text, confidence, model, created_at, expires_at FROM translations WHERE cache_key = ?`, key).
		Scan(&e.Value.Text, &e.Value.Confidence, &e.Value.Model, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	e.Key = key
	e.CreatedAt = time.UnixMilli(createdAt)
	if expiresAt > 0 {
		e.ExpiresAt = time.UnixMilli(expiresAt)
	}

	now := s.now()
	if e.Expired(now) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM translations WHERE cache_key = ?`, key); err != nil {
			return Entry{}, false, fmt.Errorf("failed to delete expired entry: %w", err)
		}
		return Entry{}, false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE translations SET accessed_at = ? WHERE cache_key = ?`, now.UnixNano(), key); err != nil {
		return Entry{}, false, fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return e, true, nil
}

// Put upserts an entry and evicts the least recently accessed rows beyond capacity.
func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	var expiresAt int64
	if !e.ExpiresAt.IsZero() {
		expiresAt = e.ExpiresAt.UnixMilli()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO translations (cache_key, text, confidence, model, created_at, expires_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
		  text = excluded.text,
		  confidence = excluded.confidence,
		  model = excluded.model,
		  created_at = excluded.created_at,
		  expires_at = excluded.expires_at,
		  accessed_at = excluded.accessed_at`,
		e.Key, e.Value.Text, e.Value.Confidence, e.Value.Model,
		e.CreatedAt.UnixMilli(), expiresAt, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM translations WHERE cache_key IN (
		  SELECT cache_key FROM translations
		  ORDER BY accessed_at DESC
		  LIMIT -1 OFFSET ?
		)`, s.maxEntries)
	if err != nil {
		return fmt.Errorf("failed to evict cache entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.evictions.Add(n)
	}
	return nil
}

// Stats returns the row count and evictions since open.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&n); err != nil {
		return StoreStats{}, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return StoreStats{Entries: n, Evictions: s.evictions.Load()}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
