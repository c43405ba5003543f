package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yungtweek/chunkback/internal/logger"

	_ "modernc.org/sqlite"
)

// DefaultPurgeSchedule is how often expired rows are swept.
const DefaultPurgeSchedule = "@every 1m"

// SQLiteStore is a Store backed by a SQLite database, for correlation state
// that must survive a restart or be shared by processes on one host. Expired
// rows are filtered on read and swept on a cron schedule.
type SQLiteStore struct {
	db   *sql.DB
	cron *cron.Cron
	now  func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at dsn. A plain file path
// has its parent directory created. An empty purgeSchedule uses
// DefaultPurgeSchedule.
func NewSQLiteStore(dsn, purgeSchedule string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("cache: sqlite dsn is required")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS correlations (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_correlations_expires ON correlations(expires_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if purgeSchedule == "" {
		purgeSchedule = DefaultPurgeSchedule
	}
	s := &SQLiteStore{db: db, cron: cron.New(), now: time.Now}
	if _, err := s.cron.AddFunc(purgeSchedule, s.purgeJob); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid purge schedule %q: %w", purgeSchedule, err)
	}
	s.cron.Start()

	return s, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlations (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM correlations
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`, key, s.now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM correlations WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM correlations WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) purgeJob() {
	n, err := s.Purge(context.Background())
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			logger.Log.Warnw("[cache][sqlite] purge failed", "err", err)
		}
		return
	}
	if n > 0 {
		logger.Log.Debugw("[cache][sqlite] purged expired rows", "rows", n)
	}
}

// Close stops the purge schedule, waits for a running sweep, and closes the
// database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return s.db.Close()
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
