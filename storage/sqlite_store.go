package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteOpTimeout = 10 * time.Second
	lastCheckKey    = "last_check_time"
)

// SQLiteStore implements SeenStore on a SQLite database. The full set is read
// into memory on open; MarkSeen writes each new row through in a transaction.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time

	seen      map[string]struct{}
	lastCheck *string
}

// NewSQLiteStore opens or creates the database at path. Failing to open the
// database or create its schema is an error; failing to read existing rows
// is logged and leaves the store empty.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, &StorageError{Op: "open", Path: path, Err: fmt.Errorf("sqlite path is required")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		path:   path,
		logger: componentLogger(logger),
		now:    time.Now,
		seen:   make(map[string]struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	if err := s.load(ctx); err != nil {
		s.logger.Error("error loading state, starting with empty state", "error", &StorageError{Op: "read", Path: path, Err: err})
		s.seen = make(map[string]struct{})
		s.lastCheck = nil
	} else {
		s.logger.Info("loaded state", "tracked_videos", len(s.seen))
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seen_videos (
			id TEXT PRIMARY KEY,
			seen_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM seen_videos`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var last string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, lastCheckKey).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		s.lastCheck = &last
	}
	return nil
}

// IsSeen reports whether videoID has been marked seen.
func (s *SQLiteStore) IsSeen(videoID string) bool {
	_, ok := s.seen[videoID]
	return ok
}

// MarkSeen records videoID and persists it.
func (s *SQLiteStore) MarkSeen(videoID string) {
	s.seen[videoID] = struct{}{}
	ts := formatTimestamp(s.now())
	s.lastCheck = &ts

	if err := s.persist(videoID, ts); err != nil {
		s.logger.Error("error saving state", "video_id", videoID, "error", &StorageError{Op: "write", Path: s.path, Err: err})
		return
	}
	s.logger.Info("state saved", "tracked_videos", len(s.seen))
}

func (s *SQLiteStore) persist(videoID, ts string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO seen_videos (id, seen_at) VALUES (?, ?)`, videoID, ts); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastCheckKey, ts); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LastCheck returns the last check timestamp.
func (s *SQLiteStore) LastCheck() (string, bool) {
	if s.lastCheck == nil {
		return "", false
	}
	return *s.lastCheck, true
}

// Len returns the number of tracked videos.
func (s *SQLiteStore) Len() int {
	return len(s.seen)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
