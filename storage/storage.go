// Package storage persists the set of videos autochatter has already acted on.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sentinel errors for common storage conditions.
var (
	// ErrStorageCorrupt indicates the persisted state could not be decoded.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates another process holds the state lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrUnknownBackend indicates an unsupported state backend name.
	ErrUnknownBackend = errors.New("storage: unknown backend")
)

// StorageError wraps storage errors with operation context.
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("%s %s failed: %v\n", storErr.Op, storErr.Path, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("read", "write", "lock", "open").
	Op string
	// Path is the state file involved.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SeenStore is the durable set of video IDs already handled.
//
// Implementations load their state once on construction and write it through
// on every MarkSeen. They are owned by a single poll loop and are not safe for
// concurrent use.
type SeenStore interface {
	// IsSeen reports whether videoID was marked seen. It has no side effects.
	IsSeen(videoID string) bool
	// MarkSeen records videoID, stamps the last check time and persists the
	// full state. A persistence failure is logged; the in-memory state keeps
	// the mark either way.
	MarkSeen(videoID string)
	// LastCheck returns the timestamp of the most recent MarkSeen, if any.
	LastCheck() (string, bool)
	// Len returns the number of tracked videos.
	Len() int
	// Close releases any resources held by the store.
	Close() error
}

// TimestampLayout is the sortable UTC layout used for last_check_time.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the SeenStore for backend, persisted at path.
func Open(backend, path string, logger *slog.Logger) (SeenStore, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONStore(path, logger)
	case BackendSQLite:
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// OpenReadOnly returns the SeenStore for backend without the single-instance
// lock, for inspecting state while a daemon runs. The JSON backend never
// writes; SQLite relies on its own locking.
func OpenReadOnly(backend, path string, logger *slog.Logger) (SeenStore, error) {
	switch backend {
	case "", BackendJSON:
		return OpenJSONReadOnly(path, logger), nil
	case BackendSQLite:
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func componentLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", "storage"))
}
