package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"
)

var lockTimeout = 5 * time.Second

// stateDocument is the on-disk JSON layout.
type stateDocument struct {
	LastSeenVideos []string `json:"last_seen_videos"`
	LastCheckTime  *string  `json:"last_check_time"`
}

// JSONStore implements SeenStore on a single JSON file that is fully
// rewritten after every MarkSeen.
type JSONStore struct {
	path     string
	lock     *FileLock
	readOnly bool
	logger   *slog.Logger
	now      func() time.Time

	seen      map[string]struct{}
	lastCheck *string
}

// NewJSONStore opens the store at path. A missing file yields an empty store.
// An unreadable or malformed file is logged and also yields an empty store.
// The only error returned is ErrLockTimeout, when another instance holds the
// state lock. A lock file that cannot be created is logged and the store
// runs unguarded.
func NewJSONStore(path string, logger *slog.Logger) (*JSONStore, error) {
	s := newJSONStore(path, logger)
	s.lock = NewFileLock(path)

	if err := s.lock.Lock(lockTimeout); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, err
		}
		s.logger.Warn("cannot take state lock, continuing without single-instance guard", "error", err)
		s.lock = nil
	}

	s.load()
	return s, nil
}

// OpenJSONReadOnly loads the store at path without taking the state lock, so
// it works while a daemon holds it. MarkSeen on the result never writes.
func OpenJSONReadOnly(path string, logger *slog.Logger) *JSONStore {
	s := newJSONStore(path, logger)
	s.readOnly = true
	s.load()
	return s
}

func newJSONStore(path string, logger *slog.Logger) *JSONStore {
	return &JSONStore{
		path:   path,
		logger: componentLogger(logger),
		now:    time.Now,
		seen:   make(map[string]struct{}),
	}
}

func (s *JSONStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no existing state file found, starting fresh", "path", s.path)
			return
		}
		s.logger.Error("error loading state", "error", &StorageError{Op: "read", Path: s.path, Err: err})
		return
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error("error loading state, starting with empty state",
			"error", &StorageError{Op: "read", Path: s.path, Err: ErrStorageCorrupt},
			"cause", err)
		return
	}

	for _, id := range doc.LastSeenVideos {
		s.seen[id] = struct{}{}
	}
	s.lastCheck = doc.LastCheckTime
	s.logger.Info("loaded state", "tracked_videos", len(s.seen))
}

// save rewrites the whole document atomically.
func (s *JSONStore) save() error {
	doc := stateDocument{
		LastSeenVideos: make([]string, 0, len(s.seen)),
		LastCheckTime:  s.lastCheck,
	}
	for id := range s.seen {
		doc.LastSeenVideos = append(doc.LastSeenVideos, id)
	}
	sort.Strings(doc.LastSeenVideos)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, append(data, '\n'), 0644); err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// IsSeen reports whether videoID has been marked seen.
func (s *JSONStore) IsSeen(videoID string) bool {
	_, ok := s.seen[videoID]
	return ok
}

// MarkSeen records videoID and persists the state.
func (s *JSONStore) MarkSeen(videoID string) {
	s.seen[videoID] = struct{}{}
	ts := formatTimestamp(s.now())
	s.lastCheck = &ts

	if s.readOnly {
		s.logger.Warn("read-only state, not saved", "video_id", videoID)
		return
	}
	if err := s.save(); err != nil {
		s.logger.Error("error saving state", "video_id", videoID, "error", err)
		return
	}
	s.logger.Info("state saved", "tracked_videos", len(s.seen))
}

// LastCheck returns the last check timestamp.
func (s *JSONStore) LastCheck() (string, bool) {
	if s.lastCheck == nil {
		return "", false
	}
	return *s.lastCheck, true
}

// Len returns the number of tracked videos.
func (s *JSONStore) Len() int {
	return len(s.seen)
}

// Close releases the state lock.
func (s *JSONStore) Close() error {
	return s.lock.Unlock()
}
