package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileLock is an advisory lock on <path>.lock guarding a state file against a
// second daemon working from the same state.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock for path. Nothing is acquired until Lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock acquires the lock, polling until timeout. It returns ErrLockTimeout
// when another process keeps holding it.
func (l *FileLock) Lock(timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return &StorageError{Op: "lock", Path: l.path, Err: fmt.Errorf("create directory: %w", err)}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return &StorageError{Op: "lock", Path: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := tryLockFile(f); err == nil {
			l.file = f
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.Close()
	return &StorageError{Op: "lock", Path: l.path, Err: ErrLockTimeout}
}

// Unlock releases the lock. The lock file stays in place so every process
// contends on the same inode.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockFile(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}
