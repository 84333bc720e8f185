// Package filelock writes conversion outputs atomically and guards an output
// root against two runs writing into it at once.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file placed in a locked directory
const LockFileName = ".convoy.lock"

// ErrBusy is returned when another process or run already holds the lock
var ErrBusy = errors.New("directory is locked by another run")

// Lock wraps a flock file lock.
type Lock struct {
	flock *flock.Flock
	path  string
}

// New creates a lock backed by the file at path. Nothing is acquired yet.
func New(path string) *Lock {
	return &Lock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// TryLock attempts to acquire the lock without blocking.
// Returns false if the lock is held elsewhere.
func (l *Lock) TryLock() (bool, error) {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try lock on %s: %w", l.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock and removes the lock file
func (l *Lock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	os.Remove(l.path)
	return nil
}

// LockDir creates dir if needed and takes its lock file.
// Returns ErrBusy if the directory is already locked.
func LockDir(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	lock := New(filepath.Join(dir, LockFileName))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrBusy, dir)
	}
	return lock, nil
}

// AtomicWrite writes data to path through a temp file in the same directory
// followed by a rename, creating parent directories as needed. A reader (or a
// later existence check) never sees a partially written file.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	tempFile = nil

	return nil
}
