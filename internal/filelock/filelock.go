// Package filelock provides the advisory lock guarding a working directory and
// atomic writes for files other processes may be reading.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrWorkDirLocked indicates another run holds the working directory lock.
var ErrWorkDirLocked = errors.New("working directory is locked by another run")

// FileLock wraps a flock file lock for coordinating access to files.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// NewFileLock creates a new file lock for the given path.
// The lock file will be created at the specified path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires an exclusive lock on the file, blocking until the lock is available.
func (fl *FileLock) Lock() error {
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, err)
	}
	return nil
}

// TryLock attempts to acquire an exclusive lock on the file without blocking.
// Returns true if the lock was acquired, false if the lock is held elsewhere.
func (fl *FileLock) TryLock() (bool, error) {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", fl.path, err)
	}
	return nil
}

// WorkDirLockPath returns the lock file guarding workDir. It lives next to
// the directory, not inside it, because the directory is deleted on reset.
// The file only exists while a run holds the lock.
func WorkDirLockPath(workDir string) string {
	return filepath.Clean(workDir) + ".lock"
}

// holdsPath reports whether the lock path still names the file this lock
// has open. It is false once a releasing run has removed the file.
func (fl *FileLock) holdsPath() bool {
	if !fl.flock.Locked() {
		return false
	}
	held, err := fl.flock.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(fl.path)
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}

// WorkDirLocker hands out non-blocking locks on working directories.
type WorkDirLocker struct{}

// acquireAttempts bounds retries when a releasing run removes the lock file
// between our open and our lock.
const acquireAttempts = 3

// Acquire takes the lock for workDir or fails with ErrWorkDirLocked when
// another run holds it. The returned function removes the lock file and
// releases the lock.
func (WorkDirLocker) Acquire(workDir string) (func() error, error) {
	lockPath := WorkDirLockPath(workDir)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", lockPath, err)
	}

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		lock := NewFileLock(lockPath)
		acquired, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, fmt.Errorf("%w: %s", ErrWorkDirLocked, lockPath)
		}

		// Locked a file that was unlinked after we opened it
		if !lock.holdsPath() {
			lock.Unlock()
			continue
		}

		return func() error {
			// Removed before unlocking so a waiter cannot lock the old file
			if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
				lock.Unlock()
				return fmt.Errorf("failed to remove lock file %s: %w", lockPath, err)
			}
			return lock.Unlock()
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrWorkDirLocked, lockPath)
}

// AtomicWrite writes data to a file atomically using a temp file and rename strategy.
// Readers never see partial writes, even if the write is interrupted.
//
// The process:
// 1. Create a temporary file in the same directory as the target
// 2. Write content to the temporary file
// 3. Rename the temporary file to the target path
//
// If the operation fails at any point, the original file (if it exists) remains unchanged.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Same directory keeps the rename on one filesystem
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

	// CreateTemp uses 0600
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	// Renamed, nothing to clean up
	tempFile = nil

	return nil
}

// LockAndWrite acquires a lock, performs an atomic write, and releases the lock.
//
// The lock path is derived by appending ".lock" to the target path.
// Example: writing to "report.md" uses lock file "report.md.lock"
func LockAndWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	lock := NewFileLock(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	return AtomicWrite(path, data)
}
