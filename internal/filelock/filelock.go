// Package filelock provides cross-process mutual exclusion using flock(2).
//
// Locks are advisory and tied to the open file description, so two Lock
// values on the same path exclude each other even inside one process.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrNotHeld is returned by Unlock when the lock is not held.
var ErrNotHeld = errors.New("filelock: not held")

// Lock is an exclusive lock on a single file.
type Lock struct {
	path string
	file *os.File
}

// New returns a Lock for path. The file is created on first acquisition.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Lock acquires the lock, blocking until available.
func (l *Lock) Lock() error {
	f, err := l.open()
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.file = f
	return nil
}

// TryLock acquires the lock without blocking. It returns false when another
// holder has it.
func (l *Lock) TryLock() (bool, error) {
	f, err := l.open()
	if err != nil {
		return false, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.file = f
	return true, nil
}

// Unlock releases the lock and closes the lock file.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return ErrNotHeld
	}
	f := l.file
	l.file = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock %s: %w", l.path, err)
	}
	return f.Close()
}

// Held reports whether this Lock currently holds the file lock.
func (l *Lock) Held() bool { return l.file != nil }

func (l *Lock) open() (*os.File, error) {
	if l.file != nil {
		return nil, fmt.Errorf("filelock: %s already held", l.path)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}
