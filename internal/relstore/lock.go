package relstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLockTimeout indicates the store lock could not be taken in time
var ErrLockTimeout = errors.New("relation store lock timed out")

// LockMode selects shared (readers) or exclusive (rebuild) locking.
type LockMode int

const (
	// Shared is held by conversions while they read relation tables.
	Shared LockMode = iota
	// Exclusive is held while relation tables are dropped and rebuilt.
	Exclusive
)

func (m LockMode) flag() int {
	if m == Exclusive {
		return syscall.LOCK_EX
	}
	return syscall.LOCK_SH
}

func (m LockMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Lock coordinates relation-table rebuilds with readers across processes using flock(2).
// The kernel releases it when the holder exits.
type Lock struct {
	path string
	file *os.File
}

// NewLock creates a lock backed by the file at path.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// LockPath returns the lock file used for a store DSN, or "" for drivers
// that coordinate on the server side.
func LockPath(opts Options) string {
	if opts.Driver != DriverSQLite && opts.Driver != "" {
		return ""
	}
	return opts.DSN + ".lock"
}

// TryAcquire takes the lock without blocking.
// It returns false when another holder conflicts with mode.
func (l *Lock) TryAcquire(mode LockMode) (bool, error) {
	if err := l.open(); err != nil {
		return false, err
	}

	err := syscall.Flock(int(l.file.Fd()), mode.flag()|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	l.release()
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return false, nil
	}
	return false, fmt.Errorf("flock failed: %w", err)
}

// Acquire blocks until the lock is taken in mode, timeout expires or ctx is done.
func (l *Lock) Acquire(ctx context.Context, mode LockMode, timeout time.Duration) error {
	if err := l.open(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	pollInterval := 10 * time.Millisecond
	maxPollInterval := 500 * time.Millisecond

	for {
		if err := ctx.Err(); err != nil {
			l.release()
			return err
		}
		err := syscall.Flock(int(l.file.Fd()), mode.flag()|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			l.release()
			return fmt.Errorf("flock failed: %w", err)
		}
		if time.Now().After(deadline) {
			l.release()
			return fmt.Errorf("%w: %s lock on %s", ErrLockTimeout, mode, l.path)
		}

		select {
		case <-ctx.Done():
			l.release()
			return ctx.Err()
		case <-time.After(pollInterval):
			pollInterval = min(pollInterval*2, maxPollInterval)
		}
	}
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// Held reports whether this instance currently holds the lock.
func (l *Lock) Held() bool {
	return l.file != nil
}

func (l *Lock) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.file = file
	return nil
}

func (l *Lock) release() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}
