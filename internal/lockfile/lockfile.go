// Package lockfile gives one process exclusive ownership of a path on disk.
// The durable request queue uses it so that two clients sharing a state
// directory never overwrite each other's snapshots.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLocked is returned when another live process owns the lock
	ErrLocked = errors.New("lock is held by another process")
)

// Lockfile is a PID file created with O_EXCL next to the resource it guards
type Lockfile struct {
	path   string
	file   *os.File
	pid    int
	locked bool
}

// New creates a lockfile handle for path. Nothing touches the disk until
// TryAcquire.
func New(path string) *Lockfile {
	return &Lockfile{path: path}
}

// For returns the lockfile guarding resource (resource + ".lock")
func For(resource string) *Lockfile {
	return New(resource + ".lock")
}

// TryAcquire takes the lock. A lockfile left behind by a dead process is
// replaced; one owned by a running process yields ErrLocked.
func (l *Lockfile) TryAcquire() error {
	if l.locked {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lockfile: %w", err)
		}

		stale, reason := l.checkStale()
		if !stale {
			return fmt.Errorf("%w: %s", ErrLocked, reason)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lockfile (%s): %w", reason, err)
		}
		file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
		if err != nil {
			return fmt.Errorf("failed to create lockfile after removing stale one: %w", err)
		}
	}

	l.file = file
	l.pid = os.Getpid()
	l.locked = true

	content := fmt.Sprintf("%d\n%s\n", l.pid, time.Now().Format(time.RFC3339))
	if _, err := l.file.WriteString(content); err != nil {
		l.Release()
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.Release()
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return nil
}

// checkStale reports whether the existing lockfile can be taken over
func (l *Lockfile) checkStale() (bool, string) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return true, "cannot read lockfile"
	}

	first, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return true, "invalid PID in lockfile"
	}
	if pid == os.Getpid() {
		return false, "lock already held by this process"
	}

	if running, reason := isProcessRunning(pid); !running {
		return true, reason
	}
	return false, fmt.Sprintf("process with PID %d is running", pid)
}

// Release closes and removes the lockfile. Releasing an unheld lock is a no-op.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}

	var errs []error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			errs = append(errs, err)
		}
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lockfile: %w", err))
	}

	l.locked = false
	return errors.Join(errs...)
}

// PID returns the PID that acquired the lock
func (l *Lockfile) PID() int {
	return l.pid
}

// Locked returns true if the lock is held
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}
