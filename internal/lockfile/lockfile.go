// Package lockfile keeps two Palabra processes from sharing one state
// directory, where both would write the same SQLite and whatsmeow files.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the state directory.
const LockFileName = "palabra.lock"

// ErrLocked is wrapped by the error AcquireLock returns when another process
// holds the lock.
var ErrLocked = errors.New("state directory locked by another process")

// Lock is a held state directory lock.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir. The OS drops
// the lock if the process dies.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		holder := holderPID(path)
		slog.Error("Failed to acquire state directory lock", "lock_path", path, "holder_pid", holder)
		return nil, fmt.Errorf("%w: %s (pid %d); remove the file only if no other Palabra is running", ErrLocked, path, holder)
	}

	if err := os.WriteFile(path, []byte("pid="+strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		slog.Warn("Failed to record pid in lock file", "lock_path", path, "error", err)
	}
	slog.Info("Acquired state directory lock", "lock_path", path, "pid", os.Getpid())
	return &Lock{fl: fl}, nil
}

// Release unlocks and removes the lock file. Calling it twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	path := l.fl.Path()
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", path, err)
	}
	l.fl = nil
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "lock_path", path, "error", err)
	}
	slog.Debug("Released state directory lock", "lock_path", path)
	return nil
}

// holderPID reads the "pid=N" line written by the current holder, or 0.
func holderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(strings.TrimPrefix(s, "pid="))
	if err != nil {
		return 0
	}
	return pid
}
