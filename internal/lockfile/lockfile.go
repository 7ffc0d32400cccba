// Package lockfile guards the agent database against concurrent agents. Two
// processes sharing one SQLite file in WAL mode with a single-connection
// pool would corrupt each other's upload bookkeeping.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// Lock is a held flock on the agent's lock file.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive non-blocking flock. A second agent on the same
// database gets an immediate error naming the lock path.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, fmt.Errorf("another agent is already running (lock held at %s)", path)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	// Record the holder's PID for operators; the flock itself is the lock.
	if err := file.Truncate(0); err == nil {
		if _, err := file.Seek(0, 0); err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = file.Sync()
		}
	}

	return &Lock{path: path, file: file}, nil
}

// Release drops the flock. The file is left in place so the next acquirer
// reuses the same inode; removing it would open a race where two processes
// hold locks on different inodes of the same path.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	l.file = nil
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// ForDatabase derives the conventional lock path for a database file.
func ForDatabase(dbPath string) string {
	return dbPath + ".lock"
}
