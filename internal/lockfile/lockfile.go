// Package lockfile keeps two processes from sharing one state directory.
//
// The lock is an flock on a file inside the directory, so the kernel drops it when the
// holder exits, even on a crash.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Suffix is appended to the owner name to form the lock file name.
const Suffix = ".lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	Owner     string
	PID       int
	StartedAt time.Time
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock named after owner in dir, creating dir if needed.
// A *HeldError is returned when another process holds the lock.
func Acquire(dir, owner string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, owner+Suffix)

	// O_TRUNC would wipe the holder's record before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder, _ := readHolder(path)
		file.Close()
		slog.Error("Lockfile.Acquire: state directory in use", "lock_path", path, "holder_pid", holder.PID, "error", err)
		return nil, &HeldError{Path: path, Holder: holder, Cause: err}
	}

	if err := writeHolder(file, Holder{Owner: owner, PID: os.Getpid(), StartedAt: time.Now().UTC()}); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to record lock holder in %s: %w", path, err)
	}

	slog.Info("Lockfile.Acquire: state directory locked", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Calling it twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our stale record.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, closeErr)
	}
	slog.Info("Lockfile.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// HeldError reports that another process owns the lock.
type HeldError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *HeldError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "state directory is in use (lock file %s)", e.Path)
	if e.Holder.PID > 0 {
		state := "running"
		if !processAlive(e.Holder.PID) {
			state = "not running"
		}
		fmt.Fprintf(&sb, "; held by %s pid %d (%s)", e.Holder.Owner, e.Holder.PID, state)
		if !e.Holder.StartedAt.IsZero() {
			fmt.Fprintf(&sb, " since %s", e.Holder.StartedAt.Format(time.RFC3339))
		}
	}
	return sb.String()
}

func (e *HeldError) Unwrap() error {
	return e.Cause
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "owner=%s\npid=%d\nstarted_at=%s\n", h.Owner, h.PID, h.StartedAt.Format(time.RFC3339)); err != nil {
		return err
	}
	return f.Sync()
}

// readHolder parses the key=value lines written by writeHolder. Unknown keys are ignored.
func readHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()
	return parseHolder(bufio.NewScanner(f)), nil
}

func parseHolder(sc *bufio.Scanner) Holder {
	var h Holder
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "owner":
			h.Owner = value
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "started_at":
			h.StartedAt, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}

// processAlive sends signal 0, which checks existence without delivering anything.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
