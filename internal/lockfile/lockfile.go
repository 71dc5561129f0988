// Package lockfile guards a state directory so only one recommender process
// writes its SQLite conversation store at a time.
//
// The lock is an flock on a file inside the directory; the kernel releases it
// when the process exits, however it exits.
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

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "macrs.lock"

// Info is the content written into a held lock file.
type Info struct {
	PID      int
	Command  string
	Acquired time.Time
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir. command names
// the holder (e.g. "serve") and is recorded for diagnostics.
func AcquireLock(stateDir, command string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath, "command", command)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, _ := ReadInfo(lockPath)
		slog.Error("lockfile.AcquireLock: state directory in use", "lock_path", lockPath, "holder_pid", holder.PID, "holder_command", holder.Command)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	// Truncate only after the lock is held.
	info := Info{PID: os.Getpid(), Command: command, Acquired: time.Now().UTC()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: acquired", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "lock_path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("lockfile.Release: close failed", "lock_path", l.path, "error", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: remove failed", "lock_path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("lockfile.Release: released", "lock_path", l.path)
	return nil
}

// LockError reports that another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Info
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state directory is locked by another macrs process (lock file %s)", e.LockPath)
	if e.Holder.PID > 0 {
		state := "running"
		if !IsProcessRunning(e.Holder.PID) {
			state = "not running, lock may be stale"
		}
		fmt.Fprintf(&b, "; holder pid %d (%s)", e.Holder.PID, state)
		if e.Holder.Command != "" {
			fmt.Fprintf(&b, " command %q", e.Holder.Command)
		}
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\ncommand=%s\nacquired=%s\n", info.PID, info.Command, info.Acquired.Format(time.RFC3339)); err != nil {
		return err
	}
	return f.Sync()
}

// ReadInfo parses the key=value lines of a lock file. Unknown keys are ignored.
func ReadInfo(lockPath string) (Info, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	var info Info
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "command":
			info.Command = value
		case "acquired":
			info.Acquired, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info, sc.Err()
}

// IsProcessRunning reports whether pid exists, using signal 0.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
