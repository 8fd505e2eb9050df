// Package lockfile guards the state directory against concurrent AssistPipe
// instances. The flock is released by the kernel if the process dies, so a
// leftover file never blocks the next start.
package lockfile

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// LockFileName is the file created inside the state directory.
const LockFileName = "assistpipe.lock"

// Lock is a held state directory lock. Release it on shutdown.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes an exclusive non-blocking flock on the lock file inside
// stateDir, creating the directory if needed. When another instance holds the
// lock the error names the lock path and, when readable, the holder's pid.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := holderPID(file)
		file.Close()
		if holder != "" {
			return nil, fmt.Errorf("state directory locked by %s (%s): %w", holder, path, err)
		}
		return nil, fmt.Errorf("state directory locked (%s): %w", path, err)
	}

	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "pid=%d\n", os.Getpid())
	}
	slog.Info("State directory lock acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Release drops the flock and removes the lock file. Safe to call twice.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	if err := l.file.Close(); err != nil {
		slog.Warn("Lock file close failed", "path", l.path, "error", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock file removal failed", "path", l.path, "error", err)
	}
	l.file = nil
	slog.Debug("State directory lock released", "path", l.path)
	return nil
}

// holderPID reads the "pid=N" line written by the holding instance, or "".
func holderPID(file *os.File) string {
	data := make([]byte, 64)
	n, err := file.ReadAt(data, 0)
	if n == 0 && err != nil {
		return ""
	}
	line, _, _ := bytes.Cut(data[:n], []byte("\n"))
	if !bytes.HasPrefix(line, []byte("pid=")) {
		return ""
	}
	return string(line)
}
