// Package lock enforces single-instance execution through a pidfile.
package lock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/gops/goprocess"
	"github.com/inovacc/starkeep/internal/application"
)

// Lock is a held pidfile. Release removes it.
type Lock struct {
	path   string
	logger *slog.Logger
}

// Acquire writes a pidfile in dir. It fails when another live instance
// holds the lock, and silently replaces a pidfile left behind by a dead
// process.
func Acquire(dir string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	path := filepath.Join(dir, application.AppName+".pid")

	if data, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && processAlive(pid) {
			return nil, fmt.Errorf("another instance is running (pid %d)", pid)
		}

		logger.Warn("replacing stale pidfile",
			slog.String("path", path),
			slog.String("stale_pid", strings.TrimSpace(string(data))),
		)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("writing pidfile: %w", err)
	}

	return &Lock{path: path, logger: logger}, nil
}

// processAlive reports whether pid belongs to a live instance of this
// program. Matching on the executable name avoids treating an unrelated
// process that recycled the pid as a holder.
func processAlive(pid int) bool {
	p, ok, err := goprocess.Find(pid)
	if err != nil || !ok {
		return false
	}

	return strings.Contains(p.Exec, application.AppName)
}

// Release removes the pidfile. Idempotent.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pidfile: %w", err)
	}

	return nil
}
