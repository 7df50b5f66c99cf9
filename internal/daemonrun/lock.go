package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"norc/internal/config"
	"norc/internal/logging"
)

// ErrAlreadyRunning means another daemon holds the region lock on this host.
var ErrAlreadyRunning = errors.New("another tmsd is already running for this region")

type instanceLock struct {
	path string
	lock *flock.Flock
}

// acquireInstanceLock takes <log_dir>/_tmsd/<region>.lock when
// daemon.single_instance is set. Otherwise it returns a no-op lock.
func acquireInstanceLock(cfg *config.Config) (*instanceLock, error) {
	if !cfg.Daemon.SingleInstance {
		return &instanceLock{}, nil
	}
	path := filepath.Join(cfg.DaemonLogDir(), sanitizeRegion(cfg.Daemon.Region)+".lock")
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return &instanceLock{path: path, lock: lock}, nil
}

func (l *instanceLock) Release(logger *slog.Logger) {
	if l == nil || l.lock == nil {
		return
	}
	if err := l.lock.Unlock(); err != nil && logger != nil {
		logger.Warn("failed to release daemon lock", logging.Error(err), logging.String("lock", l.path))
	}
}
