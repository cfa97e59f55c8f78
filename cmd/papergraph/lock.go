package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var errPipelineBusy = errors.New("another papergraph run is writing to this store")

// lockPath is the lock file guarding writes to the configured store. It
// sits next to the SQLite database; PostgreSQL stores share one in the
// temp directory.
func (c *cli) lockPath() string {
	if c.cfg.Storage.Backend == "postgres" {
		return filepath.Join(os.TempDir(), "papergraph-pipeline.lock")
	}
	return c.cfg.ResolveDBPath() + ".lock"
}

// withPipelineLock runs fn while holding the store's lock file. It fails
// immediately when another process holds the lock.
func (c *cli) withPipelineLock(fn func() error) error {
	path := c.lockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring pipeline lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s)", errPipelineBusy, path)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}
