package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/surge-downloader/odoo-images/internal/config"
)

var (
	instanceLock *flock.Flock
	lockMu       sync.Mutex
)

// AcquireLock takes the single-instance lock for serve. It reports false when
// another process holds it.
func AcquireLock() (bool, error) {
	lockMu.Lock()
	defer lockMu.Unlock()

	if instanceLock != nil && instanceLock.Locked() {
		return true, nil
	}
	if err := os.MkdirAll(config.GetRuntimeDir(), 0o755); err != nil {
		return false, fmt.Errorf("create runtime dir: %w", err)
	}

	l := flock.New(filepath.Join(config.GetRuntimeDir(), "serve.lock"))
	locked, err := l.TryLock()
	if err != nil {
		return false, err
	}
	if locked {
		instanceLock = l
	}
	return locked, nil
}

// ReleaseLock drops the lock taken by AcquireLock
func ReleaseLock() error {
	lockMu.Lock()
	defer lockMu.Unlock()

	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
