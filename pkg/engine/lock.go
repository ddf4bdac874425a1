package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	vaulterrors "github.com/pkm-agent/vaultd/internal/errors"
)

// ownerLock is the cross-process mutual-exclusion lock on a vault's
// data directory: at most one engine handle may hold it at a time, so
// two vaultd processes can never run the indexer against the same
// structured store concurrently.
type ownerLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// newOwnerLock creates the lock at <dataDir>/lock without acquiring it.
func newOwnerLock(dataDir string) *ownerLock {
	path := filepath.Join(dataDir, "lock")
	return &ownerLock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire exclusive ownership of dataDir without
// blocking. A held lock surfaces as an Ownership-category error per
// the engine's exit code 3.
func (l *ownerLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return vaulterrors.ConfigError("create data directory for lock", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return vaulterrors.OwnershipError("acquire data directory lock", err)
	}
	if !acquired {
		return vaulterrors.OwnershipError(
			fmt.Sprintf("data directory %s is owned by another vaultd process", filepath.Dir(l.path)), nil)
	}

	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked ownerLock.
func (l *ownerLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("engine: release owner lock: %w", err)
	}
	l.locked = false
	return nil
}
