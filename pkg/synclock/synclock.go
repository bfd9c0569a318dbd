// Package synclock tracks paths that the synchronization subsystem holds
// exclusively. While a path is locked, lifecycle operations on it fail with a
// synchronization conflict. Locks expire after a timeout so a crashed
// synchronizer cannot wedge a path forever.
//
// Locks are config entries named "sync/lock/<path>" so that they share the
// atomicity of the batch that checks them.
package synclock

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/pagefs/pkg/storage"
)

// Prefix is the config-name prefix of lock entries.
const Prefix = "sync/lock/"

// DefaultTimeout is how long a lock is honoured when none is configured.
const DefaultTimeout = 10 * time.Minute

// Lock is the persisted form of a synchronization lock.
type Lock struct {
	Path     string    `json:"path"`
	Owner    string    `json:"owner"`
	LockedAt time.Time `json:"locked_at"`
}

// Manager reads and writes locks inside caller-supplied transactions.
//
// Thread Safety:
// Manager holds no mutable state; all state lives in the storage engine.
type Manager struct {
	timeout time.Duration
	now     func() time.Time
}

// NewManager creates a manager honouring locks for timeout (DefaultTimeout
// if zero).
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{timeout: timeout, now: time.Now}
}

// SetClock replaces the time source (tests).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func key(path string) string { return Prefix + path }

func (m *Manager) read(tx storage.Txn, path string) (*Lock, error) {
	data, err := tx.GetConfig(key(path))
	if err != nil {
		return nil, err
	}
	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to decode sync lock for %s: %w", path, err)
	}
	return &l, nil
}

func (m *Manager) expired(l *Lock) bool {
	return m.now().Sub(l.LockedAt) >= m.timeout
}

// Lock takes the synchronization lock on path for owner, refreshing it if
// already held.
func (m *Manager) Lock(tx storage.Txn, path, owner string) error {
	data, err := json.Marshal(Lock{Path: path, Owner: owner, LockedAt: m.now()})
	if err != nil {
		return err
	}
	return tx.SetConfig(key(path), data)
}

// Unlock releases the lock on path. Unlocking an unlocked path succeeds.
func (m *Manager) Unlock(tx storage.Txn, path string) error {
	return tx.DeleteConfig(key(path))
}

// IsLocked reports whether path holds a non-expired lock.
func (m *Manager) IsLocked(tx storage.Txn, path string) (bool, error) {
	l, err := m.read(tx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !m.expired(l), nil
}

// ClearExpiredLock removes path's lock if it has expired.
func (m *Manager) ClearExpiredLock(tx storage.Txn, path string) error {
	l, err := m.read(tx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !m.expired(l) {
		return nil
	}
	return tx.DeleteConfig(key(path))
}

// Check reports whether path is locked, clearing an expired lock on the way.
// It needs a writable transaction.
func (m *Manager) Check(tx storage.Txn, path string) (bool, error) {
	locked, err := m.IsLocked(tx, path)
	if err != nil || locked {
		return locked, err
	}
	return false, m.ClearExpiredLock(tx, path)
}
