package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
)

// LockOwner identifies the session requesting a lock
type LockOwner struct {
	SessionID string
	UserID    string
	Username  string
}

// Lock is a leased exclusive edit right on one device
type Lock struct {
	DeviceID   string
	Owner      LockOwner
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Info converts the lock to its wire form
func (l Lock) Info() LockInfo {
	return LockInfo{
		DeviceID:       l.DeviceID,
		OwnerSessionID: l.Owner.SessionID,
		OwnerUserID:    l.Owner.UserID,
		OwnerUsername:  l.Owner.Username,
		AcquiredAt:     l.AcquiredAt,
		ExpiresAt:      l.ExpiresAt,
	}
}

// LockTable holds the device locks of one room. It is not safe for
// concurrent use; the owning room goroutine is its only caller.
type LockTable struct {
	clock clockwork.Clock
	lease time.Duration
	locks map[string]*Lock
}

// NewLockTable creates an empty table granting leases of the given length
func NewLockTable(clock clockwork.Clock, lease time.Duration) *LockTable {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LockTable{
		clock: clock,
		lease: lease,
		locks: make(map[string]*Lock),
	}
}

// Acquire grants deviceID to owner. A request by the current owner renews the
// lease and reports created=false.
func (t *LockTable) Acquire(deviceID string, owner LockOwner) (lock Lock, created bool, err error) {
	now := t.clock.Now()
	if existing, ok := t.locks[deviceID]; ok && now.Before(existing.ExpiresAt) {
		if existing.Owner.SessionID != owner.SessionID {
			return *existing, false, fmt.Errorf("%w: %s is being edited by %s", ErrAlreadyLocked, deviceID, existing.Owner.Username)
		}
		existing.ExpiresAt = now.Add(t.lease)
		return *existing, false, nil
	}

	l := &Lock{
		DeviceID:   deviceID,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(t.lease),
	}
	t.locks[deviceID] = l
	return *l, true, nil
}

// Release removes the lock if sessionID owns it. Releasing a device nobody
// holds succeeds with removed=false.
func (t *LockTable) Release(deviceID, sessionID string) (lock Lock, removed bool, err error) {
	existing, ok := t.locks[deviceID]
	if !ok {
		return Lock{}, false, nil
	}
	if existing.Owner.SessionID != sessionID {
		return *existing, false, fmt.Errorf("%w: %s is held by %s", ErrNotOwner, deviceID, existing.Owner.Username)
	}
	delete(t.locks, deviceID)
	return *existing, true, nil
}

// CheckOwner verifies sessionID holds a live lock on deviceID and renews it
func (t *LockTable) CheckOwner(deviceID, sessionID string) error {
	existing, ok := t.locks[deviceID]
	now := t.clock.Now()
	if !ok || !now.Before(existing.ExpiresAt) {
		return fmt.Errorf("%w: lock %s before editing it", ErrLockRequired, deviceID)
	}
	if existing.Owner.SessionID != sessionID {
		return fmt.Errorf("%w: %s is held by %s", ErrNotOwner, deviceID, existing.Owner.Username)
	}
	existing.ExpiresAt = now.Add(t.lease)
	return nil
}

// ReleaseAll removes every lock owned by sessionID
func (t *LockTable) ReleaseAll(sessionID string) []Lock {
	var released []Lock
	for id, l := range t.locks {
		if l.Owner.SessionID == sessionID {
			released = append(released, *l)
			delete(t.locks, id)
		}
	}
	sortLocks(released)
	return released
}

// Reap removes expired locks and locks whose owner is no longer a member
func (t *LockTable) Reap(isMember func(sessionID string) bool) []Lock {
	now := t.clock.Now()
	var reaped []Lock
	for id, l := range t.locks {
		if !now.Before(l.ExpiresAt) || (isMember != nil && !isMember(l.Owner.SessionID)) {
			reaped = append(reaped, *l)
			delete(t.locks, id)
		}
	}
	sortLocks(reaped)
	return reaped
}

// Get returns the live lock on deviceID
func (t *LockTable) Get(deviceID string) (Lock, bool) {
	l, ok := t.locks[deviceID]
	if !ok || !t.clock.Now().Before(l.ExpiresAt) {
		return Lock{}, false
	}
	return *l, true
}

// Snapshot returns the live locks ordered by device id
func (t *LockTable) Snapshot() []Lock {
	now := t.clock.Now()
	out := make([]Lock, 0, len(t.locks))
	for _, l := range t.locks {
		if now.Before(l.ExpiresAt) {
			out = append(out, *l)
		}
	}
	sortLocks(out)
	return out
}

// Len returns the number of entries, including ones not yet reaped
func (t *LockTable) Len() int {
	return len(t.locks)
}

func sortLocks(locks []Lock) {
	sort.Slice(locks, func(i, j int) bool { return locks[i].DeviceID < locks[j].DeviceID })
}
