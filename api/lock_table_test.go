package api

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ownerA = LockOwner{SessionID: "sess-a", UserID: "alice", Username: "Alice"}
	ownerB = LockOwner{SessionID: "sess-b", UserID: "bob", Username: "Bob"}
)

func TestLockTable_Acquire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	table := NewLockTable(clock, 5*time.Minute)

	t.Run("FreeDevice", func(t *testing.T) {
		lock, created, err := table.Acquire("D1", ownerA)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "D1", lock.DeviceID)
		assert.Equal(t, ownerA, lock.Owner)
		assert.Equal(t, clock.Now().Add(5*time.Minute), lock.ExpiresAt)
	})

	t.Run("ConflictKeepsOwner", func(t *testing.T) {
		lock, created, err := table.Acquire("D1", ownerB)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAlreadyLocked))
		assert.False(t, created)
		assert.Equal(t, ownerA.SessionID, lock.Owner.SessionID)
	})

	t.Run("OwnerRenews", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		lock, created, err := table.Acquire("D1", ownerA)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, clock.Now().Add(5*time.Minute), lock.ExpiresAt)
		assert.Equal(t, 1, table.Len())
	})

	t.Run("ExpiredLockIsReplaced", func(t *testing.T) {
		clock.Advance(5 * time.Minute)
		lock, created, err := table.Acquire("D1", ownerB)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, ownerB, lock.Owner)
	})
}

func TestLockTable_Release(t *testing.T) {
	table := NewLockTable(clockwork.NewFakeClock(), time.Minute)
	_, _, err := table.Acquire("D1", ownerA)
	require.NoError(t, err)

	_, removed, err := table.Release("D1", ownerB.SessionID)
	assert.True(t, errors.Is(err, ErrNotOwner))
	assert.False(t, removed)

	lock, removed, err := table.Release("D1", ownerA.SessionID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "D1", lock.DeviceID)

	_, removed, err = table.Release("D1", ownerA.SessionID)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 0, table.Len())
}

func TestLockTable_CheckOwner(t *testing.T) {
	clock := clockwork.NewFakeClock()
	table := NewLockTable(clock, time.Minute)

	assert.True(t, errors.Is(table.CheckOwner("D1", ownerA.SessionID), ErrLockRequired))

	_, _, err := table.Acquire("D1", ownerA)
	require.NoError(t, err)
	assert.True(t, errors.Is(table.CheckOwner("D1", ownerB.SessionID), ErrNotOwner))

	clock.Advance(50 * time.Second)
	require.NoError(t, table.CheckOwner("D1", ownerA.SessionID))

	// the check renewed the lease
	clock.Advance(50 * time.Second)
	lock, ok := table.Get("D1")
	require.True(t, ok)
	assert.Equal(t, ownerA, lock.Owner)

	clock.Advance(time.Minute)
	assert.True(t, errors.Is(table.CheckOwner("D1", ownerA.SessionID), ErrLockRequired))
}

func TestLockTable_ReleaseAll(t *testing.T) {
	table := NewLockTable(clockwork.NewFakeClock(), time.Minute)
	for _, id := range []string{"D3", "D1", "D2"} {
		_, _, err := table.Acquire(id, ownerA)
		require.NoError(t, err)
	}
	_, _, err := table.Acquire("D4", ownerB)
	require.NoError(t, err)

	released := table.ReleaseAll(ownerA.SessionID)
	require.Len(t, released, 3)
	assert.Equal(t, "D1", released[0].DeviceID)
	assert.Equal(t, "D3", released[2].DeviceID)
	assert.Equal(t, 1, table.Len())

	_, ok := table.Get("D4")
	assert.True(t, ok)
}

func TestLockTable_Reap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	table := NewLockTable(clock, time.Minute)

	_, _, err := table.Acquire("expiring", ownerA)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, _, err = table.Acquire("fresh", ownerA)
	require.NoError(t, err)
	_, _, err = table.Acquire("orphaned", ownerB)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	members := map[string]bool{ownerA.SessionID: true}
	reaped := table.Reap(func(id string) bool { return members[id] })

	require.Len(t, reaped, 2)
	assert.Equal(t, "expiring", reaped[0].DeviceID)
	assert.Equal(t, "orphaned", reaped[1].DeviceID)

	snapshot := table.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "fresh", snapshot[0].DeviceID)
}

func TestLockTable_SnapshotHidesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	table := NewLockTable(clock, time.Minute)
	_, _, err := table.Acquire("D1", ownerA)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.Empty(t, table.Snapshot())
	assert.Equal(t, 1, table.Len(), "entry stays until reaped")

	_, ok := table.Get("D1")
	assert.False(t, ok)
}

func TestLock_Info(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	info := Lock{DeviceID: "D1", Owner: ownerA, AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}.Info()
	assert.Equal(t, LockInfo{
		DeviceID:       "D1",
		OwnerSessionID: "sess-a",
		OwnerUserID:    "alice",
		OwnerUsername:  "Alice",
		AcquiredAt:     now,
		ExpiresAt:      now.Add(time.Minute),
	}, info)
}
