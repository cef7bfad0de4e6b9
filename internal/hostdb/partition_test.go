package hostdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionGetPutRoundTrip(t *testing.T) {
	p := newPartition(100, 1<<20, NewStats())
	r := NewRecord(Key{Hi: 1}, "echo.example", RecordAddr, FamilyIPv4, 1)
	now := time.Now()

	ok := p.put(1, r, 60*time.Second, now)
	require.True(t, ok)

	got := p.get(1)
	require.NotNil(t, got)
	assert.Equal(t, "echo.example", got.QueryName)
	assert.Nil(t, p.get(2), "a miss must return nil")
}

func TestPartitionPutEnforcesItemCap(t *testing.T) {
	p := newPartition(1, 1<<20, NewStats())
	now := time.Now()
	r1 := NewRecord(Key{Hi: 1}, "one.example", RecordAddr, FamilyIPv4, 1)
	r2 := NewRecord(Key{Hi: 2}, "two.example", RecordAddr, FamilyIPv4, 1)

	require.True(t, p.put(1, r1, 60*time.Second, now))
	ok := p.put(2, r2, 60*time.Second, now)
	assert.False(t, ok, "a full partition with an unexpired head must reject the insert")
	assert.LessOrEqual(t, p.itemCount(), int64(1))
}

func TestPartitionMakeSpaceEvictsOnlyExpiredEntries(t *testing.T) {
	p := newPartition(1, 1<<20, NewStats())
	past := time.Now().Add(-time.Hour)
	r1 := NewRecord(Key{Hi: 1}, "one.example", RecordAddr, FamilyIPv4, 1)
	require.True(t, p.put(1, r1, 1*time.Second, past)) // already expired relative to "now" below

	now := time.Now()
	r2 := NewRecord(Key{Hi: 2}, "two.example", RecordAddr, FamilyIPv4, 1)
	ok := p.put(2, r2, 60*time.Second, now)
	assert.True(t, ok, "an expired occupant must be evicted to make room")
	assert.Nil(t, p.get(1))
	assert.NotNil(t, p.get(2))
}

func TestPartitionEraseWithExpectedExpiry(t *testing.T) {
	p := newPartition(100, 1<<20, NewStats())
	now := time.Now()
	r := NewRecord(Key{Hi: 1}, "foxtrot.example", RecordAddr, FamilyIPv4, 1)
	p.put(1, r, 60*time.Second, now)

	wrongExpiry := now.Add(999 * time.Hour)
	assert.False(t, p.erase(1, &wrongExpiry), "erase must not match a stale expected_expiry")
	assert.NotNil(t, p.get(1))

	assert.True(t, p.erase(1, nil), "unconditional erase always removes the entry")
	assert.Nil(t, p.get(1))
}

func TestPartitionAdmitPendingFirstThenFollowers(t *testing.T) {
	p := newPartition(100, 1<<20, NewStats())
	w1 := newWaiter()
	w2 := newWaiter()
	w3 := newWaiter()

	first := p.admitPending(42, w1)
	second := p.admitPending(42, w2)
	third := p.admitPending(42, w3)

	assert.True(t, first)
	assert.False(t, second)
	assert.False(t, third)

	stats := p.stats.Snapshot()
	assert.EqualValues(t, 2, stats.InsertDuplicateToPendingDNS)

	waiters := p.wake(42)
	assert.Len(t, waiters, 3)
	assert.Nil(t, p.wake(42), "waking an already-woken key returns nothing")
}

func TestPartitionAdmitStaleRefreshOnlyOncePerKey(t *testing.T) {
	p := newPartition(100, 1<<20, NewStats())
	first := p.admitStaleRefresh(7)
	second := p.admitStaleRefresh(7)
	assert.True(t, first)
	assert.False(t, second, "a second concurrent stale-refresh decider must see one already pending")
}

func TestPartitionIterateBumpsRefcount(t *testing.T) {
	p := newPartition(100, 1<<20, NewStats())
	r := NewRecord(Key{Hi: 1}, "golf.example", RecordAddr, FamilyIPv4, 1)
	p.put(1, r, 60*time.Second, time.Now())

	var seen int
	p.iterate(func(rec *Record) {
		seen++
		assert.GreaterOrEqual(t, rec.RefCount(), int32(2))
	})
	assert.Equal(t, 1, seen)
}
