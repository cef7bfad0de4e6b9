package hostdb

import "sync/atomic"

// atomicBool is the small atomic-flag wrapper used throughout this
// package, matching the teacher's preference for typed atomic wrapper
// fields (cache.go's counters) over bare int32 + atomic calls.
type atomicBool struct {
	v atomic.Bool
}

func (b *atomicBool) Load() bool     { return b.v.Load() }
func (b *atomicBool) Store(val bool) { b.v.Store(val) }

// Stats holds the canonical counters named in spec §6, all relaxed
// atomics; exact aggregation is not guaranteed. The total/ttl/pending
// counters are monotonic; currentItems and currentSize rise and fall
// with the cache, and the lastSync fields are overwritten on each
// snapshot write.
type Stats struct {
	totalLookups                atomic.Int64
	totalHits                   atomic.Int64
	totalServeStale              atomic.Int64
	ttlSum                       atomic.Int64 // "ttl" in spec §6: sum of accepted TTLs, for averaging
	ttlExpires                   atomic.Int64
	reDNSOnReload                atomic.Int64
	insertDuplicateToPendingDNS  atomic.Int64

	currentItems       atomic.Int64
	currentSize        atomic.Int64
	totalInserts       atomic.Int64
	totalFailedInserts atomic.Int64

	lastSyncTime       atomic.Int64 // unix seconds
	lastSyncTotalItems atomic.Int64
	lastSyncTotalSize  atomic.Int64
}

// NewStats returns a zero-valued Stats block, ready to share across
// every partition of a Cache.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot is a point-in-time, race-free copy of Stats for reporting.
type Snapshot struct {
	TotalLookups               int64
	TotalHits                  int64
	TotalServeStale            int64
	TTLSum                     int64
	TTLExpires                 int64
	ReDNSOnReload              int64
	InsertDuplicateToPendingDNS int64

	CurrentItems       int64
	CurrentSize        int64
	TotalInserts       int64
	TotalFailedInserts int64

	LastSyncTime       int64
	LastSyncTotalItems int64
	LastSyncTotalSize  int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalLookups:                s.totalLookups.Load(),
		TotalHits:                   s.totalHits.Load(),
		TotalServeStale:             s.totalServeStale.Load(),
		TTLSum:                      s.ttlSum.Load(),
		TTLExpires:                  s.ttlExpires.Load(),
		ReDNSOnReload:               s.reDNSOnReload.Load(),
		InsertDuplicateToPendingDNS: s.insertDuplicateToPendingDNS.Load(),
		CurrentItems:                s.currentItems.Load(),
		CurrentSize:                 s.currentSize.Load(),
		TotalInserts:                s.totalInserts.Load(),
		TotalFailedInserts:          s.totalFailedInserts.Load(),
		LastSyncTime:                s.lastSyncTime.Load(),
		LastSyncTotalItems:          s.lastSyncTotalItems.Load(),
		LastSyncTotalSize:           s.lastSyncTotalSize.Load(),
	}
}

func (s *Stats) recordSync(totalItems, totalSize int64, when int64) {
	s.lastSyncTime.Store(when)
	s.lastSyncTotalItems.Store(totalItems)
	s.lastSyncTotalSize.Store(totalSize)
}
