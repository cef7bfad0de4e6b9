package hostdb

import "time"

// Cache is the top-level partitioned cache described in spec §4.2:
// K independent partitions, each enforcing its even share of the
// global item/byte caps. Cache owns no locks itself — all mutation
// happens inside a partition under that partition's RWMutex.
type Cache struct {
	config     Config
	partitions []*partition
	stats      *Stats
}

// NewCache builds a Cache with cfg.Partitions shards, each capped at
// 1/K of cfg.MaxItems and cfg.MaxSize (spec §4.2 "Bounds").
func NewCache(cfg Config, stats *Stats) *Cache {
	k := cfg.Partitions
	if k <= 0 {
		k = 1
	}
	perItems := cfg.MaxItems / int64(k)
	perBytes := cfg.MaxSize / int64(k)
	c := &Cache{config: cfg, stats: stats}
	c.partitions = make([]*partition, k)
	for i := range c.partitions {
		c.partitions[i] = newPartition(perItems, perBytes, stats)
	}
	return c
}

// partitionFor selects the shard for key, per spec §4.3: the fold
// (XOR of the two 64-bit halves) mod K.
func (c *Cache) partitionFor(key Key) *partition {
	return c.partitions[key.Fold()%uint64(len(c.partitions))]
}

// Get implements the client-visible half of spec §4.2's `get`.
func (c *Cache) Get(key Key) *Record {
	return c.partitionFor(key).get(key.Fold())
}

// Put implements spec §4.2's `put`.
func (c *Cache) Put(key Key, r *Record, ttl time.Duration, now time.Time) bool {
	return c.partitionFor(key).put(key.Fold(), r, ttl, now)
}

// Erase implements spec §4.2's `erase`, with an optional expected
// generation check.
func (c *Cache) Erase(key Key, expectedExpiry *time.Time) bool {
	return c.partitionFor(key).erase(key.Fold(), expectedExpiry)
}

// Iterate implements spec §6's `iterate` client operation: invokes f
// once per live Record across every partition (best-effort snapshot
// semantics — no cross-partition consistency is implied), then
// signals completion via done.
func (c *Cache) Iterate(f func(*Record), done func()) {
	for _, p := range c.partitions {
		p.iterate(f)
	}
	if done != nil {
		done()
	}
}

// CurrentItems and CurrentSize sum live per-partition counters for
// reporting (spec §6 metrics `current_items`/`current_size`).
func (c *Cache) CurrentItems() int64 {
	var total int64
	for _, p := range c.partitions {
		total += p.itemCount()
	}
	return total
}

func (c *Cache) CurrentSize() int64 {
	var total int64
	for _, p := range c.partitions {
		total += p.byteCount()
	}
	return total
}

func (c *Cache) Stats() Snapshot {
	return c.stats.Snapshot()
}
