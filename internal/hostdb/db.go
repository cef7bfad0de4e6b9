package hostdb

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// FamilyStyle is resolve_by_name's family-style input (spec §6):
// IPV4/IPV6 permit a single FAMILY_FALLBACK retry on the other
// family; the _ONLY variants never fall back; NONE queries IPv4 only
// and never falls back.
type FamilyStyle int

const (
	StyleIPv4 FamilyStyle = iota
	StyleIPv6
	StyleIPv4Only
	StyleIPv6Only
	StyleNone
)

func (s FamilyStyle) initialFamily() Family {
	switch s {
	case StyleIPv6, StyleIPv6Only:
		return FamilyIPv6
	default:
		return FamilyIPv4
	}
}

// allowsFallback reports whether s permits one FAMILY_FALLBACK retry
// (spec §4.4: "Only when the original host_res_style is IPV4 (or
// IPV6) without 'only' semantics").
func (s FamilyStyle) allowsFallback() bool {
	return s == StyleIPv4 || s == StyleIPv6
}

func fallbackFamily(f Family) Family {
	if f == FamilyIPv4 {
		return FamilyIPv6
	}
	return FamilyIPv4
}

// ResolveOptions carries resolve_by_name's "options" input (spec §6):
// a per-call timeout override, a force-DNS flag (bypass a cache hit),
// and a no-round-robin flag (reserved for callers that want the raw
// target list instead of a selected target — HostDB itself always
// returns the full Record; selection is a separate client-side step
// via SelectTarget).
type ResolveOptions struct {
	Timeout      time.Duration
	ForceDNS     bool
	NoRoundRobin bool
}

// DB is HostDB's top-level orchestrator: the partitioned Cache, the
// Resolver collaborator, the hosts-file shadow, configuration, and
// the cached "now" advanced by the background tick (spec §4.8). It is
// the type cmd/hostdbproxy constructs once at startup and holds for
// the life of the process (spec §9's note on global singletons: built
// explicitly, passed through a context struct, never referenced as a
// package-level global).
type DB struct {
	config   Config
	cache    *Cache
	resolver Resolver
	hostfile *HostFileShadow
	stats    *Stats
	logger   Logger

	cachedNow atomic.Int64 // unix seconds, advanced by Tick

	stopTick chan struct{}
}

// NewDB constructs a DB. The caller is responsible for calling
// ReadSnapshot before serving traffic and for starting a background
// goroutine that calls Tick once a second (spec §4.8) — HostDB itself
// does not spawn goroutines in its constructor, matching spec §9's
// preference for explicit lifecycle construction over hidden startup
// work.
func NewDB(cfg Config, resolver Resolver, logger Logger) *DB {
	stats := NewStats()
	db := &DB{
		config:   cfg,
		cache:    NewCache(cfg, stats),
		resolver: resolver,
		stats:    stats,
		logger:   logger,
		stopTick: make(chan struct{}),
	}
	db.cachedNow.Store(time.Now().Unix())
	if cfg.HostFile.Path != "" {
		db.hostfile = NewHostFileShadow(cfg.HostFile.Path, cfg.HostFileIntervalDuration(), logger)
	}
	return db
}

// Now returns the cached "now" (spec §4.8): a monotonically
// non-decreasing approximation used on fast paths. TTL arithmetic
// against DNS response times always uses time.Now() directly instead
// (spec §4.8's "exact wall-clock is queried directly").
func (db *DB) Now() time.Time {
	return time.Unix(db.cachedNow.Load(), 0)
}

// Tick implements spec §4.8's once-a-second background task.
func (db *DB) Tick(now time.Time) {
	if now.Unix() > db.cachedNow.Load() {
		db.cachedNow.Store(now.Unix())
	}
	if db.hostfile != nil {
		db.hostfile.CheckReload(now)
	}
}

// ResolveByName implements spec §6's resolve_by_name.
func (db *DB) ResolveByName(ctx context.Context, name string, style FamilyStyle, opts ResolveOptions) (*Record, error) {
	return db.resolveByName(ctx, name, 0, style, opts, MarkGeneric)
}

// ResolveByNamePort implements resolve_by_name_port: the key includes
// port, used for SRV-like affinity where port matters.
func (db *DB) ResolveByNamePort(ctx context.Context, name string, port uint16, style FamilyStyle, opts ResolveOptions) (*Record, error) {
	return db.resolveByName(ctx, name, port, style, opts, MarkGeneric)
}

func (db *DB) resolveByName(ctx context.Context, name string, port uint16, style FamilyStyle, opts ResolveOptions, mark Mark) (*Record, error) {
	if !db.config.Enabled {
		return nil, nil
	}

	if ip := net.ParseIP(name); ip != nil {
		return synthLiteral(name, ip), nil
	}

	family := style.initialFamily()
	if mark == MarkGeneric {
		mark = markForFamily(family)
	}
	key := hashKey(name, port, mark, "")

	return db.resolveKey(ctx, key, name, RecordAddr, family, style, opts)
}

// ResolveSRV implements resolve_srv.
func (db *DB) ResolveSRV(ctx context.Context, name string, opts ResolveOptions) (*Record, error) {
	if !db.config.Enabled {
		return nil, nil
	}
	key := hashKey(name, 0, MarkSRV, "")
	return db.resolveKey(ctx, key, name, RecordSRV, FamilyUnspec, StyleNone, opts)
}

// ResolveByAddr implements resolve_by_addr: reverse lookup, failing
// immediately if disabled (spec §6/§7).
func (db *DB) ResolveByAddr(ctx context.Context, addr net.IP) (*Record, error) {
	if !db.config.Enabled {
		return nil, nil
	}
	if db.config.DisableReverseLookup {
		return nil, nil
	}

	if db.hostfile != nil {
		if hf := db.hostfile.Get(); hf != nil {
			if rec := hf.lookupReverse(addr); rec != nil {
				return rec, nil
			}
		}
	}

	key := hashAddrKey(addr)
	return db.resolveAddrKey(ctx, key, addr, ResolveOptions{Timeout: db.config.TimeoutDuration()})
}

// Iterate implements spec §6's iterate client operation.
func (db *DB) Iterate(f func(*Record), done func()) {
	db.cache.Iterate(f, done)
}

func (db *DB) Stats() Snapshot {
	return db.cache.Stats()
}

// WriteSnapshot implements spec §4.7's snapshot write, delegating to
// the underlying Cache (one file, paced per-partition writes).
func (db *DB) WriteSnapshot(path string, syncPeriod time.Duration) error {
	return db.cache.WriteSnapshot(path, syncPeriod)
}

// ReadSnapshot implements spec §4.7's restore-on-start, delegating to
// the underlying Cache. Expired entries are skipped; a missing file
// is not an error (a fresh cache has nothing to restore).
func (db *DB) ReadSnapshot(path string, now time.Time) error {
	return db.cache.ReadSnapshot(path, now)
}

// synthLiteral implements SYNTH_LITERAL (spec §4.4): the requested
// name parses as a numeric IP, so a single-target Record is built in
// place and never inserted into the cache.
func synthLiteral(name string, ip net.IP) *Record {
	family := FamilyIPv4
	if ip.To4() == nil {
		family = FamilyIPv6
	}
	r := NewRecord(Key{}, name, RecordAddr, family, 1)
	r.Targets[0].IP = ip
	r.ResponseTime = time.Now()
	r.TTL = 365 * 24 * time.Hour
	return r
}
