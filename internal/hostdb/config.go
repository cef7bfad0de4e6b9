package hostdb

import "time"

// TTLMode selects how a DNS response's TTL is reconciled with the
// configured default (spec §4.4 "TTL_MODE").
type TTLMode string

const (
	TTLModeObey   TTLMode = "obey"
	TTLModeIgnore TTLMode = "ignore"
	TTLModeMin    TTLMode = "min"
	TTLModeMax    TTLMode = "max"
)

// Config is HostDB's configuration, one struct for every key
// enumerated in spec §6. It is loaded from YAML the way the teacher's
// top-level config is (gopkg.in/yaml.v3), but lives in its own file
// here because HostDB is a library consumed by cmd/hostdbproxy, not
// an application with its own main config.
//
// Every duration-flavored key is stored as a plain int in seconds,
// the teacher's own convention (types.go's CacheTTL/NegativeCacheTTL):
// yaml.v3 has no special case for time.Duration, so a bare Duration
// field would decode "30" as 30ns instead of 30s. Callers convert with
// time.Duration(x) * time.Second at the point of use, same as the
// teacher's cache.go does for CacheTTL.
type Config struct {
	Enabled bool `yaml:"enabled"`

	MaxItems   int64 `yaml:"max_items"`
	MaxSize    int64 `yaml:"max_size"`
	Partitions int   `yaml:"partitions"`

	TTLMode    TTLMode `yaml:"ttl_mode"`
	DefaultTTL int     `yaml:"default_ttl"` // seconds
	MaxTTL     int     `yaml:"max_ttl"`      // seconds

	Timeout     int `yaml:"timeout"`      // seconds
	VerifyAfter int `yaml:"verify_after"` // seconds

	FailTimeout int `yaml:"fail_timeout"` // seconds

	ServeStaleFor int `yaml:"serve_stale_for"` // seconds

	RoundRobinMaxCount int  `yaml:"round_robin_max_count"`
	StrictRoundRobin   bool `yaml:"strict_round_robin"`
	TimedRoundRobin    int  `yaml:"timed_round_robin"` // seconds

	HostFile struct {
		Path     string `yaml:"path"`
		Interval int    `yaml:"interval"` // seconds
	} `yaml:"host_file"`

	DisableReverseLookup bool `yaml:"disable_reverse_lookup"`

	IO struct {
		MaxBufferIndex int `yaml:"max_buffer_index"`
	} `yaml:"io"`

	ReDNSOnReload bool `yaml:"re_dns_on_reload"`

	// MigrateOnDemand is reserved per spec §9's open question: its
	// effect in the original source is undocumented, so it is parsed
	// and stored but has no behavior here.
	MigrateOnDemand bool `yaml:"migrate_on_demand"`

	FailWindow int `yaml:"fail_window"` // seconds

	SyncPeriod   int    `yaml:"sync_period"` // seconds
	SnapshotPath string `yaml:"snapshot_path"`
}

// Seconds duration accessors, one per Config field a caller needs as
// a time.Duration — exported since both this package and
// cmd/hostdbproxy read them. Named after the field they convert so
// call sites read as cfg.TimeoutDuration() rather than a bare cast.
func (c Config) TimeoutDuration() time.Duration        { return time.Duration(c.Timeout) * time.Second }
func (c Config) DefaultTTLDuration() time.Duration     { return time.Duration(c.DefaultTTL) * time.Second }
func (c Config) MaxTTLDuration() time.Duration         { return time.Duration(c.MaxTTL) * time.Second }
func (c Config) VerifyAfterDuration() time.Duration    { return time.Duration(c.VerifyAfter) * time.Second }
func (c Config) FailTimeoutDuration() time.Duration    { return time.Duration(c.FailTimeout) * time.Second }
func (c Config) ServeStaleForDuration() time.Duration  { return time.Duration(c.ServeStaleFor) * time.Second }
func (c Config) TimedRoundRobinDuration() time.Duration {
	return time.Duration(c.TimedRoundRobin) * time.Second
}
func (c Config) HostFileIntervalDuration() time.Duration {
	return time.Duration(c.HostFile.Interval) * time.Second
}
func (c Config) FailWindowDuration() time.Duration { return time.Duration(c.FailWindow) * time.Second }
func (c Config) SyncPeriodDuration() time.Duration { return time.Duration(c.SyncPeriod) * time.Second }

// Defaults returns the configuration defaults used when a YAML
// document omits a key, matching the teacher's pattern of applying
// defaults in a dedicated function after unmarshal (see main.go's
// loadConfig). Durations are expressed in seconds, matching the YAML
// document's units.
func Defaults() Config {
	var c Config
	c.Enabled = true
	c.MaxItems = 200000
	c.MaxSize = 64 << 20
	c.Partitions = 64
	c.TTLMode = TTLModeObey
	c.DefaultTTL = 3600
	c.MaxTTL = 24 * 60 * 60
	c.Timeout = 30
	c.VerifyAfter = 0
	c.FailTimeout = 60
	c.ServeStaleFor = 0
	c.RoundRobinMaxCount = 12
	c.StrictRoundRobin = true
	c.TimedRoundRobin = 0
	c.HostFile.Interval = 5 * 60
	c.DisableReverseLookup = false
	c.IO.MaxBufferIndex = 8192
	c.ReDNSOnReload = false
	c.MigrateOnDemand = false
	c.FailWindow = 60
	c.SyncPeriod = 60
	return c
}

// ApplyDefaults fills zero-valued numeric and string fields of c with
// Defaults(), the way the teacher applies per-field defaults after a
// YAML unmarshal rather than failing on missing keys. Boolean keys
// (enabled, strict_round_robin, ...) are left as they are, since a
// false there cannot be told apart from an omitted key.
func (c *Config) ApplyDefaults() {
	d := Defaults()
	if c.Partitions == 0 {
		c.Partitions = d.Partitions
	}
	if c.MaxItems == 0 {
		c.MaxItems = d.MaxItems
	}
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.TTLMode == "" {
		c.TTLMode = d.TTLMode
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = d.MaxTTL
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.FailTimeout == 0 {
		c.FailTimeout = d.FailTimeout
	}
	if c.RoundRobinMaxCount == 0 {
		c.RoundRobinMaxCount = d.RoundRobinMaxCount
	}
	if c.HostFile.Interval == 0 {
		c.HostFile.Interval = d.HostFile.Interval
	}
	if c.IO.MaxBufferIndex == 0 {
		c.IO.MaxBufferIndex = d.IO.MaxBufferIndex
	}
	if c.FailWindow == 0 {
		c.FailWindow = d.FailWindow
	}
	if c.SyncPeriod == 0 {
		c.SyncPeriod = d.SyncPeriod
	}
}

// clampTTL enforces spec §4.4's "[1s, HOST_DB_MAX_TTL]" clamp.
func clampTTL(ttl, maxTTL time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

// resolveTTL applies TTLMode to a DNS response TTL, per spec §4.4.
func resolveTTL(mode TTLMode, responseTTL, defaultTTL, maxTTL time.Duration) time.Duration {
	var ttl time.Duration
	switch mode {
	case TTLModeIgnore:
		ttl = defaultTTL
	case TTLModeMin:
		ttl = responseTTL
		if defaultTTL < ttl {
			ttl = defaultTTL
		}
	case TTLModeMax:
		ttl = responseTTL
		if defaultTTL > ttl {
			ttl = defaultTTL
		}
	default: // TTLModeObey
		ttl = responseTTL
	}
	return clampTTL(ttl, maxTTL)
}
