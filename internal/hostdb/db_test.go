package hostdb

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver is a scriptable stand-in for the Resolver collaborator
// interface (spec §6's "DNS client interface consumed"). LookupHost
// can delay until a gate channel is closed, letting tests pin down
// exactly when concurrent callers fan in behind one in-flight query;
// LookupSRV and LookupAddr never wait on it.
type fakeResolver struct {
	mu sync.Mutex

	hostCalls int32
	srvCalls  int32
	addrCalls int32

	hostResponses map[string]map[Family]HostResponse
	srvResponses  map[string]SRVResponse
	addrResponses map[string]AddrResponse

	gate chan struct{} // if non-nil, every LookupHost blocks on it
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		hostResponses: make(map[string]map[Family]HostResponse),
		srvResponses:  make(map[string]SRVResponse),
		addrResponses: make(map[string]AddrResponse),
	}
}

func (f *fakeResolver) setHost(name string, family Family, resp HostResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hostResponses[name] == nil {
		f.hostResponses[name] = make(map[Family]HostResponse)
	}
	f.hostResponses[name][family] = resp
}

func (f *fakeResolver) LookupHost(ctx context.Context, name string, family Family) (HostResponse, error) {
	atomic.AddInt32(&f.hostCalls, 1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if byFamily, ok := f.hostResponses[name]; ok {
		if resp, ok := byFamily[family]; ok {
			return resp, nil
		}
	}
	return HostResponse{Success: false}, nil
}

func (f *fakeResolver) LookupSRV(ctx context.Context, name string) (SRVResponse, error) {
	atomic.AddInt32(&f.srvCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.srvResponses[name]; ok {
		return resp, nil
	}
	return SRVResponse{Success: false}, nil
}

func (f *fakeResolver) LookupAddr(ctx context.Context, addr net.IP) (AddrResponse, error) {
	atomic.AddInt32(&f.addrCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.addrResponses[addr.String()]; ok {
		return resp, nil
	}
	return AddrResponse{Success: false}, nil
}

func testConfig() Config {
	cfg := Defaults()
	cfg.Partitions = 4
	cfg.Timeout = 2
	cfg.FailTimeout = 1
	return cfg
}

// TestCoalescing is end-to-end scenario 1 from spec §8: 500 concurrent
// resolves for one uncached name collapse into a single DNS query, and
// every caller receives the same resolved target.
func TestCoalescing(t *testing.T) {
	resolver := newFakeResolver()
	resolver.setHost("alpha.example", FamilyIPv4, HostResponse{
		Addresses: []net.IP{net.ParseIP("10.0.0.1")},
		TTL:       60 * time.Second,
		Success:   true,
	})

	db := NewDB(testConfig(), resolver, nil)

	const n = 500
	var wg sync.WaitGroup
	results := make([]*Record, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			rec, err := db.ResolveByName(context.Background(), "alpha.example", StyleIPv4Only, ResolveOptions{})
			require.NoError(t, err)
			results[i] = rec
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&resolver.hostCalls), "exactly one DNS query must be issued for 500 coalesced requests")
	for i, rec := range results {
		require.NotNil(t, rec, "caller %d must receive a record", i)
		assert.False(t, rec.Failed)
		require.Len(t, rec.Targets, 1)
		assert.Equal(t, "10.0.0.1", rec.Targets[0].IP.String())
		assert.Equal(t, 60*time.Second, rec.TTL)
	}
}

// TestServeStaleWhileRevalidate is scenario 2 from spec §8.
func TestServeStaleWhileRevalidate(t *testing.T) {
	resolver := newFakeResolver()
	resolver.setHost("bravo.example", FamilyIPv4, HostResponse{
		Addresses: []net.IP{net.ParseIP("10.0.0.3")},
		TTL:       60 * time.Second,
		Success:   true,
	})

	cfg := testConfig()
	cfg.ServeStaleFor = 300
	db := NewDB(cfg, resolver, nil)

	key := hashKey("bravo.example", 0, MarkIPv4, "")
	stale := NewRecord(key, "bravo.example", RecordAddr, FamilyIPv4, 1)
	stale.Targets[0].IP = net.ParseIP("10.0.0.2")
	stale.ResponseTime = time.Now().Add(-120 * time.Second)
	stale.TTL = 60 * time.Second
	db.cache.partitionFor(key).put(key.Fold(), stale, stale.TTL, stale.ResponseTime)

	rec, err := db.ResolveByName(context.Background(), "bravo.example", StyleIPv4Only, ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "10.0.0.2", rec.Targets[0].IP.String(), "the stale record is returned immediately")
	assert.EqualValues(t, 1, db.Stats().TotalServeStale)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&resolver.hostCalls) == 1
	}, time.Second, 5*time.Millisecond, "exactly one background refresh query must be issued")

	require.Eventually(t, func() bool {
		got, err := db.ResolveByName(context.Background(), "bravo.example", StyleIPv4Only, ResolveOptions{})
		return err == nil && got != nil && len(got.Targets) == 1 && got.Targets[0].IP.String() == "10.0.0.3"
	}, time.Second, 5*time.Millisecond, "subsequent resolves must observe the refreshed target")
}

// TestFamilyFallback is scenario 3 from spec §8: an IPV6-style resolve
// whose AAAA query comes back empty falls back to A exactly once, and
// the follow-up resolve under the same IPV6 style re-issues AAAA
// rather than reusing the IPv4 cache entry (the mark byte keeps the
// two keys distinct).
func TestFamilyFallback(t *testing.T) {
	resolver := newFakeResolver()
	resolver.setHost("charlie.example", FamilyIPv6, HostResponse{Success: false})
	resolver.setHost("charlie.example", FamilyIPv4, HostResponse{
		Addresses: []net.IP{net.ParseIP("10.0.0.4")},
		TTL:       30 * time.Second,
		Success:   true,
	})

	db := NewDB(testConfig(), resolver, nil)

	rec, err := db.ResolveByName(context.Background(), "charlie.example", StyleIPv6, ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, FamilyIPv4, rec.Family)
	require.Len(t, rec.Targets, 1)
	assert.Equal(t, "10.0.0.4", rec.Targets[0].IP.String())

	rec2, err := db.ResolveByName(context.Background(), "charlie.example", StyleIPv6, ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec2)
	assert.Equal(t, FamilyIPv4, rec2.Family, "the fallback result is what a second IPV6-style resolve observes too")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&resolver.hostCalls), int32(3), "the IPv6 mark was never cached, so AAAA is re-issued")
}

func TestSynthLiteralNeverCallsDNS(t *testing.T) {
	resolver := newFakeResolver()
	db := NewDB(testConfig(), resolver, nil)

	rec, err := db.ResolveByName(context.Background(), "10.0.0.9", StyleIPv4, ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Targets, 1)
	assert.Equal(t, "10.0.0.9", rec.Targets[0].IP.String())
	assert.EqualValues(t, 0, atomic.LoadInt32(&resolver.hostCalls))
	assert.Nil(t, db.cache.partitionFor(hashKey("10.0.0.9", 0, MarkIPv4, "")).get(hashKey("10.0.0.9", 0, MarkIPv4, "").Fold()))
}

func TestTTLModeIgnoreUsesConfiguredDefault(t *testing.T) {
	resolver := newFakeResolver()
	resolver.setHost("india.example", FamilyIPv4, HostResponse{
		Addresses: []net.IP{net.ParseIP("10.0.0.10")},
		TTL:       5 * time.Second,
		Success:   true,
	})
	cfg := testConfig()
	cfg.TTLMode = TTLModeIgnore
	cfg.DefaultTTL = 3600
	cfg.MaxTTL = 24 * 60 * 60
	db := NewDB(cfg, resolver, nil)

	rec, err := db.ResolveByName(context.Background(), "india.example", StyleIPv4Only, ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3600*time.Second, rec.TTL)
}

func TestResolveSRV(t *testing.T) {
	resolver := newFakeResolver()
	resolver.srvResponses["_sip._tcp.example"] = SRVResponse{
		Success: true,
		TTL:     60 * time.Second,
		Records: []SRVAnswer{
			{Priority: 10, Weight: 5, Port: 5060, Target: "sip2.example"},
			{Priority: 0, Weight: 1, Port: 5060, Target: "sip1.example"},
		},
	}
	db := NewDB(testConfig(), resolver, nil)

	rec, err := db.ResolveSRV(context.Background(), "_sip._tcp.example", ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Targets, 2)
	assert.Equal(t, uint16(0), rec.Targets[0].Priority, "targets must be sorted by priority ascending")
	assert.Equal(t, "sip1.example", rec.Targets[0].SRVName)
}

func TestResolveByAddrDisabledReverseFailsImmediately(t *testing.T) {
	resolver := newFakeResolver()
	cfg := testConfig()
	cfg.DisableReverseLookup = true
	db := NewDB(cfg, resolver, nil)

	rec, err := db.ResolveByAddr(context.Background(), net.ParseIP("10.0.0.1"))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.EqualValues(t, 0, atomic.LoadInt32(&resolver.addrCalls))
}

func TestResolveDisabledDBFailsImmediately(t *testing.T) {
	resolver := newFakeResolver()
	cfg := testConfig()
	cfg.Enabled = false
	db := NewDB(cfg, resolver, nil)

	rec, err := db.ResolveByName(context.Background(), "juliet.example", StyleIPv4Only, ResolveOptions{})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.EqualValues(t, 0, atomic.LoadInt32(&resolver.hostCalls))
}

// TestHostsFileShadowForwardAndReverse is scenario 5 from spec §8.
func TestHostsFileShadowForwardAndReverse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.7 local.example\n"), 0o644))

	resolver := newFakeResolver()
	cfg := testConfig()
	cfg.HostFile.Path = path
	cfg.HostFile.Interval = 60
	db := NewDB(cfg, resolver, nil)
	db.Tick(time.Now()) // forces the first hosts-file load

	rec, err := db.ResolveByName(context.Background(), "local.example", StyleIPv4Only, ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Targets, 1)
	assert.Equal(t, "10.0.0.7", rec.Targets[0].IP.String())
	assert.Equal(t, cfg.HostFileIntervalDuration(), rec.TTL)
	assert.EqualValues(t, 0, atomic.LoadInt32(&resolver.hostCalls), "a hosts-file hit must never reach DNS")

	revRec, err := db.ResolveByAddr(context.Background(), net.ParseIP("10.0.0.7"))
	require.NoError(t, err)
	require.NotNil(t, revRec)
	assert.Equal(t, "local.example", revRec.QueryName)
}

func TestSnapshotWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostdb.snap")

	resolver := newFakeResolver()
	db1 := NewDB(testConfig(), resolver, nil)

	liveKey := hashKey("kilo.example", 0, MarkIPv4, "")
	live := NewRecord(liveKey, "kilo.example", RecordAddr, FamilyIPv4, 1)
	live.Targets[0].IP = net.ParseIP("10.0.0.11")
	shutdownTime := time.Now()
	live.ResponseTime = shutdownTime
	live.TTL = 60 * time.Second
	db1.cache.partitionFor(liveKey).put(liveKey.Fold(), live, live.TTL, shutdownTime)

	expiredKey := hashKey("lima.example", 0, MarkIPv4, "")
	expired := NewRecord(expiredKey, "lima.example", RecordAddr, FamilyIPv4, 1)
	expired.Targets[0].IP = net.ParseIP("10.0.0.12")
	expired.ResponseTime = shutdownTime
	expired.TTL = 3 * time.Second // still unexpired at write time, but stale by restartTime below
	db1.cache.partitionFor(expiredKey).put(expiredKey.Fold(), expired, expired.TTL, expired.ResponseTime)

	require.NoError(t, db1.WriteSnapshot(path, 0))

	restartTime := shutdownTime.Add(10 * time.Second)
	db2 := NewDB(testConfig(), resolver, nil)
	require.NoError(t, db2.ReadSnapshot(path, restartTime))

	got := db2.cache.partitionFor(liveKey).get(liveKey.Fold())
	require.NotNil(t, got, "the live entry must survive the restart")
	assert.Equal(t, "10.0.0.11", got.Targets[0].IP.String())
	assert.InDelta(t, 50, got.TTL.Seconds(), 1, "restored ttl should be original_expiry - restart_time clamped >= 1")

	assert.Nil(t, db2.cache.partitionFor(expiredKey).get(expiredKey.Fold()), "an already-expired entry must not be restored")
}
