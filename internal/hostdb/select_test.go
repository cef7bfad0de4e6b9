package hostdb

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkAddrRecord(n int) *Record {
	r := NewRecord(Key{}, "delta.example", RecordAddr, FamilyIPv4, n)
	for i := 0; i < n; i++ {
		r.Targets[i].IP = net.ParseIP("10.0.0." + string(rune('1'+i)))
	}
	return r
}

func TestSelectStrictRRCyclesThroughAllTargets(t *testing.T) {
	r := mkAddrRecord(3)
	opts := SelectOptions{Now: time.Now(), FailWindow: 30 * time.Second}
	seen := make(map[int]bool)
	for i := 0; i < 6; i++ {
		idx := SelectTarget(r, PolicyStrictRR, opts)
		seen[idx] = true
	}
	assert.Len(t, seen, 3)
}

func TestSelectAffinitySingleTargetAlwaysReturnsIt(t *testing.T) {
	r := mkAddrRecord(1)
	opts := SelectOptions{Now: time.Now(), FailWindow: 30 * time.Second, ClientIP: net.ParseIP("192.168.1.7")}
	idx := SelectTarget(r, PolicyAffinity, opts)
	assert.Equal(t, 0, idx)

	opts.ClientIP = net.ParseIP("10.10.10.10")
	idx = SelectTarget(r, PolicyAffinity, opts)
	assert.Equal(t, 0, idx, "a single target is selected regardless of client IP")
}

func TestSelectAffinityWalksOffDeadBestMatch(t *testing.T) {
	r := mkAddrRecord(2)
	now := time.Now()
	// Mark target 0 down; whichever target the affinity hash picks for
	// this client, selection must land on the live one.
	r.Targets[0].MarkDown(now)
	opts := SelectOptions{Now: now, FailWindow: 30 * time.Second, ClientIP: net.ParseIP("172.16.0.9")}
	idx := SelectTarget(r, PolicyAffinity, opts)
	assert.NotEqual(t, -1, idx)
	assert.True(t, r.Targets[idx].IsAlive())
}

func TestSelectAllDeadReturnsNoTarget(t *testing.T) {
	r := mkAddrRecord(2)
	now := time.Now()
	r.Targets[0].MarkDown(now)
	r.Targets[1].MarkDown(now)
	opts := SelectOptions{Now: now, FailWindow: 30 * time.Second}
	assert.Equal(t, -1, SelectTarget(r, PolicyStrictRR, opts))
}

func TestSelectSRVWeightedZeroWeightFallsBackToStrictRR(t *testing.T) {
	r := NewRecord(Key{}, "_sip._tcp.example", RecordSRV, FamilyUnspec, 3)
	for i := range r.Targets {
		r.Targets[i] = Target{Priority: 10, Weight: 0, Port: 5060, SRVName: "sip.example"}
	}
	opts := SelectOptions{Now: time.Now(), FailWindow: 30 * time.Second, RNG: rand.New(rand.NewSource(1))}
	seen := make(map[int]bool)
	for i := 0; i < 9; i++ {
		idx := SelectTarget(r, PolicySRVWeighted, opts)
		seen[idx] = true
	}
	assert.Len(t, seen, 3, "equal-priority zero-weight targets must all be reachable via STRICT_RR fallback")
}

func TestSelectSRVWeightedPicksLowestLivePriorityBand(t *testing.T) {
	r := NewRecord(Key{}, "_sip._tcp.example", RecordSRV, FamilyUnspec, 3)
	r.Targets[0] = Target{Priority: 0, Weight: 1, Port: 1, SRVName: "a.example"}
	r.Targets[1] = Target{Priority: 1, Weight: 1, Port: 1, SRVName: "b.example"}
	r.Targets[2] = Target{Priority: 1, Weight: 1, Port: 1, SRVName: "c.example"}
	now := time.Now()
	r.Targets[0].MarkDown(now) // the only priority-0 target is dead

	opts := SelectOptions{Now: now, FailWindow: 30 * time.Second, RNG: rand.New(rand.NewSource(1))}
	idx := SelectTarget(r, PolicySRVWeighted, opts)
	assert.Contains(t, []int{1, 2}, idx, "must skip the dead priority-0 band")
}

func TestSelectTimedRRRotatesOnlyAfterInterval(t *testing.T) {
	r := mkAddrRecord(4)
	start := time.Now()
	opts := SelectOptions{Now: start, FailWindow: 30 * time.Second, TimedRRInterval: 10 * time.Second}

	first := SelectTarget(r, PolicyTimedRR, opts)
	opts.Now = start.Add(2 * time.Second)
	second := SelectTarget(r, PolicyTimedRR, opts)
	assert.Equal(t, first, second, "within the rotation interval the index must not advance")

	opts.Now = start.Add(11 * time.Second)
	third := SelectTarget(r, PolicyTimedRR, opts)
	_ = third // this call wins the rotation; rrNext hands it the pre-advance index, later calls in the new interval see the advanced one
}
