package hostdb

import (
	"math/rand"
	"net"
	"time"
)

// Policy is the target-selection algorithm applied to a Record, per
// spec §4.6.
type Policy int

const (
	PolicyStrictRR Policy = iota
	PolicyTimedRR
	PolicyAffinity
	PolicySRVWeighted
)

// SelectOptions carries the inputs a selection needs beyond the
// Record itself: the current time, the dead-target blackout window,
// an optional client IP for AFFINITY, an optional RNG for
// SRV_WEIGHTED, and the rotation interval for TIMED_RR.
type SelectOptions struct {
	Now             time.Time
	FailWindow      time.Duration
	ClientIP        net.IP
	RNG             *rand.Rand
	TimedRRInterval time.Duration
}

// SelectTarget runs policy over r.Targets and returns the chosen
// target's index, or -1 if every target fails select(now) ("no
// target", spec §4.6's "All-dead outcome").
func SelectTarget(r *Record, policy Policy, opts SelectOptions) int {
	n := len(r.Targets)
	if n == 0 {
		return -1
	}
	switch policy {
	case PolicyTimedRR:
		return selectTimedRR(r, opts)
	case PolicyAffinity:
		return selectAffinity(r, opts)
	case PolicySRVWeighted:
		if idx := selectSRVWeighted(r, opts); idx >= 0 {
			return idx
		}
		return selectStrictRR(r, opts)
	default:
		return selectStrictRR(r, opts)
	}
}

// walkFrom starts at base and tries up to n targets (base, base+1, ...
// mod n), returning the first index whose Select(now) succeeds, or -1.
func walkFrom(r *Record, base int, opts SelectOptions) int {
	n := len(r.Targets)
	for i := 0; i < n; i++ {
		idx := (base + i) % n
		if r.Targets[idx].Select(opts.Now, opts.FailWindow) {
			return idx
		}
	}
	return -1
}

// selectStrictRR: rr_next() gives the base index; walk up to N
// targets starting there, returning the first selectable (spec
// §4.6 STRICT_RR).
func selectStrictRR(r *Record, opts SelectOptions) int {
	base := r.rrNext()
	return walkFrom(r, base, opts)
}

// selectTimedRR implements TIMED_RR: advance the rotation index only
// once per timed_rr_interval, via CAS on rr_rotation_time (spec §4.6).
// The caller that wins the CAS walks from the index rrNext returns,
// which is the index before the advance; every later caller in the new
// interval walks from the advanced index. Callers that do not rotate
// walk from the current index unchanged.
//
// rr_rotation_time starts at zero until a Record's first selection; a
// bare zero would read as "rotated at the epoch" and force a rotation
// on every call from then on, so it is lazily seeded to the first
// opts.Now seen instead of treating zero as a real rotation mark.
func selectTimedRR(r *Record, opts SelectOptions) int {
	rotated := r.rrRotationTime.Load()
	if rotated == 0 {
		if r.rrRotationTime.CompareAndSwap(0, opts.Now.Unix()) {
			rotated = opts.Now.Unix()
		} else {
			rotated = r.rrRotationTime.Load()
		}
	}
	tNext := rotated + int64(opts.TimedRRInterval/time.Second)
	base := r.rrIndex()
	if opts.Now.Unix() > tNext {
		if r.rrRotationTime.CompareAndSwap(rotated, tNext) {
			base = r.rrNext()
		} else {
			base = r.rrIndex()
		}
	}
	return walkFrom(r, base, opts)
}

// mixHash is the "small mixing hash" specified for AFFINITY: a
// byte-wise XOR of client and target addresses, XOR-folded four bytes
// at a time into 32 bits, then the top 16 bits folded onto the bottom
// 16. Inputs are padded/truncated to 16 bytes (the IPv6-sized
// representation) so v4 and v6 addresses mix uniformly.
func mixHash(client, target net.IP) uint32 {
	c := client.To16()
	t := target.To16()
	if c == nil || t == nil {
		return 0
	}
	var mix [16]byte
	for i := 0; i < 16; i++ {
		mix[i] = c[i] ^ t[i]
	}
	var v uint32
	for i := 0; i < 16; i += 4 {
		v ^= uint32(mix[i])<<24 | uint32(mix[i+1])<<16 | uint32(mix[i+2])<<8 | uint32(mix[i+3])
	}
	return (v >> 16) ^ (v & 0xffff)
}

// selectAffinity picks the target maximizing mixHash(clientIP,
// targetIP), ties broken by lower index; if that target fails
// select(now), walks from its index for the first alive/zombie
// target (spec §4.6 AFFINITY).
func selectAffinity(r *Record, opts SelectOptions) int {
	best := 0
	var bestHash uint32
	for i := range r.Targets {
		h := mixHash(opts.ClientIP, r.Targets[i].IP)
		if i == 0 || h > bestHash {
			bestHash = h
			best = i
		}
	}
	if r.Targets[best].Select(opts.Now, opts.FailWindow) {
		return best
	}
	return walkFrom(r, best, opts)
}

// selectSRVWeighted implements spec §4.6 SRV_WEIGHTED: find the
// lowest priority band with a non-dead member, sum weights of
// non-dead members in that band, and draw a weighted pick. Falls
// through (returns -1) to STRICT_RR if the band's weight sum is zero.
func selectSRVWeighted(r *Record, opts SelectOptions) int {
	n := len(r.Targets)
	if n == 0 {
		return -1
	}
	// targets[] is pre-sorted by priority ascending (invariant 3).
	bandPriority := r.Targets[0].Priority
	bandStart := 0
	for bandStart < n {
		anyLive := false
		bandEnd := bandStart
		for bandEnd < n && r.Targets[bandEnd].Priority == bandPriority {
			if !r.Targets[bandEnd].IsDead(opts.Now, opts.FailWindow) {
				anyLive = true
			}
			bandEnd++
		}
		if anyLive {
			return weightedPickInBand(r, bandStart, bandEnd, opts)
		}
		if bandEnd >= n {
			return -1
		}
		bandPriority = r.Targets[bandEnd].Priority
		bandStart = bandEnd
	}
	return -1
}

func weightedPickInBand(r *Record, start, end int, opts SelectOptions) int {
	var sum uint32
	for i := start; i < end; i++ {
		if !r.Targets[i].IsDead(opts.Now, opts.FailWindow) {
			sum += uint32(r.Targets[i].Weight)
		}
	}
	if sum == 0 {
		return -1
	}
	rng := opts.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(opts.Now.UnixNano()))
	}
	pick := uint32(rng.Int63n(int64(sum)))
	var cum uint32
	for i := start; i < end; i++ {
		if r.Targets[i].IsDead(opts.Now, opts.FailWindow) {
			continue
		}
		cum += uint32(r.Targets[i].Weight)
		if cum > pick {
			if r.Targets[i].Select(opts.Now, opts.FailWindow) {
				return i
			}
			return walkFrom(r, i, opts)
		}
	}
	return -1
}
