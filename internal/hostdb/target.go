package hostdb

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Target is one entry in a Record's target array: either an IP
// (ADDR records) or an SRV tuple. Liveness fields are mutable after
// publish; everything else is fixed at construction. See spec §3,
// "Target".
type Target struct {
	// IP holds the resolved address for ADDR records. Unused for SRV.
	IP net.IP

	// SRV tuple, valid only when the owning Record's Type is RecordSRV.
	Priority uint16
	Weight   uint16
	Port     uint16
	SRVName  string

	// lastFailure is zero while alive, or the unix-seconds time of the
	// failure that made this target dead/zombie. Mutated only via CAS
	// (spec invariant 6).
	lastFailure atomic.Int64
	// failureCount is advisory, bumped on every mark-down.
	failureCount atomic.Uint32
	// httpVersion carries the last observed upstream HTTP version
	// across re-resolutions; a plain field because only the owning
	// transaction writes it, never concurrently with selection.
	httpVersion string
}

// IsAlive reports whether the target has no recorded failure.
func (t *Target) IsAlive() bool {
	return t.lastFailure.Load() == 0
}

// IsDead reports whether the target failed and is still inside its
// blackout window.
func (t *Target) IsDead(now time.Time, failWindow time.Duration) bool {
	lf := t.lastFailure.Load()
	if lf == 0 {
		return false
	}
	return time.Unix(lf, 0).Add(failWindow).After(now) || time.Unix(lf, 0).Add(failWindow).Equal(now)
}

// IsZombie reports whether the target failed but its blackout window
// has elapsed, making it eligible for a single reservation attempt.
func (t *Target) IsZombie(now time.Time, failWindow time.Duration) bool {
	lf := t.lastFailure.Load()
	if lf == 0 {
		return false
	}
	return time.Unix(lf, 0).Add(failWindow).Before(now)
}

// Select implements spec §4.6's selection predicate: alive targets are
// always selectable; a zombie is selectable by at most one caller per
// window, the one that wins the CAS reserving it. The caller that
// wins must attempt to use the target.
func (t *Target) Select(now time.Time, failWindow time.Duration) bool {
	lf := t.lastFailure.Load()
	if lf == 0 {
		return true
	}
	if !time.Unix(lf, 0).Add(failWindow).Before(now) {
		return false
	}
	return t.lastFailure.CompareAndSwap(lf, now.Unix())
}

// MarkDown records a failure at time now. Returns false if the target
// was already marked down (the existing failure time is left alone).
func (t *Target) MarkDown(now time.Time) bool {
	if t.lastFailure.CompareAndSwap(0, now.Unix()) {
		t.failureCount.Add(1)
		return true
	}
	return false
}

// MarkUp clears any recorded failure, returning whether the target had
// been marked down.
func (t *Target) MarkUp() bool {
	return t.lastFailure.Swap(0) != 0
}

// LastFailure returns the raw failure timestamp, zero meaning alive.
func (t *Target) LastFailure() int64 {
	return t.lastFailure.Load()
}

// FailureCount returns the advisory failure counter.
func (t *Target) FailureCount() uint32 {
	return t.failureCount.Load()
}

// HTTPVersion returns the hinted HTTP version carried forward from a
// prior resolution, or "" if none was ever recorded.
func (t *Target) HTTPVersion() string {
	return t.httpVersion
}

// SetHTTPVersion records an observed upstream HTTP version.
func (t *Target) SetHTTPVersion(v string) {
	t.httpVersion = v
}

// migrateFrom copies only the fields that should survive a
// re-resolution: failure state and the HTTP version hint. Matched
// against original_source's HostDBInfo::migrate_from, which migrates
// last_failure and http_version but deliberately not fail_count.
func (t *Target) migrateFrom(prior *Target) {
	t.lastFailure.Store(prior.lastFailure.Load())
	t.httpVersion = prior.httpVersion
}

// matchKey returns the identity used to match a Target across
// re-resolutions: an IP for ADDR targets, or (priority, weight, name)
// for SRV targets, per spec §3's Target lifecycle.
func (t *Target) matchKey(isSRV bool) string {
	if isSRV {
		return srvMatchKey(t.Priority, t.Weight, t.SRVName)
	}
	return t.IP.String()
}

// marshalTarget encodes a Target for Record.Marshal: IP (16 bytes,
// zero-valued if absent), priority/weight/port (u16 each), failure
// state, and the SRV name length-prefixed.
func marshalTarget(t *Target) []byte {
	buf := make([]byte, 0, 16+6+8+4+len(t.SRVName))
	var ipBuf [16]byte
	if v6 := t.IP.To16(); v6 != nil {
		copy(ipBuf[:], v6)
	}
	buf = append(buf, ipBuf[:]...)

	var u16s [6]byte
	binary.LittleEndian.PutUint16(u16s[0:2], t.Priority)
	binary.LittleEndian.PutUint16(u16s[2:4], t.Weight)
	binary.LittleEndian.PutUint16(u16s[4:6], t.Port)
	buf = append(buf, u16s[:]...)

	var lf [8]byte
	binary.LittleEndian.PutUint64(lf[:], uint64(t.lastFailure.Load()))
	buf = append(buf, lf[:]...)

	var fc [4]byte
	binary.LittleEndian.PutUint32(fc[:], t.failureCount.Load())
	buf = append(buf, fc[:]...)

	var nameLen [4]byte
	binary.LittleEndian.PutUint32(nameLen[:], uint32(len(t.SRVName)))
	buf = append(buf, nameLen[:]...)
	buf = append(buf, []byte(t.SRVName)...)
	return buf
}

// unmarshalTarget decodes one Target from buf, returning the number
// of bytes consumed.
func unmarshalTarget(t *Target, buf []byte) (int, error) {
	const fixed = 16 + 6 + 8 + 4 + 4
	if len(buf) < fixed {
		return 0, fmt.Errorf("hostdb: target buffer too short")
	}
	ip := make(net.IP, 16)
	copy(ip, buf[0:16])
	if !ip.IsUnspecified() {
		t.IP = ip
	}
	t.Priority = binary.LittleEndian.Uint16(buf[16:18])
	t.Weight = binary.LittleEndian.Uint16(buf[18:20])
	t.Port = binary.LittleEndian.Uint16(buf[20:22])
	t.lastFailure.Store(int64(binary.LittleEndian.Uint64(buf[22:30])))
	t.failureCount.Store(binary.LittleEndian.Uint32(buf[30:34]))
	nameLen := int(binary.LittleEndian.Uint32(buf[34:38]))
	if len(buf) < fixed+nameLen {
		return 0, fmt.Errorf("hostdb: target buffer truncated at SRV name")
	}
	if nameLen > 0 {
		t.SRVName = string(buf[fixed : fixed+nameLen])
	}
	return fixed + nameLen, nil
}
