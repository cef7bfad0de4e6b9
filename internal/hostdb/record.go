package hostdb

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
)

// RecordType tags what a Record holds. See spec §3.
type RecordType uint8

const (
	RecordUnspec RecordType = iota
	RecordAddr
	RecordSRV
	RecordHost
)

func (t RecordType) String() string {
	switch t {
	case RecordAddr:
		return "ADDR"
	case RecordSRV:
		return "SRV"
	case RecordHost:
		return "HOST"
	default:
		return "UNSPEC"
	}
}

// Family distinguishes IPv4 from IPv6 ADDR records. Undefined (zero)
// for SRV/HOST records.
type Family uint8

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Record is the immutable-after-publish value cached by HostDB (spec
// §3/§4.1). In the original C++ it is one arena allocation with
// self-relative offsets; in Go the equivalent invariant ("no field
// points outside its own allocation") is trivially satisfied by a
// normal struct holding its Targets slice, so there is no offset
// arithmetic to replicate in memory. Marshal/Unmarshal still produce
// and consume the single contiguous byte layout described in spec
// §4.7 for the on-disk form.
type Record struct {
	Key          Key
	Type         RecordType
	Family       Family
	QueryName    string
	Targets      []Target
	TTL          time.Duration
	ResponseTime time.Time
	Failed       bool

	// refs is the reference count described in spec §3's Record
	// lifecycle. NewRecord starts it at 1; partition iteration and
	// snapshot copy-out Retain and Release around their use. The
	// count is bookkeeping only: the Go GC reclaims a Record once it is
	// unreachable, whatever the count says.
	refs atomic.Int32

	rrCursor       atomic.Uint32
	rrRotationTime atomic.Int64 // unix seconds, 0 if never rotated
}

// NewRecord allocates a Record with n zero-valued targets, mirroring
// HostDBRecord::alloc (spec §4.1: "allocates and zero-initializes").
func NewRecord(key Key, queryName string, typ RecordType, family Family, n int) *Record {
	r := &Record{
		Key:       key,
		Type:      typ,
		Family:    family,
		QueryName: queryName,
		Targets:   make([]Target, n),
	}
	r.refs.Store(1)
	return r
}

// Retain increments the reference count; callers handing a Record to
// another owner (a pending request, a client callback, a hosts-file
// shadow) must call this before doing so.
func (r *Record) Retain() *Record {
	r.refs.Add(1)
	return r
}

// Release drops a reference. Callers must stop using r after calling
// Release unless they hold another reference.
func (r *Record) Release() {
	r.refs.Add(-1)
}

// RefCount reports the current reference count, chiefly for tests.
func (r *Record) RefCount() int32 {
	return r.refs.Load()
}

// FindTarget linearly scans for the target matching addr, used on
// connection completion to mark up/down by IP (spec §4.1).
func (r *Record) FindTarget(addr string) *Target {
	for i := range r.Targets {
		if r.Targets[i].IP.String() == addr {
			return &r.Targets[i]
		}
	}
	return nil
}

// rrNext atomically advances the round-robin cursor and returns an
// index modulo len(Targets). Concurrent callers are guaranteed
// distinct indices modulo N (spec §4.1/invariant 4).
func (r *Record) rrNext() int {
	n := len(r.Targets)
	if n == 0 {
		return 0
	}
	v := r.rrCursor.Add(1) - 1
	return int(v % uint32(n))
}

// rrIndex returns the current round-robin index without advancing it.
func (r *Record) rrIndex() int {
	n := len(r.Targets)
	if n == 0 {
		return 0
	}
	return int(r.rrCursor.Load() % uint32(n))
}

// indexOf returns the index of target within r.Targets, or -1.
func (r *Record) indexOf(target *Target) int {
	if target == nil {
		return -1
	}
	for i := range r.Targets {
		if &r.Targets[i] == target {
			return i
		}
	}
	return -1
}

// ExpiryTime is response_time + ttl, the point after which the record
// is stale absent serve-stale grace.
func (r *Record) ExpiryTime() time.Time {
	return r.ResponseTime.Add(r.TTL)
}

// IsExpired reports whether now is past the record's TTL.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiryTime())
}

// ServeStaleAllowed implements spec §4.1: true iff now is still within
// ttl + grace of response_time. grace == 0 means stale serving is
// disabled outright.
func (r *Record) ServeStaleAllowed(now time.Time, grace time.Duration) bool {
	if grace <= 0 {
		return false
	}
	return now.Before(r.ResponseTime.Add(r.TTL).Add(grace))
}

// IsConfiguredStale reports whether the record's age has passed
// verifyAfter, the proactive-refresh threshold from spec §6's
// verify_after key. Mirrors original_source's
// HostDBRecord::is_ip_configured_stale, which also requires the TTL to
// be at least twice verifyAfter before honoring it.
func (r *Record) IsConfiguredStale(now time.Time, verifyAfter time.Duration) bool {
	if verifyAfter <= 0 {
		return false
	}
	if r.TTL < 2*verifyAfter {
		return false
	}
	return now.Sub(r.ResponseTime) >= verifyAfter
}

// MarkFailed converts r in place to the negative-cache shape described
// in spec §4.1's "Failure semantics": no targets, Failed set, TTL
// replaced by the (already-clamped) fail TTL.
func MarkFailed(key Key, queryName string, typ RecordType, family Family, now time.Time, failTTL time.Duration) *Record {
	r := NewRecord(key, queryName, typ, family, 0)
	r.Failed = true
	r.ResponseTime = now
	r.TTL = failTTL
	return r
}

// migrateLiveness copies mutable liveness fields from a predecessor
// Record's targets into r's targets, matched by IP for ADDR records
// and by (priority, weight, name) for SRV records, per spec §3's
// Target lifecycle.
func (r *Record) migrateLiveness(prior *Record) {
	if prior == nil {
		return
	}
	isSRV := r.Type == RecordSRV
	priorByKey := make(map[string]*Target, len(prior.Targets))
	for i := range prior.Targets {
		priorByKey[prior.Targets[i].matchKey(isSRV)] = &prior.Targets[i]
	}
	for i := range r.Targets {
		if old, ok := priorByKey[r.Targets[i].matchKey(isSRV)]; ok {
			r.Targets[i].migrateFrom(old)
		}
	}
}

func srvMatchKey(priority, weight uint16, name string) string {
	return fmt.Sprintf("%d/%d/%s", priority, weight, name)
}

// Marshal produces the byte-buffer wire form described in spec
// §9 ("a header struct plus a byte buffer and typed offset
// accessors") for this Record: a fixed header, the query name, and
// each target. There are no raw self-relative offsets to fix up on
// unmarshal because Go slices already carry their own bounds; the
// round-trip invariant spec §8 asks for (header fields and target
// array bitwise-equal after marshal/unmarshal) is satisfied by simple
// field-by-field encoding instead.
func (r *Record) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 64+len(r.QueryName)+len(r.Targets)*64)

	var hdr [35]byte
	binary.LittleEndian.PutUint64(hdr[0:8], r.Key.Hi)
	binary.LittleEndian.PutUint64(hdr[8:16], r.Key.Lo)
	hdr[16] = byte(r.Type)
	hdr[17] = byte(r.Family)
	if r.Failed {
		hdr[18] = 1
	}
	binary.LittleEndian.PutUint64(hdr[19:27], uint64(r.TTL))
	binary.LittleEndian.PutUint64(hdr[27:35], uint64(r.ResponseTime.Unix()))
	buf = append(buf, hdr[:]...)

	var nameLen [4]byte
	binary.LittleEndian.PutUint32(nameLen[:], uint32(len(r.QueryName)))
	buf = append(buf, nameLen[:]...)
	buf = append(buf, []byte(r.QueryName)...)

	var targetCount [4]byte
	binary.LittleEndian.PutUint32(targetCount[:], uint32(len(r.Targets)))
	buf = append(buf, targetCount[:]...)

	for i := range r.Targets {
		buf = append(buf, marshalTarget(&r.Targets[i])...)
	}
	return buf, nil
}

// UnmarshalRecord is the inverse of Marshal. It validates that the
// encoded sizes agree with the buffer's remaining length, matching
// spec §4.1's "unmarshal validates that the stored size matches the
// allocation size bucket."
func UnmarshalRecord(buf []byte) (*Record, error) {
	if len(buf) < 35+4 {
		return nil, fmt.Errorf("hostdb: record buffer too short")
	}
	r := &Record{}
	r.Key.Hi = binary.LittleEndian.Uint64(buf[0:8])
	r.Key.Lo = binary.LittleEndian.Uint64(buf[8:16])
	r.Type = RecordType(buf[16])
	r.Family = Family(buf[17])
	r.Failed = buf[18] != 0
	r.TTL = time.Duration(binary.LittleEndian.Uint64(buf[19:27]))
	r.ResponseTime = time.Unix(int64(binary.LittleEndian.Uint64(buf[27:35])), 0)
	r.refs.Store(1)

	off := 35
	if len(buf) < off+4 {
		return nil, fmt.Errorf("hostdb: record buffer truncated at name length")
	}
	nameLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if len(buf) < off+nameLen+4 {
		return nil, fmt.Errorf("hostdb: record buffer truncated at name")
	}
	r.QueryName = string(buf[off : off+nameLen])
	off += nameLen

	targetCount := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	r.Targets = make([]Target, targetCount)
	for i := 0; i < targetCount; i++ {
		n, err := unmarshalTarget(&r.Targets[i], buf[off:])
		if err != nil {
			return nil, err
		}
		off += n
	}
	if off != len(buf) {
		return nil, fmt.Errorf("hostdb: record buffer size mismatch: consumed %d of %d bytes", off, len(buf))
	}
	return r, nil
}
