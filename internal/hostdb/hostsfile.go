package hostdb

import (
	"bufio"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// hostFileRecord holds the two records a hosts-file forward entry can
// produce, one per address family (spec §4.5, grounded on
// original_source's HostFile.cc which keeps separate record_4/record_6
// slots per name so one name can map to both an A and an AAAA line).
type hostFileRecord struct {
	v4 *Record
	v6 *Record
}

// HostFile is the immutable, process-wide table described in spec
// §4.5: a forward map (name → {v4, v6} Record) and a reverse map
// (IP → Record), both built once at parse time and never mutated
// afterward. A HostFile is swapped as a whole, never edited in place.
type HostFile struct {
	forward map[string]hostFileRecord
	reverse map[string]*Record
	ttl     time.Duration
}

// lookupForward implements spec §4.5's forward lookup by (name, family).
func (hf *HostFile) lookupForward(name string, family Family) *Record {
	if hf == nil {
		return nil
	}
	rec, ok := hf.forward[strings.ToLower(name)]
	if !ok {
		return nil
	}
	if family == FamilyIPv6 {
		return rec.v6
	}
	return rec.v4
}

// lookupReverse implements spec §4.5's reverse lookup by IP.
func (hf *HostFile) lookupReverse(addr net.IP) *Record {
	if hf == nil {
		return nil
	}
	return hf.reverse[addr.String()]
}

// parseHostFile reads a standard /etc/hosts-format file and builds a
// HostFile, mirroring original_source's ParseHostFile/ParseHostLine:
// first token per line is the address, remaining whitespace-separated
// tokens are names; '#' lines and blanks are skipped; for the reverse
// map, first occurrence of an address wins (stability across reloads).
func parseHostFile(path string, ttl time.Duration) (*HostFile, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type addrSet struct {
		v4, v6 []net.IP
	}
	byName := make(map[string]*addrSet)
	firstNameForAddr := make(map[string]string)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr := net.ParseIP(fields[0])
		if addr == nil {
			continue
		}
		isV4 := addr.To4() != nil
		for _, name := range fields[1:] {
			name = strings.ToLower(name)
			set, ok := byName[name]
			if !ok {
				set = &addrSet{}
				byName[name] = set
			}
			if isV4 {
				set.v4 = append(set.v4, addr)
			} else {
				set.v6 = append(set.v6, addr)
			}
			if _, ok := firstNameForAddr[addr.String()]; !ok {
				firstNameForAddr[addr.String()] = name
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	hf := &HostFile{
		forward: make(map[string]hostFileRecord, len(byName)),
		reverse: make(map[string]*Record),
		ttl:     ttl,
	}

	for name, set := range byName {
		var entry hostFileRecord
		if len(set.v4) > 0 {
			entry.v4 = buildHostFileRecord(name, set.v4, FamilyIPv4, ttl)
		}
		if len(set.v6) > 0 {
			entry.v6 = buildHostFileRecord(name, set.v6, FamilyIPv6, ttl)
		}
		hf.forward[name] = entry
	}

	for addr, name := range firstNameForAddr {
		entry := hf.forward[name]
		ip := net.ParseIP(addr)
		if ip.To4() != nil && entry.v4 != nil {
			hf.reverse[addr] = buildHostRecord(name, ttl)
		} else if entry.v6 != nil {
			hf.reverse[addr] = buildHostRecord(name, ttl)
		}
	}

	return hf, nil
}

func buildHostFileRecord(name string, addrs []net.IP, family Family, ttl time.Duration) *Record {
	r := NewRecord(hashKey(name, 0, markForFamily(family), ""), name, RecordAddr, family, len(addrs))
	for i, a := range addrs {
		r.Targets[i].IP = a
	}
	r.TTL = ttl
	r.ResponseTime = time.Time{}
	return r
}

func buildHostRecord(name string, ttl time.Duration) *Record {
	r := NewRecord(Key{}, name, RecordHost, FamilyUnspec, 0)
	r.TTL = ttl
	return r
}

func markForFamily(f Family) Mark {
	if f == FamilyIPv6 {
		return MarkIPv6
	}
	return MarkIPv4
}

// HostFileShadow holds the hosts-file pointer described in spec
// §4.5/§5 in an atomic.Pointer rather than behind a read/write lock:
// one writer swaps it with Store, readers copy it with Load and are
// safe to use it
// indefinitely (the old HostFile is simply left for the GC once no
// reader holds a reference to it, since HostFile is immutable and
// reference-counting it explicitly would add nothing in Go).
type HostFileShadow struct {
	current atomic.Pointer[HostFile]

	path         string
	interval     time.Duration
	lastModTime  time.Time
	lastCheck    time.Time
	logger       Logger
}

func NewHostFileShadow(path string, interval time.Duration, logger Logger) *HostFileShadow {
	return &HostFileShadow{path: path, interval: interval, logger: logger}
}

// Get returns the current HostFile, or nil if none has loaded yet.
func (s *HostFileShadow) Get() *HostFile {
	return s.current.Load()
}

// CheckReload implements spec §4.5's background-tick trigger: at most
// once per interval, re-stat the file; if its mtime changed since the
// last successful load, re-parse and swap. A parse error is logged
// and the previous shadow remains in use (spec §7 error kind 7).
func (s *HostFileShadow) CheckReload(now time.Time) {
	if s.path == "" || s.interval <= 0 {
		return
	}
	if now.Sub(s.lastCheck) < s.interval {
		return
	}
	s.lastCheck = now

	info, err := os.Stat(s.path)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("hostdb: hosts-file stat %s: %v", s.path, err)
		}
		return
	}
	if info.ModTime().Equal(s.lastModTime) && s.current.Load() != nil {
		return
	}

	hf, err := parseHostFile(s.path, s.interval)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("hostdb: hosts-file parse %s: %v", s.path, err)
		}
		return
	}
	s.lastModTime = info.ModTime()
	s.current.Store(hf)
}
