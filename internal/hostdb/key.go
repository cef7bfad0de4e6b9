package hostdb

import (
	"encoding/binary"
	"net"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Mark segregates record types that would otherwise share a name, so
// "host.example" queried for IPv4 and the same name queried for IPv6
// land in different keys. See spec §3 / §4.3.
type Mark uint8

const (
	MarkGeneric Mark = iota
	MarkIPv4
	MarkIPv6
	MarkSRV
)

// Key is the 128-bit digest described in spec §3/§4.3. Fold, the XOR
// of the two halves, is what actually selects a partition and indexes
// the partition's map; Hi/Lo are kept around only so Marshal/Unmarshal
// of a Record can round-trip the full digest.
type Key struct {
	Hi, Lo uint64
}

// Fold is the 64-bit value used for partition selection and map
// lookup (spec §4.3: "the XOR of the two 64-bit halves").
func (k Key) Fold() uint64 {
	return k.Hi ^ k.Lo
}

// hashKey derives a Key from a name/port/mark/split-DNS tuple, or from
// a raw address for reverse lookups. The digest itself must only be
// uniformly distributed and low-collision; blake2b is used because it
// is a real, already-present dependency in this pack (see
// SPEC_FULL.md's DOMAIN STACK) that produces a wide enough digest to
// fold into 128 bits cheaply, mirroring the original's CryptoHash-based
// key (a 128-bit MD5-family digest, see original_source's
// tscore/CryptoHash.h references in I_HostDBProcessor.h).
func hashKey(name string, port uint16, mark Mark, splitDNSTag string) Key {
	h, _ := blake2b.New(16, nil)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	h.Write([]byte(strings.ToLower(name)))
	h.Write(portBuf[:])
	h.Write([]byte{byte(mark)})
	if splitDNSTag != "" {
		h.Write([]byte(splitDNSTag))
	}
	sum := h.Sum(nil)
	return Key{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
}

// hashAddrKey derives a Key for a reverse (address→name) lookup. The
// zero padding on either side of the address bytes guarantees
// disjointness from any name-derived key, per spec §3.
func hashAddrKey(addr net.IP) Key {
	h, _ := blake2b.New(16, nil)
	var zero [2]byte
	h.Write(zero[:])
	if v4 := addr.To4(); v4 != nil {
		h.Write(v4)
	} else {
		h.Write(addr.To16())
	}
	h.Write(zero[:])
	sum := h.Sum(nil)
	return Key{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
}
