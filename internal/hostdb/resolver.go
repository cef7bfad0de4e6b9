package hostdb

import (
	"context"
	"net"
	"time"
)

// Resolver is the DNS client interface HostDB consumes (spec §6, "DNS
// client interface consumed"). It is deliberately the only
// collaborator interface in this package: protocol framing,
// retransmit, and nameserver selection are all out of scope per spec
// §1 and live in dnsclient.go's concrete implementation instead.
//
// Every method is cancellable the idiomatic Go way, via ctx, which
// plays the role of the spec's "action handle" returned by
// gethostbyname/getSRVbyname/gethostbyaddr.
type Resolver interface {
	// LookupHost performs gethostbyname: resolves name for the given
	// family, returning addresses, the TTL of the response, and the
	// canonical name.
	LookupHost(ctx context.Context, name string, family Family) (HostResponse, error)

	// LookupSRV performs getSRVbyname.
	LookupSRV(ctx context.Context, name string) (SRVResponse, error)

	// LookupAddr performs gethostbyaddr: resolves addr to a canonical
	// name.
	LookupAddr(ctx context.Context, addr net.IP) (AddrResponse, error)
}

// HostResponse is the event payload for a completed gethostbyname
// call (spec §6).
type HostResponse struct {
	Addresses     []net.IP
	CanonicalName string
	TTL           time.Duration
	Success       bool
}

// SRVResponse is the event payload for a completed getSRVbyname call.
type SRVResponse struct {
	Records []SRVAnswer
	TTL     time.Duration
	Success bool
}

// SRVAnswer is one {priority, weight, port, target-name} tuple from an
// SRV response.
type SRVAnswer struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// AddrResponse is the event payload for a completed gethostbyaddr call.
type AddrResponse struct {
	CanonicalName string
	Success       bool
}
