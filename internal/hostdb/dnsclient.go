package hostdb

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// Protocol names a nameserver's wire transport, adapted from the
// teacher's constants.go (protocolUDP/protocolTCP/protocolDOT/protocolDOH).
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
	ProtocolDOT Protocol = "dot"
	ProtocolDOH Protocol = "doh"
)

// Nameserver is one upstream DNS server, adapted from the teacher's
// NameserverConfig (types.go/config.go).
type Nameserver struct {
	Address  string
	Port     int
	Protocol Protocol
}

// DNSClient is the concrete Resolver implementation consumed by
// HostDB (spec §6's collaborator interface), adapted from the
// teacher's forward.go: round-robin nameserver selection via an
// atomic counter, UDP/TCP/DoT/DoH transport, truncation retry over
// TCP. Where the teacher forwarded an opaque *dns.Msg end to end,
// DNSClient decodes into HostResponse/SRVResponse/AddrResponse so
// the resolution state machine never touches wire types.
type DNSClient struct {
	nameservers []Nameserver
	nameserverIdx uint64

	udpClient *dns.Client
	tcpClient *dns.Client
	httpClient *http.Client

	queryTimeout time.Duration
}

func NewDNSClient(nameservers []Nameserver, queryTimeout time.Duration) *DNSClient {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &DNSClient{
		nameservers:  nameservers,
		udpClient:    &dns.Client{Net: "udp", Timeout: queryTimeout},
		tcpClient:    &dns.Client{Net: "tcp", Timeout: queryTimeout},
		httpClient:   &http.Client{Timeout: queryTimeout},
		queryTimeout: queryTimeout,
	}
}

func (c *DNSClient) LookupHost(ctx context.Context, name string, family Family) (HostResponse, error) {
	qtype := dns.TypeA
	if family == FamilyIPv6 {
		qtype = dns.TypeAAAA
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	resp, err := c.exchange(ctx, msg)
	if err != nil {
		return HostResponse{}, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return HostResponse{Success: false}, nil
	}

	var out HostResponse
	var ttl uint32
	for _, rr := range resp.Answer {
		switch a := rr.(type) {
		case *dns.A:
			out.Addresses = append(out.Addresses, a.A)
			ttl = a.Hdr.Ttl
			out.CanonicalName = strings.TrimSuffix(a.Hdr.Name, ".")
		case *dns.AAAA:
			out.Addresses = append(out.Addresses, a.AAAA)
			ttl = a.Hdr.Ttl
			out.CanonicalName = strings.TrimSuffix(a.Hdr.Name, ".")
		case *dns.CNAME:
			out.CanonicalName = strings.TrimSuffix(a.Target, ".")
		}
	}
	out.TTL = time.Duration(ttl) * time.Second
	out.Success = len(out.Addresses) > 0
	return out, nil
}

func (c *DNSClient) LookupSRV(ctx context.Context, name string) (SRVResponse, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	msg.RecursionDesired = true

	resp, err := c.exchange(ctx, msg)
	if err != nil {
		return SRVResponse{}, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return SRVResponse{Success: false}, nil
	}

	var out SRVResponse
	var ttl uint32
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			out.Records = append(out.Records, SRVAnswer{
				Priority: srv.Priority,
				Weight:   srv.Weight,
				Port:     srv.Port,
				Target:   strings.TrimSuffix(srv.Target, "."),
			})
			ttl = srv.Hdr.Ttl
		}
	}
	out.TTL = time.Duration(ttl) * time.Second
	out.Success = len(out.Records) > 0
	return out, nil
}

func (c *DNSClient) LookupAddr(ctx context.Context, addr net.IP) (AddrResponse, error) {
	name, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return AddrResponse{}, fmt.Errorf("reverse addr for %s: %w", addr, err)
	}
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypePTR)
	msg.RecursionDesired = true

	resp, err := c.exchange(ctx, msg)
	if err != nil {
		return AddrResponse{}, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return AddrResponse{Success: false}, nil
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return AddrResponse{CanonicalName: strings.TrimSuffix(ptr.Ptr, "."), Success: true}, nil
		}
	}
	return AddrResponse{Success: false}, nil
}

// exchange round-robins across nameservers the way the teacher's
// forwardDirectInternal does: an atomic counter picks a starting
// index, and every configured nameserver is tried once in order from
// there before giving up.
func (c *DNSClient) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	if len(c.nameservers) == 0 {
		return nil, fmt.Errorf("hostdb: no nameservers configured")
	}
	nsCount := uint64(len(c.nameservers))
	idx := atomic.AddUint64(&c.nameserverIdx, 1) - 1
	start := int(idx % nsCount)

	var lastErr error
	for i := 0; i < len(c.nameservers); i++ {
		ns := c.nameservers[(start+i)%len(c.nameservers)]
		resp, err := c.exchangeOne(ctx, msg, ns)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("hostdb: all nameservers failed")
	}
	return nil, lastErr
}

func (c *DNSClient) exchangeOne(ctx context.Context, msg *dns.Msg, ns Nameserver) (*dns.Msg, error) {
	address := net.JoinHostPort(ns.Address, fmt.Sprintf("%d", ns.Port))

	var resp *dns.Msg
	var err error
	switch ns.Protocol {
	case ProtocolDOH:
		resp, err = c.exchangeDOH(ctx, msg, ns)
	case ProtocolDOT:
		resp, err = c.exchangeDOT(ctx, msg, address, ns.Address)
	case ProtocolTCP:
		resp, _, err = c.tcpClient.ExchangeContext(ctx, msg, address)
	default:
		resp, _, err = c.udpClient.ExchangeContext(ctx, msg, address)
		if err == nil && resp != nil && resp.Truncated {
			resp, _, err = c.tcpClient.ExchangeContext(ctx, msg, address)
		}
	}
	return resp, err
}

func (c *DNSClient) exchangeDOT(ctx context.Context, msg *dns.Msg, address, serverName string) (*dns.Msg, error) {
	dotClient := &dns.Client{
		Net:     "tcp-tls",
		Timeout: c.queryTimeout,
		TLSConfig: &tls.Config{
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		},
	}
	resp, _, err := dotClient.ExchangeContext(ctx, msg, address)
	return resp, err
}

func (c *DNSClient) exchangeDOH(ctx context.Context, msg *dns.Msg, ns Nameserver) (*dns.Msg, error) {
	buf, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack dns message: %w", err)
	}
	url := dohURL(ns.Address)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("new doh request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-message")
	req.Header.Set("Content-Type", "application/dns-message")

	resp, err := c.httpClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		return c.exchangeDOHGet(ctx, url, buf)
	}
	defer resp.Body.Close()
	return parseDOHResponse(resp)
}

func (c *DNSClient) exchangeDOHGet(ctx context.Context, url string, buf []byte) (*dns.Msg, error) {
	b64 := base64.RawURLEncoding.EncodeToString(buf)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"?dns="+b64, nil)
	if err != nil {
		return nil, fmt.Errorf("new doh get request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-message")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh get request: %w", err)
	}
	defer resp.Body.Close()
	return parseDOHResponse(resp)
}

func parseDOHResponse(resp *http.Response) (*dns.Msg, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read doh response: %w", err)
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpack doh response: %w", err)
	}
	return msg, nil
}

func dohURL(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	switch address {
	case "1.1.1.1", "1.0.0.1":
		return "https://cloudflare-dns.com/dns-query"
	case "8.8.8.8", "8.8.4.4":
		return "https://dns.google/dns-query"
	default:
		return fmt.Sprintf("https://%s/dns-query", address)
	}
}
