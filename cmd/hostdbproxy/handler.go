package main

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/dcswalle/hostdb/internal/hostdb"
)

var errInvalidReverseName = errors.New("hostdbproxy: invalid reverse lookup name")

// handleDNSRequest is handleDNSRequest's direct descendant (teacher's
// handler.go): block check, overwrite check, then a resolve call into
// hostdb.DB in place of the teacher's own forwardRequest. The teacher
// checked a flat response cache first; here that's just DB.ResolveByName
// doing its own PROBE, so there is no separate cache-check step.
func (s *Server) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		s.writeError(w, r, dns.RcodeFormatError)
		return
	}
	q := r.Question[0]
	clientIP := getClientIP(w)
	domain := normalizeDomain(q.Name)

	if s.blocklist.IsBlocked(domain, clientIP) {
		if s.config.LogBlocks {
			s.logger.Errorf("hostdbproxy: blocked %s (from %s)", domain, clientIP)
		}
		s.writeError(w, r, dns.RcodeNameError)
		return
	}

	if ip, ok := s.overwrites.Lookup(domain, clientIP); ok {
		if s.config.LogOverwrites {
			s.logger.Errorf("hostdbproxy: overwrite %s -> %s (for %s)", domain, ip, clientIP)
		}
		s.writeOverwrite(w, r, ip)
		return
	}

	s.resolveAndReply(w, r, q, domain)
}

// resolveAndReply dispatches to the hostdb.DB operation matching the
// question type and encodes the returned Record into a dns.Msg reply,
// the wire-decode/encode half the teacher's forwardRequest never
// needed (it just relayed the upstream dns.Msg byte for byte).
func (s *Server) resolveAndReply(w dns.ResponseWriter, r *dns.Msg, q dns.Question, domain string) {
	ctx := context.Background()
	opts := hostdb.ResolveOptions{}

	switch q.Qtype {
	case dns.TypeA:
		s.replyAddr(w, r, q, domain, ctx, opts, hostdb.StyleIPv4Only)
	case dns.TypeAAAA:
		s.replyAddr(w, r, q, domain, ctx, opts, hostdb.StyleIPv6Only)
	case dns.TypeSRV:
		s.replySRV(w, r, q, domain, ctx, opts)
	case dns.TypePTR:
		s.replyPTR(w, r, q, ctx)
	default:
		s.writeError(w, r, dns.RcodeNotImplemented)
	}
}

func (s *Server) replyAddr(w dns.ResponseWriter, r *dns.Msg, q dns.Question, domain string, ctx context.Context, opts hostdb.ResolveOptions, style hostdb.FamilyStyle) {
	rec, err := s.db.ResolveByName(ctx, domain, style, opts)
	if err != nil || rec == nil || rec.Failed {
		s.writeError(w, r, dns.RcodeServerFailure)
		return
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	ttl := uint32(rec.TTL.Seconds())

	if opts.NoRoundRobin {
		for i := range rec.Targets {
			t := &rec.Targets[i]
			if v4 := t.IP.To4(); v4 != nil && q.Qtype == dns.TypeA {
				msg.Answer = append(msg.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
					A:   v4,
				})
			} else if v4 == nil && q.Qtype == dns.TypeAAAA {
				msg.Answer = append(msg.Answer, &dns.AAAA{
					Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
					AAAA: t.IP.To16(),
				})
			}
		}
	} else if idx := s.selectTarget(rec, getClientIP(w)); idx >= 0 {
		t := &rec.Targets[idx]
		if v4 := t.IP.To4(); v4 != nil && q.Qtype == dns.TypeA {
			msg.Answer = append(msg.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
				A:   v4,
			})
		} else if v4 == nil && q.Qtype == dns.TypeAAAA {
			msg.Answer = append(msg.Answer, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
				AAAA: t.IP.To16(),
			})
		}
	}
	if len(msg.Answer) == 0 {
		msg.SetRcode(r, dns.RcodeNameError)
	}
	s.write(w, msg)
}

// selectTarget runs the configured round-robin policy over rec's
// targets (spec §4.6), demoting recently failed upstreams without
// permanently removing them. timed_round_robin, when set to a positive
// interval, takes priority over strict_round_robin (spec §6);
// strict_round_robin is otherwise the only policy this proxy ever
// selects, matching its "true" default in Config.Defaults.
func (s *Server) selectTarget(rec *hostdb.Record, clientIP net.IP) int {
	cfg := s.config.HostDB
	policy := hostdb.PolicyStrictRR
	if cfg.TimedRoundRobin > 0 {
		policy = hostdb.PolicyTimedRR
	}
	return hostdb.SelectTarget(rec, policy, hostdb.SelectOptions{
		Now:             time.Now(),
		FailWindow:      cfg.FailWindowDuration(),
		ClientIP:        clientIP,
		TimedRRInterval: cfg.TimedRoundRobinDuration(),
	})
}

func (s *Server) replySRV(w dns.ResponseWriter, r *dns.Msg, q dns.Question, domain string, ctx context.Context, opts hostdb.ResolveOptions) {
	rec, err := s.db.ResolveSRV(ctx, domain, opts)
	if err != nil || rec == nil || rec.Failed {
		s.writeError(w, r, dns.RcodeServerFailure)
		return
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	ttl := uint32(rec.TTL.Seconds())

	if opts.NoRoundRobin {
		for i := range rec.Targets {
			t := &rec.Targets[i]
			msg.Answer = append(msg.Answer, &dns.SRV{
				Hdr:      dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: ttl},
				Priority: t.Priority,
				Weight:   t.Weight,
				Port:     t.Port,
				Target:   dns.Fqdn(t.SRVName),
			})
		}
	} else if idx := hostdb.SelectTarget(rec, hostdb.PolicySRVWeighted, hostdb.SelectOptions{
		Now:        time.Now(),
		FailWindow: s.config.HostDB.FailWindowDuration(),
	}); idx >= 0 {
		t := &rec.Targets[idx]
		msg.Answer = append(msg.Answer, &dns.SRV{
			Hdr:      dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: ttl},
			Priority: t.Priority,
			Weight:   t.Weight,
			Port:     t.Port,
			Target:   dns.Fqdn(t.SRVName),
		})
	}
	if len(msg.Answer) == 0 {
		msg.SetRcode(r, dns.RcodeNameError)
	}
	s.write(w, msg)
}

func (s *Server) replyPTR(w dns.ResponseWriter, r *dns.Msg, q dns.Question, ctx context.Context) {
	addr, err := addrFromReverseName(q.Name)
	if err != nil {
		s.writeError(w, r, dns.RcodeFormatError)
		return
	}

	rec, err := s.db.ResolveByAddr(ctx, addr)
	if err != nil || rec == nil || rec.Failed || rec.QueryName == "" {
		s.writeError(w, r, dns.RcodeNameError)
		return
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	msg.Answer = append(msg.Answer, &dns.PTR{
		Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: uint32(rec.TTL.Seconds())},
		Ptr: dns.Fqdn(rec.QueryName),
	})
	s.write(w, msg)
}

// writeOverwrite builds a single-answer A response for a static
// overwrite match, the teacher's own handler.go inline construction.
func (s *Server) writeOverwrite(w dns.ResponseWriter, r *dns.Msg, ip string) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	rr, err := dns.NewRR(r.Question[0].Name + " 300 IN A " + ip)
	if err != nil {
		s.writeError(w, r, dns.RcodeServerFailure)
		return
	}
	msg.Answer = append(msg.Answer, rr)
	s.write(w, msg)
}

func (s *Server) writeError(w dns.ResponseWriter, r *dns.Msg, rcode int) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	msg.SetRcode(r, rcode)
	s.write(w, msg)
}

func (s *Server) write(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		s.logger.Errorf("hostdbproxy: write response: %v", err)
	}
}

// normalizeDomain lower-cases and strips the trailing root dot
// (teacher's utils.go normalizeDomain, minus its sync.Map interning —
// that cache existed to amortize lowercasing ahead of a per-request
// map[string]*CacheEntry lookup; hostdb.DB's own partition map does
// its own key hashing, so the extra interning layer has nothing left
// to amortize against here).
func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(domain), ".")
}

// addrFromReverseName parses a PTR question name ("1.0.0.127.in-addr.arpa."
// or its ip6.arpa counterpart) back into a net.IP.
func addrFromReverseName(name string) (net.IP, error) {
	name = strings.TrimSuffix(name, ".")
	if strings.HasSuffix(name, ".in-addr.arpa") {
		labels := strings.Split(strings.TrimSuffix(name, ".in-addr.arpa"), ".")
		rev := make([]string, len(labels))
		for i, l := range labels {
			rev[len(labels)-1-i] = l
		}
		ip := net.ParseIP(strings.Join(rev, "."))
		if ip == nil {
			return nil, errInvalidReverseName
		}
		return ip, nil
	}
	if strings.HasSuffix(name, ".ip6.arpa") {
		labels := strings.Split(strings.TrimSuffix(name, ".ip6.arpa"), ".")
		if len(labels) != 32 {
			return nil, errInvalidReverseName
		}
		var b strings.Builder
		for n := 0; n < len(labels); n++ {
			b.WriteString(labels[len(labels)-1-n])
			if n%4 == 3 && n != len(labels)-1 {
				b.WriteByte(':')
			}
		}
		ip := net.ParseIP(b.String())
		if ip == nil {
			return nil, errInvalidReverseName
		}
		return ip, nil
	}
	return nil, errInvalidReverseName
}
