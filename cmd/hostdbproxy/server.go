package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/miekg/dns"

	"github.com/dcswalle/hostdb/internal/hostdb"
)

// Server is HostDB's one concrete client (SPEC_FULL.md's MODULE
// additions): it decodes incoming dns.Msg questions, calls the
// matching hostdb.DB resolve method, and encodes a dns.Msg reply from
// the returned Record. Adapted from the teacher's DNSServer
// (types.go/server.go), trimmed to the fields a thin proxy over
// hostdb.DB actually needs — the teacher's own ad hoc cache,
// pendingRequests map and msgPool are gone because HostDB's own
// Cache/partition machinery now plays that role.
type Server struct {
	config     *ProxyConfig
	db         *hostdb.DB
	blocklist  *hostdb.Blocklist
	overwrites *hostdb.Overwrites
	logger     *hostdb.StdLogger
}

// NewServer mirrors the teacher's NewDNSServer: parse config,
// construct collaborators, load block lists, wire them into a DB, and
// start the background tick before returning a server ready to Start.
func NewServer(cfg *ProxyConfig) (*Server, error) {
	nameservers, err := parseNameservers(cfg.Nameservers)
	if err != nil {
		return nil, err
	}
	overwriteEntries, err := parseOverwrites(cfg.Overwrites)
	if err != nil {
		return nil, err
	}

	logger := &hostdb.StdLogger{Logger: log.New(os.Stderr, "", log.LstdFlags), Debug: cfg.Debug}

	cfg.HostDB.ApplyDefaults()
	client := hostdb.NewDNSClient(nameservers, cfg.HostDB.TimeoutDuration())
	db := hostdb.NewDB(cfg.HostDB, client, logger)

	s := &Server{
		config:     cfg,
		db:         db,
		blocklist:  hostdb.NewBlocklist(),
		overwrites: hostdb.NewOverwrites(overwriteEntries),
		logger:     logger,
	}

	if err := s.loadBlockLists(); err != nil {
		return nil, fmt.Errorf("hostdbproxy: load block lists: %w", err)
	}

	if cfg.HostDB.SnapshotPath != "" {
		if err := db.ReadSnapshot(cfg.HostDB.SnapshotPath, time.Now()); err != nil {
			logger.Errorf("hostdbproxy: read snapshot: %v", err)
		}
	}

	db.StartTick()
	s.startBackgroundServices()

	return s, nil
}

// loadBlockLists loads every configured local block-list file
// (teacher's loadBlockLists, trimmed to the file-only LoadFile this
// pack's Blocklist supports — see blocklist.go's grounding note on
// the dropped URL-reload machinery).
func (s *Server) loadBlockLists() error {
	total := 0
	for _, path := range s.config.BlockLists {
		n, err := s.blocklist.LoadFile(path, nil)
		if err != nil {
			return err
		}
		total += n
	}
	s.logger.Errorf("hostdbproxy: loaded %d blocked hosts across %d lists", total, len(s.config.BlockLists))
	return nil
}

// startBackgroundServices starts the snapshot writer loop, adapted
// from the teacher's startBackgroundServices/startCacheCleanup
// (server.go/cache.go): a ticker paced at sync_period, separate from
// hostdb.DB's own 1Hz Tick goroutine.
func (s *Server) startBackgroundServices() {
	if s.config.HostDB.SnapshotPath == "" || s.config.HostDB.SyncPeriod <= 0 {
		return
	}
	syncPeriod := s.config.HostDB.SyncPeriodDuration()
	go func() {
		ticker := time.NewTicker(syncPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := s.db.WriteSnapshot(s.config.HostDB.SnapshotPath, syncPeriod); err != nil {
				s.logger.Errorf("hostdbproxy: snapshot write: %v", err)
			}
		}
	}()
}

// Start runs the UDP listener; the caller is expected to also run a
// TCP listener the way the teacher's main.go does (UDP is the
// blocking, "main" listener; TCP runs in its own goroutine for
// responses too large for UDP).
func (s *Server) Start() error {
	server := &dns.Server{
		Addr:    s.config.ListenAddr,
		Net:     "udp",
		Handler: dns.HandlerFunc(s.handleDNSRequest),
	}
	log.Printf("hostdbproxy: listening on %s (udp)", s.config.ListenAddr)
	for i, ns := range s.config.Nameservers {
		log.Printf("hostdbproxy: nameserver %d: %s (%s)", i+1, ns.Address, ns.Protocol)
	}
	return server.ListenAndServe()
}

// StartTCP runs the TCP listener, for responses too large for UDP
// (teacher's main.go starts this in its own goroutine alongside the
// blocking UDP Start).
func (s *Server) StartTCP() error {
	server := &dns.Server{
		Addr:    s.config.ListenAddr,
		Net:     "tcp",
		Handler: dns.HandlerFunc(s.handleDNSRequest),
	}
	return server.ListenAndServe()
}

// getClientIP extracts the requester's address from a
// dns.ResponseWriter (teacher's utils.go getClientIP).
func getClientIP(w dns.ResponseWriter) net.IP {
	remoteAddr := w.RemoteAddr()
	if remoteAddr == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		return net.ParseIP(remoteAddr.String())
	}
	return net.ParseIP(host)
}
