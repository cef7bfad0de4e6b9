package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/dcswalle/hostdb/internal/hostdb"
)

// ProxyConfig is cmd/hostdbproxy's own top-level YAML document,
// embedding hostdb.Config under its own key the way the teacher's
// Config embedded protocol-specific fields inline (types.go). Listen
// address, block lists and overwrites belong to the proxy, not to
// HostDB itself — spec.md's module boundary stops at the cache.
type ProxyConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	Nameservers []NSConfig    `yaml:"nameservers"`
	Overwrites  map[string]OverwriteYAML `yaml:"overwrites"`
	BlockLists  []string      `yaml:"block_lists"`
	Debug       bool          `yaml:"debug"`
	LogBlocks   bool          `yaml:"log_blocks"`
	LogOverwrites bool        `yaml:"log_overwrites"`

	HostDB hostdb.Config `yaml:"hostdb"`
}

// NSConfig mirrors the teacher's NameserverConfig (types.go), kept as
// a distinct proxy-side type since hostdb.Nameserver's zero value
// means "no port assigned yet" and needs protocol-based defaulting
// before it becomes a hostdb.Nameserver.
type NSConfig struct {
	Address  string `yaml:"address"`
	Protocol string `yaml:"protocol"`
	Port     int    `yaml:"port"`
}

// OverwriteYAML mirrors the teacher's OverwriteConfig (types.go): a
// plain IP string, or an IP restricted to a set of client IPs/subnets.
type OverwriteYAML struct {
	IP      string   `yaml:"ip"`
	Subnets []string `yaml:"subnets"`
	IPs     []string `yaml:"ips"`
}

func defaultPortFor(protocol string) int {
	switch protocol {
	case "dot":
		return 853
	case "doh":
		return 443
	default:
		return 53
	}
}

// parseNameservers adapts the teacher's parseNameservers/parseNameserverFromString
// (config.go) to hostdb.Nameserver, defaulting protocol to udp and
// port to the protocol's standard port when omitted.
func parseNameservers(in []NSConfig) ([]hostdb.Nameserver, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("hostdbproxy: no nameservers configured")
	}
	out := make([]hostdb.Nameserver, 0, len(in))
	for _, ns := range in {
		protocol := ns.Protocol
		if protocol == "" {
			protocol = "udp"
		}
		switch protocol {
		case "udp", "tcp", "dot", "doh":
		default:
			return nil, fmt.Errorf("hostdbproxy: unknown nameserver protocol %q", protocol)
		}
		port := ns.Port
		if port == 0 {
			port = defaultPortFor(protocol)
		}
		out = append(out, hostdb.Nameserver{
			Address:  ns.Address,
			Port:     port,
			Protocol: hostdb.Protocol(protocol),
		})
	}
	return out, nil
}

// parseOverwrites adapts the teacher's parseOverwriteFromMap/
// parseOverwriteIPs/parseOverwriteSubnets (config.go) to
// hostdb.OverwriteEntry.
func parseOverwrites(in map[string]OverwriteYAML) (map[string]*hostdb.OverwriteEntry, error) {
	out := make(map[string]*hostdb.OverwriteEntry, len(in))
	for domain, cfg := range in {
		entry := &hostdb.OverwriteEntry{IP: cfg.IP}
		for _, s := range cfg.IPs {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("hostdbproxy: overwrite %s: invalid ip %q", domain, s)
			}
			entry.IPs = append(entry.IPs, ip)
		}
		for _, s := range cfg.Subnets {
			subnet, err := parseSubnet(s)
			if err != nil {
				return nil, fmt.Errorf("hostdbproxy: overwrite %s: invalid subnet %q: %w", domain, s, err)
			}
			entry.Subnets = append(entry.Subnets, subnet)
		}
		out[strings.ToLower(domain)] = entry
	}
	return out, nil
}

// parseSubnet parses a CIDR subnet, or a bare IP as a /32 (teacher's
// utils.go parseSubnet).
func parseSubnet(subnetStr string) (*net.IPNet, error) {
	if !strings.Contains(subnetStr, "/") {
		subnetStr += "/32"
	}
	_, ipNet, err := net.ParseCIDR(subnetStr)
	return ipNet, err
}
