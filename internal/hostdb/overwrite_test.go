package hostdb

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverwritesLookupUnrestrictedEntry(t *testing.T) {
	ow := NewOverwrites(map[string]*OverwriteEntry{
		"example.com": {IP: "203.0.113.10"},
	})

	ip, ok := ow.Lookup("example.com", nil)
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.10", ip)

	_, ok = ow.Lookup("other.com", nil)
	assert.False(t, ok)
}

func TestOverwritesLookupRestrictedToClientIPOrSubnet(t *testing.T) {
	_, subnet, _ := net.ParseCIDR("10.0.0.0/24")
	ow := NewOverwrites(map[string]*OverwriteEntry{
		"internal.example.com": {
			IP:      "10.0.0.1",
			IPs:     []net.IP{net.ParseIP("192.168.1.5")},
			Subnets: []*net.IPNet{subnet},
		},
	})

	ip, ok := ow.Lookup("internal.example.com", net.ParseIP("192.168.1.5"))
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", ip)

	ip, ok = ow.Lookup("internal.example.com", net.ParseIP("10.0.0.42"))
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", ip)

	_, ok = ow.Lookup("internal.example.com", net.ParseIP("172.16.0.1"))
	assert.False(t, ok)

	_, ok = ow.Lookup("internal.example.com", nil)
	assert.False(t, ok)
}

func TestOverwritesLookupOnNilReceiverFails(t *testing.T) {
	var ow *Overwrites
	_, ok := ow.Lookup("example.com", nil)
	assert.False(t, ok)
}
