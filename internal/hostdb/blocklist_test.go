package hostdb

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlockList(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "blocklist.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBlocklistLoadFilePlainAndAdblockLines(t *testing.T) {
	path := writeBlockList(t,
		"# comment, skipped",
		"",
		"ads.example.com",
		"||tracker.example.com^",
		"0.0.0.0 badhost.example.com",
	)
	bl := NewBlocklist()
	n, err := bl.LoadFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.True(t, bl.IsBlocked("ads.example.com", nil))
	assert.True(t, bl.IsBlocked("tracker.example.com", nil))
	assert.True(t, bl.IsBlocked("badhost.example.com", nil))
	assert.False(t, bl.IsBlocked("example.com", nil))
}

func TestBlocklistIsBlockedMatchesParentDomains(t *testing.T) {
	bl := NewBlocklist()
	bl.addBlockedDomain("ads.example.com", nil)

	assert.True(t, bl.IsBlocked("sub.ads.example.com", nil))
	assert.True(t, bl.IsBlocked("deep.sub.ads.example.com", nil))
	assert.False(t, bl.IsBlocked("ads.other.com", nil))
}

func TestBlocklistRestrictedToClientIPOrSubnet(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.0.0.0/24")
	require.NoError(t, err)

	bl := NewBlocklist()
	bl.addBlockedDomain("restricted.example.com", &BlockEntry{
		IPs:     []net.IP{net.ParseIP("192.168.1.5")},
		Subnets: []*net.IPNet{subnet},
	})

	assert.True(t, bl.IsBlocked("restricted.example.com", net.ParseIP("192.168.1.5")))
	assert.True(t, bl.IsBlocked("restricted.example.com", net.ParseIP("10.0.0.42")))
	assert.False(t, bl.IsBlocked("restricted.example.com", net.ParseIP("172.16.0.1")))
	assert.False(t, bl.IsBlocked("restricted.example.com", nil))
}

func TestParseBlockListLineStripsAdblockDecorations(t *testing.T) {
	assert.Equal(t, "tracker.example.com", parseBlockListLine("||tracker.example.com^"))
	assert.Equal(t, "tracker.example.com", parseBlockListLine("||tracker.example.com^$third-party"))
	assert.Equal(t, "plain.example.com", parseBlockListLine("plain.example.com"))
	assert.Equal(t, "ip-form.example.com", parseBlockListLine("127.0.0.1 ip-form.example.com"))
	assert.Equal(t, "", parseBlockListLine(""))
}
