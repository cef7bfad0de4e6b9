package hostdb

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKeyMarkSegregatesSameName(t *testing.T) {
	k4 := hashKey("host.example", 0, MarkIPv4, "")
	k6 := hashKey("host.example", 0, MarkIPv6, "")
	assert.NotEqual(t, k4, k6, "same name under different marks must land in different keys")
}

func TestHashKeyIsCaseInsensitiveOnName(t *testing.T) {
	k1 := hashKey("Host.Example", 0, MarkGeneric, "")
	k2 := hashKey("host.example", 0, MarkGeneric, "")
	assert.Equal(t, k1, k2)
}

func TestHashKeyPortAffectsKey(t *testing.T) {
	k1 := hashKey("host.example", 80, MarkGeneric, "")
	k2 := hashKey("host.example", 443, MarkGeneric, "")
	assert.NotEqual(t, k1, k2)
}

func TestHashAddrKeyDisjointFromNameKeys(t *testing.T) {
	addrKey := hashAddrKey(net.ParseIP("10.0.0.1"))
	nameKey := hashKey("10.0.0.1", 0, MarkGeneric, "")
	assert.NotEqual(t, addrKey, nameKey)
}

func TestKeyFoldIsXOROfHalves(t *testing.T) {
	k := Key{Hi: 0xAAAA, Lo: 0x5555}
	assert.EqualValues(t, 0xFFFF, k.Fold())
}
