package ipam

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolAllocatesAscendingAfterMaster(t *testing.T) {
	p, err := NewPool(netip.MustParsePrefix("10.11.12.0/24"))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("10.11.12.1"), p.MasterAddr())

	a, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("10.11.12.2"), a)

	b, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("10.11.12.3"), b)
}

func TestPoolSkipsReserved(t *testing.T) {
	p, err := NewPool(netip.MustParsePrefix("10.11.12.0/24"))
	require.NoError(t, err)
	require.NoError(t, p.Reserve(netip.MustParseAddr("10.11.12.2")))
	require.NoError(t, p.Reserve(netip.MustParseAddr("10.11.12.3")))

	a, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("10.11.12.4"), a)
}

func TestPoolExhaustion(t *testing.T) {
	p, err := NewPool(netip.MustParsePrefix("10.0.0.0/29"))
	require.NoError(t, err)

	seen := map[netip.Addr]bool{p.MasterAddr(): true}
	for i := 0; i < 5; i++ {
		a, err := p.Allocate()
		require.NoError(t, err)
		require.False(t, seen[a], "duplicate %s", a)
		require.True(t, p.Contains(a))
		seen[a] = true
	}
	_, err = p.Allocate()
	require.ErrorIs(t, err, ErrNoAvailableIps)
}

func TestPoolRejectsInvalidPrefix(t *testing.T) {
	_, err := NewPool(netip.MustParsePrefix("fd00::/64"))
	require.Error(t, err)
	_, err = NewPool(netip.MustParsePrefix("10.0.0.0/31"))
	require.Error(t, err)
	p, err := NewPool(netip.MustParsePrefix("10.0.0.0/24"))
	require.NoError(t, err)
	require.Error(t, p.Reserve(netip.MustParseAddr("10.0.1.5")))
	require.Error(t, p.Reserve(netip.MustParseAddr("10.0.0.255")))
}

func TestPoolReleaseLastReusesAddress(t *testing.T) {
	p, err := NewPool(netip.MustParsePrefix("10.11.12.0/24"))
	require.NoError(t, err)
	a, err := p.Allocate()
	require.NoError(t, err)
	p.Release(a)
	b, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, a, b)
}
