package wireguard

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"wg-mesh/pkg/model"
)

func TestRenderMasterView(t *testing.T) {
	cfg := Config{
		Interface: Interface{
			PrivateKey: "priv",
			MTU:        1420,
			Address:    netip.MustParseAddr("10.11.12.1"),
			ListenPort: 51820,
		},
		Peers: []model.Peer{
			{PublicKey: "pubA", AllowedIPs: []string{"10.11.12.0/24"}, Keepalive: 25},
			{PublicKey: "pubB", AllowedIPs: []string{"10.11.12.0/24"}, Keepalive: 25},
		},
	}
	want := "[Interface]\n" +
		"PrivateKey = priv\n" +
		"MTU = 1420\n" +
		"Address = 10.11.12.1\n" +
		"ListenPort = 51820\n" +
		"\n" +
		"[Peer]\n" +
		"PublicKey = pubA\n" +
		"AllowedIPs = 10.11.12.0/24\n" +
		"PersistentKeepAlive = 25\n" +
		"\n" +
		"[Peer]\n" +
		"PublicKey = pubB\n" +
		"AllowedIPs = 10.11.12.0/24\n" +
		"PersistentKeepAlive = 25\n"
	require.Equal(t, want, Render(cfg))
	require.Equal(t, 2, CountPeers(Render(cfg)))
	require.Empty(t, Endpoints(Render(cfg)))
}

func TestRenderSlaveViewWithNote(t *testing.T) {
	cfg := Config{
		Interface: Interface{PrivateKey: "priv", MTU: 1420, Address: netip.MustParseAddr("10.11.12.2")},
		Note:      "master not registered yet",
	}
	want := "[Interface]\n" +
		"PrivateKey = priv\n" +
		"MTU = 1420\n" +
		"Address = 10.11.12.2\n" +
		"\n" +
		"# master not registered yet\n"
	require.Equal(t, want, Render(cfg))
	require.Zero(t, CountPeers(Render(cfg)))
}

func TestEndpoints(t *testing.T) {
	text := Render(Config{
		Interface: Interface{PrivateKey: "priv"},
		Peers: []model.Peer{
			{PublicKey: "m", Endpoint: "1.2.3.4:51820", AllowedIPs: []string{"10.11.12.0/24"}, Keepalive: 25},
		},
	})
	require.Equal(t, []string{"1.2.3.4:51820"}, Endpoints(text))
}
