package wireguard

import (
	"bufio"
	"fmt"
	"net/netip"
	"strings"

	"wg-mesh/pkg/model"
)

// Interface holds the [Interface] section of a wg-quick config.
type Interface struct {
	PrivateKey string
	MTU        int
	Address    netip.Addr
	ListenPort int
}

// Config is a complete wg-quick config. Note is emitted as a trailing
// comment, used when an expected peer is not yet known.
type Config struct {
	Interface Interface
	Peers     []model.Peer
	Note      string
}

// Render produces wg-quick compatible text. The output depends only on cfg,
// so equal inputs always yield byte-identical configs.
func Render(cfg Config) string {
	var sections []string

	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", cfg.Interface.PrivateKey)
	if cfg.Interface.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", cfg.Interface.MTU)
	}
	if cfg.Interface.Address.IsValid() {
		fmt.Fprintf(&b, "Address = %s\n", cfg.Interface.Address)
	}
	if cfg.Interface.ListenPort > 0 {
		fmt.Fprintf(&b, "ListenPort = %d\n", cfg.Interface.ListenPort)
	}
	sections = append(sections, b.String())

	for _, p := range cfg.Peers {
		b.Reset()
		b.WriteString("[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey)
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
		}
		if len(p.AllowedIPs) > 0 {
			fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(p.AllowedIPs, ", "))
		}
		if p.Keepalive > 0 {
			fmt.Fprintf(&b, "PersistentKeepAlive = %d\n", p.Keepalive)
		}
		sections = append(sections, b.String())
	}
	if cfg.Note != "" {
		sections = append(sections, "# "+cfg.Note+"\n")
	}
	return strings.Join(sections, "\n")
}

// Endpoints returns the Endpoint values of every peer section in text.
func Endpoints(text string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "Endpoint") {
			if v := strings.TrimSpace(val); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// CountPeers returns the number of [Peer] sections in text.
func CountPeers(text string) int {
	n := 0
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "[Peer]" {
			n++
		}
	}
	return n
}
