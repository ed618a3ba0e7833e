package model

// Peer describes a WireGuard peer section in a rendered config.
type Peer struct {
	PublicKey  string   `json:"publicKey"`
	Endpoint   string   `json:"endpoint,omitempty"`
	AllowedIPs []string `json:"allowedIPs"`
	Keepalive  int      `json:"keepaliveSeconds,omitempty"`
}
