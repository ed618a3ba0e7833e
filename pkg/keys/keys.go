package keys

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Pair is a base64 encoded WireGuard key pair.
type Pair struct {
	PrivateKey string
	PublicKey  string
}

// Generator produces fresh key pairs for joining nodes. Implementations may
// fail transiently.
type Generator interface {
	Generate() (Pair, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func() (Pair, error)

func (f GeneratorFunc) Generate() (Pair, error) { return f() }

// WireGuard generates curve25519 key pairs the same way `wg genkey | wg pubkey` does.
type WireGuard struct{}

func (WireGuard) Generate() (Pair, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Pair{}, fmt.Errorf("generate private key: %w", err)
	}
	return Pair{PrivateKey: priv.String(), PublicKey: priv.PublicKey().String()}, nil
}

// PublicFromPrivate derives the public half of a base64 private key.
func PublicFromPrivate(private string) (string, error) {
	k, err := wgtypes.ParseKey(private)
	if err != nil {
		return "", err
	}
	return k.PublicKey().String(), nil
}
