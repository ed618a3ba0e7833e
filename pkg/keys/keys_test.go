package keys

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWireGuardGenerate(t *testing.T) {
	var g Generator = WireGuard{}
	a, err := g.Generate()
	require.NoError(t, err)
	b, err := g.Generate()
	require.NoError(t, err)

	require.Len(t, a.PrivateKey, 44)
	require.Len(t, a.PublicKey, 44)
	require.NotEqual(t, a.PrivateKey, b.PrivateKey)

	pub, err := PublicFromPrivate(a.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, a.PublicKey, pub)
}

func TestGeneratorFunc(t *testing.T) {
	boom := errors.New("boom")
	g := GeneratorFunc(func() (Pair, error) { return Pair{}, boom })
	_, err := g.Generate()
	require.ErrorIs(t, err, boom)
}

func TestPublicFromPrivateRejectsGarbage(t *testing.T) {
	_, err := PublicFromPrivate("not-a-key")
	require.Error(t, err)
}
