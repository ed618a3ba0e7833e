package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlainSecret(t *testing.T) {
	a, err := NewSecret("s3cret")
	require.NoError(t, err)
	require.True(t, a.Check("s3cret"))
	require.False(t, a.Check("s3cre"))
	require.False(t, a.Check(""))

	_, err = NewSecret("")
	require.Error(t, err)
}

func TestHashedSecret(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	a, err := NewHashedSecret(hash)
	require.NoError(t, err)
	require.True(t, a.Check("s3cret"))
	require.False(t, a.Check("other"))

	_, err = NewHashedSecret("plain")
	require.Error(t, err)
}

func TestReadKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(path, []byte("  abc\n"), 0o600))
	key, err := ReadKeyFile(path)
	require.NoError(t, err)
	require.Equal(t, "abc", key)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = ReadKeyFile(empty)
	require.Error(t, err)
}

func TestIssuerRoundTrip(t *testing.T) {
	iss := NewIssuer([]byte("signing"), time.Minute)
	tok, err := iss.Generate("ops")
	require.NoError(t, err)
	claims, err := iss.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)

	other := NewIssuer([]byte("different"), time.Minute)
	_, err = other.Parse(tok)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestIssuerExpiry(t *testing.T) {
	iss := NewIssuer([]byte("signing"), time.Minute)
	base := time.Now()
	iss.now = func() time.Time { return base }
	tok, err := iss.Generate("ops")
	require.NoError(t, err)

	iss.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = iss.Parse(tok)
	require.ErrorIs(t, err, ErrInvalid)
}
