package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, DefaultCoordinator().Validate())

	a := DefaultAgent()
	require.Error(t, a.Validate(), "server and role are required")
	a.Server = "coord.example"
	a.Role = "slave"
	require.NoError(t, a.Validate())
	assert.Equal(t, "https://coord.example:8088", a.BaseURL())

	a.Role = "master"
	require.Error(t, a.Validate(), "master needs an endpoint")
	a.Endpoint = "203.0.113.1"
	require.NoError(t, a.Validate())
	assert.Equal(t, "203.0.113.1:51820", a.MasterEndpoint())
	a.Endpoint = "203.0.113.1:4500"
	assert.Equal(t, "203.0.113.1:4500", a.MasterEndpoint())
}

func TestCoordinatorValidate(t *testing.T) {
	c := DefaultCoordinator()
	c.MasterPolicy = "merge"
	require.Error(t, c.Validate())

	c = DefaultCoordinator()
	c.Subnet = "10.11.12.0"
	require.Error(t, c.Validate())

	c = DefaultCoordinator()
	c.TLS.CertFile = "cert.pem"
	require.Error(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, "coord.yaml", `
listen: 0.0.0.0:9000
subnet: 10.20.0.0/16
master_policy: reject
token_ttl: 15m
store:
  backend: bolt
  path: /var/lib/wg-mesh/registry.db
`)
	c := DefaultCoordinator()
	require.NoError(t, LoadFile(p, &c))
	assert.Equal(t, "0.0.0.0:9000", c.Listen)
	assert.Equal(t, "10.20.0.0/16", c.Subnet)
	assert.Equal(t, "reject", c.MasterPolicy)
	assert.Equal(t, 15*time.Minute, c.TokenTTL)
	assert.Equal(t, "bolt", c.Store.Backend)
	assert.Equal(t, 1420, c.MTU, "unset keys keep defaults")

	require.NoError(t, LoadFile("", &c))
	require.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &c))
	bad := writeFile(t, "bad.yaml", "listen: [")
	require.Error(t, LoadFile(bad, &c))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WGMESH_SERVER", "coord.example")
	t.Setenv("WGMESH_ROLE", "slave")
	t.Setenv("WGMESH_INTERVAL", "30")
	t.Setenv("WGMESH_PROBE_INTERVAL", "2s")
	t.Setenv("WGMESH_WATCH", "true")
	t.Setenv("WGMESH_PORT", "9443")

	a := DefaultAgent()
	require.NoError(t, a.ApplyEnv())
	assert.Equal(t, "coord.example", a.Server)
	assert.Equal(t, 30*time.Second, a.Interval)
	assert.Equal(t, 2*time.Second, a.ProbeInterval)
	assert.True(t, a.Watch)
	assert.Equal(t, 9443, a.Port)

	t.Setenv("WGMESH_PORT", "nope")
	require.Error(t, a.ApplyEnv())

	t.Setenv("WGMESH_MTU", "1380")
	c := DefaultCoordinator()
	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, 1380, c.MTU)
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", "WGMESH_DOTENV_PROBE=from-file\n")
	t.Setenv("WGMESH_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("WGMESH_DOTENV_PROBE"))
	require.NoError(t, LoadDotEnv(p))
	assert.Equal(t, "from-file", os.Getenv("WGMESH_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")), "missing file is ignored")
}

func TestOverlayFlagsWin(t *testing.T) {
	c := DefaultCoordinator()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringVar(&c.Listen, "listen", c.Listen, "")
	fs.IntVar(&c.MTU, "mtu", c.MTU, "")
	fs.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "")
	require.NoError(t, fs.Parse([]string{"--mtu", "1300", "--token-ttl", "2m"}))

	p := writeFile(t, "coord.yaml", "listen: 0.0.0.0:9000\nmtu: 1500\ntoken_ttl: 1h\n")
	require.NoError(t, Overlay(fs, func() error { return LoadFile(p, &c) }))
	assert.Equal(t, "0.0.0.0:9000", c.Listen, "file beats default")
	assert.Equal(t, 1300, c.MTU, "explicit flag beats file")
	assert.Equal(t, 2*time.Minute, c.TokenTTL)
}
