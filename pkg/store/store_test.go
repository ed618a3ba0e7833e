package store

import (
	"net/netip"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wg-mesh/pkg/model"
)

func backends(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"bolt": func() Store {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "registry.db"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := NewSQLStore("sqlite", filepath.Join(t.TempDir(), "registry.sqlite"))
			require.NoError(t, err)
			return s
		},
	}
}

func identity(uid string, role model.Role, addr string) model.NodeIdentity {
	return model.NodeIdentity{
		UID:          uid,
		Role:         role,
		Interface:    "wg0",
		PublicKey:    "pub-" + uid,
		PrivateKey:   "priv-" + uid,
		Address:      netip.MustParseAddr(addr),
		RegisteredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			snap, err := s.Load()
			require.NoError(t, err)
			require.Nil(t, snap.Master)
			require.Empty(t, snap.Slaves)

			m := identity("m1", model.RoleMaster, "10.11.12.1")
			m.Endpoint = "1.2.3.4:51820"
			require.NoError(t, s.Save(m))
			require.NoError(t, s.Save(identity("s1", model.RoleSlave, "10.11.12.2")))
			require.NoError(t, s.Save(identity("s2", model.RoleSlave, "10.11.12.3")))
			// Updating an existing slave must not duplicate it.
			require.NoError(t, s.Save(identity("s1", model.RoleSlave, "10.11.12.2")))

			snap, err = s.Load()
			require.NoError(t, err)
			require.NotNil(t, snap.Master)
			require.Equal(t, "m1", snap.Master.UID)
			require.Equal(t, "1.2.3.4:51820", snap.Master.Endpoint)
			require.Len(t, snap.Slaves, 2)
			sort.Slice(snap.Slaves, func(i, j int) bool { return snap.Slaves[i].UID < snap.Slaves[j].UID })
			require.Equal(t, netip.MustParseAddr("10.11.12.2"), snap.Slaves[0].Address)
			require.Equal(t, "priv-s1", snap.Slaves[0].PrivateKey)
		})
	}
}

func TestStoreMasterSlotReplaced(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()
			require.NoError(t, s.Save(identity("m1", model.RoleMaster, "10.11.12.1")))
			require.NoError(t, s.Save(identity("m2", model.RoleMaster, "10.11.12.1")))
			snap, err := s.Load()
			require.NoError(t, err)
			require.Equal(t, "m2", snap.Master.UID)
			require.Empty(t, snap.Slaves)
		})
	}
}

func TestStoreRejectsUnknownRole(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()
			require.ErrorIs(t, s.Save(identity("x", model.Role("relay"), "10.11.12.9")), ErrUnknownRole)
		})
	}
}

func TestOpenBackends(t *testing.T) {
	s, err := Open(Options{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	_, err = Open(Options{Backend: "bolt"})
	require.Error(t, err)

	_, err = Open(Options{Backend: "etcd"})
	require.Error(t, err)
}
