package store

import (
	"sort"
	"sync"

	"wg-mesh/pkg/model"
)

// MemoryStore keeps identities for the process lifetime only.
type MemoryStore struct {
	mu     sync.RWMutex
	master *model.NodeIdentity
	slaves map[string]model.NodeIdentity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slaves: make(map[string]model.NodeIdentity)}
}

func (m *MemoryStore) Load() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var snap Snapshot
	if m.master != nil {
		master := *m.master
		snap.Master = &master
	}
	for _, n := range m.slaves {
		snap.Slaves = append(snap.Slaves, n)
	}
	sort.Slice(snap.Slaves, func(i, j int) bool {
		return snap.Slaves[i].Address.Less(snap.Slaves[j].Address)
	})
	return snap, nil
}

func (m *MemoryStore) Save(n model.NodeIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch n.Role {
	case model.RoleMaster:
		m.master = &n
	case model.RoleSlave:
		m.slaves[slaveKey(n)] = n
	default:
		return ErrUnknownRole
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
