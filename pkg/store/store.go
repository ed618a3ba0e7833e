package store

import (
	"errors"

	"wg-mesh/pkg/model"
)

// Snapshot is the persisted registry content.
type Snapshot struct {
	Master *model.NodeIdentity
	Slaves []model.NodeIdentity
}

// Store persists registry identities. A master identity occupies a single
// slot, so saving a new master replaces the previous one; slaves are keyed
// by (uid, interface).
type Store interface {
	Load() (Snapshot, error)
	Save(model.NodeIdentity) error
	Close() error
}

var ErrUnknownRole = errors.New("identity has unknown role")

func slaveKey(n model.NodeIdentity) string {
	return n.Key().String()
}
