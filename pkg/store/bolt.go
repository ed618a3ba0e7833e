package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"wg-mesh/pkg/model"
)

var (
	masterBucket = []byte("master")
	slaveBucket  = []byte("slaves")
	masterKey    = []byte("current")
)

// BoltStore persists identities in a local bbolt file, one JSON value per identity.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{masterBucket, slaveBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Load() (Snapshot, error) {
	var snap Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(masterBucket).Get(masterKey); v != nil {
			n := model.NodeIdentity{}
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("decode master: %w", err)
			}
			snap.Master = &n
		}
		return tx.Bucket(slaveBucket).ForEach(func(k, v []byte) error {
			n := model.NodeIdentity{}
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("decode slave %s: %w", k, err)
			}
			snap.Slaves = append(snap.Slaves, n)
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (b *BoltStore) Save(n model.NodeIdentity) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		switch n.Role {
		case model.RoleMaster:
			return tx.Bucket(masterBucket).Put(masterKey, data)
		case model.RoleSlave:
			return tx.Bucket(slaveBucket).Put([]byte(slaveKey(n)), data)
		default:
			return ErrUnknownRole
		}
	})
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
