//go:build consul

package store

import (
	"encoding/json"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"

	"wg-mesh/pkg/model"
)

const (
	consulMasterKey   = "wg-mesh/registry/master"
	consulSlavePrefix = "wg-mesh/registry/slaves/"
)

// ConsulStore keeps identities in Consul KV (requires build tag consul).
type ConsulStore struct {
	cli *consulapi.Client
}

func NewConsulStore(addr, token string) (Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulStore{cli: cli}, nil
}

func (s *ConsulStore) Load() (Snapshot, error) {
	var snap Snapshot
	kv, _, err := s.cli.KV().Get(consulMasterKey, nil)
	if err != nil {
		return Snapshot{}, err
	}
	if kv != nil {
		var n model.NodeIdentity
		if err := json.Unmarshal(kv.Value, &n); err != nil {
			return Snapshot{}, fmt.Errorf("decode master: %w", err)
		}
		snap.Master = &n
	}
	pairs, _, err := s.cli.KV().List(consulSlavePrefix, nil)
	if err != nil {
		return Snapshot{}, err
	}
	for _, p := range pairs {
		var n model.NodeIdentity
		if err := json.Unmarshal(p.Value, &n); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", p.Key, err)
		}
		snap.Slaves = append(snap.Slaves, n)
	}
	return snap, nil
}

func (s *ConsulStore) Save(n model.NodeIdentity) error {
	var key string
	switch n.Role {
	case model.RoleMaster:
		key = consulMasterKey
	case model.RoleSlave:
		key = consulSlavePrefix + slaveKey(n)
	default:
		return ErrUnknownRole
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *ConsulStore) Close() error { return nil }
