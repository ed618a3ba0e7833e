package registry

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wg-mesh/pkg/auth"
	"wg-mesh/pkg/ipam"
	"wg-mesh/pkg/keys"
	"wg-mesh/pkg/model"
	"wg-mesh/pkg/store"
	"wg-mesh/pkg/wireguard"
)

// MasterPolicy decides what happens when a different identity registers as
// master while one is already registered.
type MasterPolicy string

const (
	MasterOverwrite MasterPolicy = "overwrite"
	MasterReject    MasterPolicy = "reject"
)

const (
	DefaultMTU       = 1420
	DefaultKeepalive = 25
)

// Options configures a Registry. Auth, Keys and Subnet are required.
type Options struct {
	Subnet           netip.Prefix
	MTU              int
	Keepalive        int
	DefaultInterface string
	MasterPolicy     MasterPolicy

	Auth   auth.Authenticator
	Keys   keys.Generator
	Store  store.Store
	Logger logrus.FieldLogger

	// OnChange is called outside the lock after every mutation.
	OnChange func(version uint64)
	Now      func() time.Time
}

type RegisterRequest struct {
	Role      model.Role
	UID       string
	Interface string
	Key       string
	Endpoint  string
}

type SyncRequest struct {
	Role      model.Role
	PublicKey string
	Interface string
	Key       string
}

// Registry is the single source of truth for mesh membership. All mutation
// goes through Register under one lock; rendering reads under the same lock.
type Registry struct {
	opts Options
	log  logrus.FieldLogger
	pool *ipam.Pool

	mu      sync.RWMutex
	master  *model.NodeIdentity
	slaves  map[model.IdentityKey]model.NodeIdentity
	version uint64
	audit   auditLog
}

// New builds a registry and restores any identities held by opts.Store.
func New(opts Options) (*Registry, error) {
	if opts.Auth == nil {
		return nil, errors.New("registry: authenticator required")
	}
	if opts.Keys == nil {
		return nil, errors.New("registry: key generator required")
	}
	pool, err := ipam.NewPool(opts.Subnet)
	if err != nil {
		return nil, err
	}
	if opts.MTU <= 0 {
		opts.MTU = DefaultMTU
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.DefaultInterface == "" {
		opts.DefaultInterface = model.DefaultInterface
	}
	if opts.MasterPolicy == "" {
		opts.MasterPolicy = MasterOverwrite
	}
	if opts.MasterPolicy != MasterOverwrite && opts.MasterPolicy != MasterReject {
		return nil, fmt.Errorf("registry: unknown master policy %q", opts.MasterPolicy)
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		opts:   opts,
		log:    opts.Logger,
		pool:   pool,
		slaves: make(map[model.IdentityKey]model.NodeIdentity),
		audit:  newAuditLog(200),
	}
	if err := r.restore(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) restore() error {
	snap, err := r.opts.Store.Load()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if snap.Master != nil {
		if snap.Master.Address != r.pool.MasterAddr() {
			return fmt.Errorf("stored master address %s is not %s", snap.Master.Address, r.pool.MasterAddr())
		}
		m := *snap.Master
		r.master = &m
	}
	for _, n := range snap.Slaves {
		if err := r.pool.Reserve(n.Address); err != nil {
			return fmt.Errorf("restore %s: %w", n.Key(), err)
		}
		r.slaves[n.Key()] = n
	}
	if r.master != nil || len(r.slaves) > 0 {
		r.log.WithField("slaves", len(r.slaves)).WithField("master", r.master != nil).Info("registry restored")
	}
	return nil
}

// Subnet returns the mesh subnet.
func (r *Registry) Subnet() netip.Prefix {
	return r.pool.Prefix()
}

// Authenticate checks a shared secret.
func (r *Registry) Authenticate(key string) error {
	if !r.opts.Auth.Check(key) {
		return model.ErrUnauthorized
	}
	return nil
}

// Register admits a node or returns its existing identity unchanged. The
// returned identity carries the private key.
func (r *Registry) Register(req RegisterRequest) (model.NodeIdentity, error) {
	if err := r.Authenticate(req.Key); err != nil {
		return model.NodeIdentity{}, err
	}
	if !req.Role.Valid() {
		return model.NodeIdentity{}, invalid("unknown role %q", req.Role)
	}
	if req.UID == "" {
		return model.NodeIdentity{}, invalid("uid is required")
	}
	if req.Interface == "" {
		req.Interface = r.opts.DefaultInterface
	}
	if req.Role == model.RoleMaster {
		if req.Endpoint == "" {
			return model.NodeIdentity{}, invalid("endpoint is required for master")
		}
		if _, _, err := net.SplitHostPort(req.Endpoint); err != nil {
			return model.NodeIdentity{}, invalid("endpoint %q: %v", req.Endpoint, err)
		}
	}

	r.mu.Lock()
	var (
		n       model.NodeIdentity
		changed bool
		err     error
	)
	if req.Role == model.RoleMaster {
		n, changed, err = r.registerMaster(req)
	} else {
		n, changed, err = r.registerSlave(req)
	}
	var version uint64
	if changed {
		r.version++
		version = r.version
	}
	r.mu.Unlock()

	if err != nil {
		return model.NodeIdentity{}, err
	}
	if changed && r.opts.OnChange != nil {
		r.opts.OnChange(version)
	}
	return n, nil
}

// registerMaster must be called with r.mu held.
func (r *Registry) registerMaster(req RegisterRequest) (model.NodeIdentity, bool, error) {
	key := model.IdentityKey{UID: req.UID, Interface: req.Interface}
	if _, ok := r.slaves[key]; ok {
		return model.NodeIdentity{}, false, invalid("%s is registered as slave", key)
	}
	now := r.opts.Now()

	if r.master != nil && r.master.Key() == key {
		updated := *r.master
		updated.RegisteredAt = now
		changed := updated.Endpoint != req.Endpoint
		updated.Endpoint = req.Endpoint
		if err := r.opts.Store.Save(updated); err != nil {
			return model.NodeIdentity{}, false, fmt.Errorf("persist master: %w", err)
		}
		r.master = &updated
		r.record(req.UID, "reregister", key.String(), "master")
		r.log.WithFields(logrus.Fields{"uid": key.UID, "interface": key.Interface, "endpoint": updated.Endpoint}).Info("master re-registered")
		return updated, changed, nil
	}

	var previous string
	if r.master != nil {
		previous = r.master.Key().String()
		if r.opts.MasterPolicy == MasterReject {
			r.log.WithFields(logrus.Fields{"uid": key.UID, "current": previous}).Warn("master registration rejected")
			return model.NodeIdentity{}, false, fmt.Errorf("%w: %s", model.ErrMasterConflict, previous)
		}
	}

	pair, err := r.opts.Keys.Generate()
	if err != nil {
		r.log.WithError(err).WithField("uid", key.UID).Error("key generation failed")
		return model.NodeIdentity{}, false, fmt.Errorf("%w: %v", model.ErrKeyGeneration, err)
	}
	n := model.NodeIdentity{
		UID:          req.UID,
		Role:         model.RoleMaster,
		Interface:    req.Interface,
		PublicKey:    pair.PublicKey,
		PrivateKey:   pair.PrivateKey,
		Address:      r.pool.MasterAddr(),
		Endpoint:     req.Endpoint,
		RegisteredAt: now,
	}
	if err := r.opts.Store.Save(n); err != nil {
		return model.NodeIdentity{}, false, fmt.Errorf("persist master: %w", err)
	}
	r.master = &n
	if previous != "" {
		r.record(req.UID, "master_replaced", key.String(), "replaced "+previous)
		r.log.WithFields(logrus.Fields{"uid": key.UID, "interface": key.Interface, "previous": previous}).Warn("master replaced")
	} else {
		r.record(req.UID, "register", key.String(), "master")
		r.log.WithFields(logrus.Fields{"uid": key.UID, "interface": key.Interface, "address": n.Address}).Info("master registered")
	}
	return n, true, nil
}

// registerSlave must be called with r.mu held.
func (r *Registry) registerSlave(req RegisterRequest) (model.NodeIdentity, bool, error) {
	key := model.IdentityKey{UID: req.UID, Interface: req.Interface}
	if r.master != nil && r.master.Key() == key {
		return model.NodeIdentity{}, false, invalid("%s is registered as master", key)
	}
	now := r.opts.Now()

	if existing, ok := r.slaves[key]; ok {
		existing.RegisteredAt = now
		if err := r.opts.Store.Save(existing); err != nil {
			return model.NodeIdentity{}, false, fmt.Errorf("persist slave: %w", err)
		}
		r.slaves[key] = existing
		r.record(req.UID, "reregister", key.String(), "slave")
		r.log.WithFields(logrus.Fields{"uid": key.UID, "interface": key.Interface, "address": existing.Address}).Info("slave re-registered")
		return existing, false, nil
	}

	pair, err := r.opts.Keys.Generate()
	if err != nil {
		r.log.WithError(err).WithField("uid", key.UID).Error("key generation failed")
		return model.NodeIdentity{}, false, fmt.Errorf("%w: %v", model.ErrKeyGeneration, err)
	}
	addr, err := r.pool.Allocate()
	if err != nil {
		if errors.Is(err, ipam.ErrNoAvailableIps) {
			return model.NodeIdentity{}, false, fmt.Errorf("%w: %s", model.ErrPoolExhausted, r.pool.Prefix())
		}
		return model.NodeIdentity{}, false, err
	}
	n := model.NodeIdentity{
		UID:          req.UID,
		Role:         model.RoleSlave,
		Interface:    req.Interface,
		PublicKey:    pair.PublicKey,
		PrivateKey:   pair.PrivateKey,
		Address:      addr,
		RegisteredAt: now,
	}
	if err := r.opts.Store.Save(n); err != nil {
		r.pool.Release(addr)
		return model.NodeIdentity{}, false, fmt.Errorf("persist slave: %w", err)
	}
	r.slaves[key] = n
	r.record(req.UID, "register", key.String(), "slave "+addr.String())
	r.log.WithFields(logrus.Fields{"uid": key.UID, "interface": key.Interface, "address": addr}).Info("slave registered")
	return n, true, nil
}

// Render produces the wg-quick config for the requesting node. It never
// mutates the registry.
func (r *Registry) Render(req SyncRequest) (string, error) {
	if err := r.Authenticate(req.Key); err != nil {
		return "", err
	}
	if !req.Role.Valid() {
		return "", invalid("unknown role %q", req.Role)
	}
	if req.PublicKey == "" {
		return "", invalid("public_key is required")
	}
	if req.Interface == "" {
		req.Interface = r.opts.DefaultInterface
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	subnet := r.pool.Prefix().String()
	if req.Role == model.RoleMaster {
		if r.master == nil || r.master.PublicKey != req.PublicKey {
			return "", fmt.Errorf("%w: master not match or registered", model.ErrNotRegistered)
		}
		cfg := wireguard.Config{
			Interface: wireguard.Interface{
				PrivateKey: r.master.PrivateKey,
				MTU:        r.opts.MTU,
				Address:    r.master.Address,
				ListenPort: endpointPort(r.master.Endpoint),
			},
		}
		for _, s := range r.sortedSlaves() {
			cfg.Peers = append(cfg.Peers, model.Peer{
				PublicKey:  s.PublicKey,
				AllowedIPs: []string{subnet},
				Keepalive:  r.opts.Keepalive,
			})
		}
		return wireguard.Render(cfg), nil
	}

	var target *model.NodeIdentity
	for _, s := range r.slaves {
		if s.PublicKey == req.PublicKey && s.Interface == req.Interface {
			s := s
			target = &s
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("%w: slave not registered", model.ErrNotRegistered)
	}
	cfg := wireguard.Config{
		Interface: wireguard.Interface{
			PrivateKey: target.PrivateKey,
			MTU:        r.opts.MTU,
			Address:    target.Address,
		},
	}
	if r.master != nil {
		cfg.Peers = []model.Peer{{
			PublicKey:  r.master.PublicKey,
			Endpoint:   r.master.Endpoint,
			AllowedIPs: []string{subnet},
			Keepalive:  r.opts.Keepalive,
		}}
	} else {
		cfg.Note = "master not registered yet; peer omitted"
	}
	return wireguard.Render(cfg), nil
}

// Nodes returns the current members without private keys, slaves sorted by address.
func (r *Registry) Nodes() (*model.NodeIdentity, []model.NodeIdentity) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var master *model.NodeIdentity
	if r.master != nil {
		m := r.master.Public()
		master = &m
	}
	slaves := r.sortedSlaves()
	for i := range slaves {
		slaves[i] = slaves[i].Public()
	}
	return master, slaves
}

// Version increments on every mutation that can change a rendered config.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Audit returns up to limit of the most recent audit entries.
func (r *Registry) Audit(limit int) []model.AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audit.list(limit)
}

func (r *Registry) sortedSlaves() []model.NodeIdentity {
	out := make([]model.NodeIdentity, 0, len(r.slaves))
	for _, s := range r.slaves {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}

func (r *Registry) record(actor, action, target, detail string) {
	r.audit.append(model.AuditEntry{
		Actor:     actor,
		Action:    action,
		Target:    target,
		Detail:    detail,
		Timestamp: r.opts.Now(),
	})
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func endpointPort(endpoint string) int {
	_, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
