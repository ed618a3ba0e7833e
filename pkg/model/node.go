package model

import (
	"net/netip"
	"time"
)

// Role is the part a node plays in the mesh.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleSlave
}

// DefaultInterface is used when a request omits the interface name.
const DefaultInterface = "wg0"

// IdentityKey names a mesh participant. A host may run several tunnel
// interfaces, so the uid alone is not unique.
type IdentityKey struct {
	UID       string `json:"uid"`
	Interface string `json:"interface"`
}

func (k IdentityKey) String() string {
	return k.UID + "/" + k.Interface
}

// NodeIdentity captures one registered mesh participant.
type NodeIdentity struct {
	UID          string     `json:"uid"`
	Role         Role       `json:"role"`
	Interface    string     `json:"interface"`
	PublicKey    string     `json:"publicKey"`
	PrivateKey   string     `json:"privateKey,omitempty"`
	Address      netip.Addr `json:"address"`
	Endpoint     string     `json:"endpoint,omitempty"` // master only
	RegisteredAt time.Time  `json:"registeredAt"`
}

// Key returns the identity key of n.
func (n NodeIdentity) Key() IdentityKey {
	return IdentityKey{UID: n.UID, Interface: n.Interface}
}

// Public returns a copy of n safe to expose outside the registration reply.
func (n NodeIdentity) Public() NodeIdentity {
	n.PrivateKey = ""
	return n
}
