package api

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Role      string `json:"role"`
	UID       string `json:"uid"`
	Interface string `json:"interface,omitempty"`
	Key       string `json:"key"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// RegisterResponse carries the identity assigned at registration. The
// private key is only ever sent here.
type RegisterResponse struct {
	Status     string `json:"status"`
	AssignedIP string `json:"assigned_ip"`
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// SyncResponse is the body of a successful GET /sync.
type SyncResponse struct {
	Config string `json:"config"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type TokenRequest struct {
	Key string `json:"key"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// NodesResponse lists members without private keys.
type NodesResponse struct {
	Subnet string        `json:"subnet"`
	Master *NodeSummary  `json:"master,omitempty"`
	Slaves []NodeSummary `json:"slaves"`
}

type NodeSummary struct {
	UID          string `json:"uid"`
	Role         string `json:"role"`
	Interface    string `json:"interface"`
	PublicKey    string `json:"public_key"`
	Address      string `json:"address"`
	Endpoint     string `json:"endpoint,omitempty"`
	RegisteredAt string `json:"registered_at"`
}

// WSMessage is the change feed envelope.
type WSMessage struct {
	Type    string `json:"type"` // hello | changed
	Version uint64 `json:"version"`
}
