package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wg-mesh/pkg/auth"
	"wg-mesh/pkg/model"
	"wg-mesh/pkg/registry"
)

// Server exposes the registry over HTTP.
type Server struct {
	reg    *registry.Registry
	issuer *auth.Issuer
	hub    *Hub
	log    logrus.FieldLogger
}

func NewServer(reg *registry.Registry, issuer *auth.Issuer, hub *Hub, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{reg: reg, issuer: issuer, hub: hub, log: log}
}

// Handler returns a mux with every coordinator route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes wires the HTTP handlers on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/watch", s.handleWatch)
	mux.HandleFunc("/api/v1/token", s.handleToken)
	mux.HandleFunc("/api/v1/nodes", s.requireToken(s.handleNodes))
	mux.HandleFunc("/api/v1/audit", s.requireToken(s.handleAudit))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeInvalidRequest, "invalid payload")
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusBadRequest, model.CodeInvalidRequest, "role is required")
		return
	}

	n, err := s.reg.Register(registry.RegisterRequest{
		Role:      model.Role(req.Role),
		UID:       req.UID,
		Interface: req.Interface,
		Key:       req.Key,
		Endpoint:  req.Endpoint,
	})
	if err != nil {
		s.fail(w, r, err, logrus.Fields{"uid": req.UID, "role": req.Role, "interface": req.Interface})
		return
	}
	writeJSON(w, http.StatusOK, RegisterResponse{
		Status:     "registered",
		AssignedIP: n.Address.String(),
		PrivateKey: n.PrivateKey,
		PublicKey:  n.PublicKey,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	cfg, err := s.reg.Render(registry.SyncRequest{
		Role:      model.Role(q.Get("role")),
		PublicKey: q.Get("public_key"),
		Interface: q.Get("interface"),
		Key:       q.Get("key"),
	})
	if err != nil {
		s.fail(w, r, err, logrus.Fields{"role": q.Get("role"), "interface": q.Get("interface")})
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Config: cfg})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "watch disabled", http.StatusNotFound)
		return
	}
	if err := s.reg.Authenticate(r.URL.Query().Get("key")); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.hub.Serve(w, r, s.reg.Version())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.issuer == nil {
		http.Error(w, "admin api disabled", http.StatusNotFound)
		return
	}
	var req TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeInvalidRequest, "invalid payload")
		return
	}
	if err := s.reg.Authenticate(req.Key); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	token, err := s.issuer.Generate(r.RemoteAddr)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	master, slaves := s.reg.Nodes()
	resp := NodesResponse{Subnet: s.reg.Subnet().String(), Slaves: make([]NodeSummary, 0, len(slaves))}
	if master != nil {
		m := summarize(*master)
		resp.Master = &m
	}
	for _, n := range slaves {
		resp.Slaves = append(resp.Slaves, summarize(n))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.reg.Audit(50))
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.issuer == nil {
			http.Error(w, "admin api disabled", http.StatusNotFound)
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := s.issuer.Parse(strings.TrimPrefix(h, "Bearer ")); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// fail maps a registry error kind onto the HTTP contract.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, fields logrus.Fields) {
	code := model.Code(err)
	status := statusFor(code)
	entry := s.log.WithFields(fields).WithField("path", r.URL.Path).WithField("remote", r.RemoteAddr)
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Warn("request rejected")
	}
	msg := err.Error()
	if code == model.CodeInternal {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func statusFor(code string) int {
	switch code {
	case model.CodeUnauthorized:
		return http.StatusForbidden
	case model.CodeInvalidRequest, model.CodeNotRegistered:
		return http.StatusBadRequest
	case model.CodeMasterConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func summarize(n model.NodeIdentity) NodeSummary {
	return NodeSummary{
		UID:          n.UID,
		Role:         string(n.Role),
		Interface:    n.Interface,
		PublicKey:    n.PublicKey,
		Address:      n.Address.String(),
		Endpoint:     n.Endpoint,
		RegisteredAt: n.RegisteredAt.UTC().Format(time.RFC3339),
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to write response")
	}
}
