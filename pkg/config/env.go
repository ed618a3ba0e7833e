package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type envReader struct {
	err error
}

func (r *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return v, ok && v != ""
}

func (r *envReader) stringVar(name string, dst *string) {
	if v, ok := r.lookup(name); ok {
		*dst = v
	}
}

func (r *envReader) intVar(name string, dst *int) {
	v, ok := r.lookup(name)
	if !ok || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		return
	}
	*dst = n
}

func (r *envReader) boolVar(name string, dst *bool) {
	v, ok := r.lookup(name)
	if !ok || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		return
	}
	*dst = b
}

func (r *envReader) durationVar(name string, dst *time.Duration) {
	v, ok := r.lookup(name)
	if !ok || r.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds.
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			r.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			return
		}
		d = time.Duration(n) * time.Second
	}
	*dst = d
}

// ApplyEnv overrides c from WGMESH_* variables.
func (c *Coordinator) ApplyEnv() error {
	r := &envReader{}
	r.stringVar("LISTEN", &c.Listen)
	r.stringVar("SUBNET", &c.Subnet)
	r.intVar("MTU", &c.MTU)
	r.intVar("KEEPALIVE", &c.Keepalive)
	r.stringVar("INTERFACE", &c.Interface)
	r.stringVar("MASTER_POLICY", &c.MasterPolicy)
	r.stringVar("KEY", &c.Key)
	r.stringVar("KEY_FILE", &c.KeyFile)
	r.stringVar("KEY_HASH", &c.KeyHash)
	r.stringVar("JWT_SECRET", &c.JWTSecret)
	r.durationVar("TOKEN_TTL", &c.TokenTTL)
	r.stringVar("STORE", &c.Store.Backend)
	r.stringVar("STORE_PATH", &c.Store.Path)
	r.stringVar("STORE_DSN", &c.Store.DSN)
	r.stringVar("CONSUL_ADDR", &c.Store.ConsulAddr)
	r.stringVar("CONSUL_TOKEN", &c.Store.ConsulToken)
	r.stringVar("TLS_CERT", &c.TLS.CertFile)
	r.stringVar("TLS_KEY", &c.TLS.KeyFile)
	r.stringVar("TLS_CLIENT_CA", &c.TLS.ClientCAFile)
	r.stringVar("LOG_LEVEL", &c.LogLevel)
	r.stringVar("LOG_FILE", &c.LogFile)
	return r.err
}

// ApplyEnv overrides a from WGMESH_* variables.
func (a *Agent) ApplyEnv() error {
	r := &envReader{}
	r.stringVar("SERVER", &a.Server)
	r.intVar("PORT", &a.Port)
	r.stringVar("SCHEME", &a.Scheme)
	r.boolVar("INSECURE", &a.Insecure)
	r.stringVar("CA_FILE", &a.CAFile)
	r.stringVar("CERT_FILE", &a.CertFile)
	r.stringVar("TLS_KEY_FILE", &a.KeyFileTLS)
	r.stringVar("ROLE", &a.Role)
	r.stringVar("UID", &a.UID)
	r.stringVar("INTERFACE", &a.Interface)
	r.durationVar("INTERVAL", &a.Interval)
	r.stringVar("ENDPOINT", &a.Endpoint)
	r.intVar("ENDPOINT_PORT", &a.EndpointPort)
	r.stringVar("STUN_SERVER", &a.STUNServer)
	r.stringVar("CONFIG_DIR", &a.ConfigDir)
	r.stringVar("APPLY_MODE", &a.ApplyMode)
	r.durationVar("PROBE_INTERVAL", &a.ProbeInterval)
	r.stringVar("HISTORY_DB", &a.HistoryDB)
	r.boolVar("WATCH", &a.Watch)
	r.durationVar("REQUEST_TIMEOUT", &a.RequestTimeout)
	r.durationVar("APPLY_TIMEOUT", &a.ApplyTimeout)
	r.stringVar("KEY", &a.Key)
	r.stringVar("KEY_FILE", &a.KeyFile)
	r.stringVar("LOG_LEVEL", &a.LogLevel)
	r.stringVar("LOG_FILE", &a.LogFile)
	return r.err
}
