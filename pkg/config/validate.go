package config

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Validate checks the coordinator settings after all layers were applied.
func (c Coordinator) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", c.Listen, err)
	}
	if _, err := netip.ParsePrefix(c.Subnet); err != nil {
		return fmt.Errorf("subnet %q: %w", c.Subnet, err)
	}
	if c.MTU < 576 || c.MTU > 9000 {
		return fmt.Errorf("mtu %d out of range", c.MTU)
	}
	if c.Keepalive < 0 {
		return fmt.Errorf("keepalive must not be negative")
	}
	switch c.MasterPolicy {
	case "overwrite", "reject":
	default:
		return fmt.Errorf("master_policy must be overwrite or reject, got %q", c.MasterPolicy)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert and key must be set together")
	}
	return nil
}

// Validate checks the agent settings after all layers were applied.
func (a Agent) Validate() error {
	if a.Server == "" {
		return fmt.Errorf("server is required")
	}
	if a.Role != "master" && a.Role != "slave" {
		return fmt.Errorf("role must be master or slave, got %q", a.Role)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("port %d out of range", a.Port)
	}
	if a.Scheme != "http" && a.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", a.Scheme)
	}
	if a.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if a.Role == "master" && a.Endpoint == "" && a.STUNServer == "" {
		return fmt.Errorf("master requires --endpoint or --stun-server")
	}
	if a.EndpointPort <= 0 || a.EndpointPort > 65535 {
		return fmt.Errorf("endpoint port %d out of range", a.EndpointPort)
	}
	return nil
}

// BaseURL is the coordinator URL built from scheme, server and port.
func (a Agent) BaseURL() string {
	return a.Scheme + "://" + net.JoinHostPort(a.Server, strconv.Itoa(a.Port))
}

// MasterEndpoint joins the endpoint host with the endpoint port unless the
// host already carries one.
func (a Agent) MasterEndpoint() string {
	if a.Endpoint == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(a.Endpoint); err == nil {
		return a.Endpoint
	}
	return net.JoinHostPort(strings.Trim(a.Endpoint, "[]"), strconv.Itoa(a.EndpointPort))
}
