package agent

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSOptions configures how the agent trusts the coordinator.
type TLSOptions struct {
	CAFile   string
	CertFile string
	KeyFile  string
	Insecure bool
}

// BuildHTTPClient returns a client with a bounded per-request timeout so an
// unreachable coordinator stalls a cycle for at most timeout.
func BuildHTTPClient(o TLSOptions, timeout time.Duration) (*http.Client, error) {
	tlsConfig, err := buildTLSConfig(o)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

func buildTLSConfig(o TLSOptions) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: o.Insecure} //nolint:gosec
	if o.CAFile != "" {
		caCertPool := x509.NewCertPool()
		caData, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		if !caCertPool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("ca file %s contains no certificates", o.CAFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if o.CertFile != "" && o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
