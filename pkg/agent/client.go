package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"wg-mesh/pkg/model"
)

// Identity is what the coordinator assigned at registration.
type Identity struct {
	Role       model.Role
	UID        string
	Interface  string
	Address    netip.Addr
	PublicKey  string
	PrivateKey string
}

type RegisterParams struct {
	Role      model.Role
	UID       string
	Interface string
	Endpoint  string
}

type SyncParams struct {
	Role      model.Role
	PublicKey string
	Interface string
}

// Coordinator is the agent's view of the coordinator HTTP contract.
type Coordinator interface {
	Register(ctx context.Context, p RegisterParams) (Identity, error)
	Sync(ctx context.Context, p SyncParams) (string, error)
}

// Client talks to the coordinator. Errors carrying a known kind unwrap to
// the model.Err* sentinels.
type Client struct {
	base string
	http *http.Client
	key  string
}

func NewClient(baseURL string, httpClient *http.Client, key string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient, key: key}
}

// BaseURL returns the coordinator base URL.
func (c *Client) BaseURL() string { return c.base }

// Key returns the shared secret used on every call.
func (c *Client) Key() string { return c.key }

type registerBody struct {
	Role      string `json:"role"`
	UID       string `json:"uid"`
	Interface string `json:"interface,omitempty"`
	Key       string `json:"key"`
	Endpoint  string `json:"endpoint,omitempty"`
}

type registerReply struct {
	AssignedIP string `json:"assigned_ip"`
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

type errorReply struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) Register(ctx context.Context, p RegisterParams) (Identity, error) {
	body, err := json.Marshal(registerBody{
		Role:      string(p.Role),
		UID:       p.UID,
		Interface: p.Interface,
		Key:       c.key,
		Endpoint:  p.Endpoint,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/register", bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("post register: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, decodeError(resp)
	}

	var reply registerReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Identity{}, fmt.Errorf("decode response: %w", err)
	}
	addr, err := netip.ParseAddr(reply.AssignedIP)
	if err != nil {
		return Identity{}, fmt.Errorf("coordinator assigned invalid address %q: %w", reply.AssignedIP, err)
	}
	if reply.PublicKey == "" || reply.PrivateKey == "" {
		return Identity{}, fmt.Errorf("coordinator returned an incomplete key pair")
	}
	return Identity{
		Role:       p.Role,
		UID:        p.UID,
		Interface:  p.Interface,
		Address:    addr,
		PublicKey:  reply.PublicKey,
		PrivateKey: reply.PrivateKey,
	}, nil
}

func (c *Client) Sync(ctx context.Context, p SyncParams) (string, error) {
	q := url.Values{}
	q.Set("role", string(p.Role))
	q.Set("public_key", p.PublicKey)
	if p.Interface != "" {
		q.Set("interface", p.Interface)
	}
	q.Set("key", c.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/sync?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("get sync: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	var reply struct {
		Config *string `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if reply.Config == nil || *reply.Config == "" {
		return "", fmt.Errorf("sync response has no config")
	}
	return *reply.Config, nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var e errorReply
	if err := json.Unmarshal(b, &e); err == nil && e.Code != "" {
		return fmt.Errorf("coordinator returned %s: %w", resp.Status, model.FromCode(e.Code, e.Error))
	}
	return fmt.Errorf("coordinator returned %s body=%s", resp.Status, strings.TrimSpace(string(b)))
}
