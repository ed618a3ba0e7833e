package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"wg-mesh/pkg/auth"
	"wg-mesh/pkg/keys"
	"wg-mesh/pkg/model"
	"wg-mesh/pkg/registry"
	"wg-mesh/pkg/wireguard"
)

const secret = "mesh-secret"

type testEnv struct {
	srv *httptest.Server
	reg *registry.Registry
	hub *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	a, err := auth.NewSecret(secret)
	require.NoError(t, err)
	var n atomic.Int64
	hub := NewHub(log)
	reg, err := registry.New(registry.Options{
		Subnet: netip.MustParsePrefix("10.11.12.0/24"),
		Auth:   a,
		Keys: keys.GeneratorFunc(func() (keys.Pair, error) {
			i := n.Add(1)
			return keys.Pair{PrivateKey: fmt.Sprintf("priv-%d", i), PublicKey: fmt.Sprintf("pub-%d", i)}, nil
		}),
		Logger:   log,
		OnChange: hub.Broadcast,
	})
	require.NoError(t, err)

	s := NewServer(reg, auth.NewIssuer([]byte("jwt-secret"), time.Minute), hub, log)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, reg: reg, hub: hub}
}

func (e *testEnv) register(t *testing.T, body interface{}) (*http.Response, RegisterResponse) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+"/register", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out RegisterResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (e *testEnv) sync(t *testing.T, params url.Values) (int, SyncResponse, ErrorResponse) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + "/sync?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	var ok SyncResponse
	var fail ErrorResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	} else {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&fail))
	}
	return resp.StatusCode, ok, fail
}

func TestRegisterAndSyncOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	resp, m := e.register(t, RegisterRequest{Role: "master", UID: "m1", Key: secret, Endpoint: "1.2.3.4:51820"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "10.11.12.1", m.AssignedIP)
	require.NotEmpty(t, m.PrivateKey)

	resp, s1 := e.register(t, RegisterRequest{Role: "slave", UID: "s1", Key: secret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "10.11.12.2", s1.AssignedIP)

	resp, again := e.register(t, RegisterRequest{Role: "slave", UID: "s1", Key: secret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, s1, again)

	status, cfg, _ := e.sync(t, url.Values{"role": {"master"}, "public_key": {m.PublicKey}, "key": {secret}})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, wireguard.CountPeers(cfg.Config))
	require.Empty(t, wireguard.Endpoints(cfg.Config))

	status, cfg, _ = e.sync(t, url.Values{"role": {"slave"}, "public_key": {s1.PublicKey}, "key": {secret}})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, []string{"1.2.3.4:51820"}, wireguard.Endpoints(cfg.Config))
}

func TestRegisterErrors(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Post(e.srv.URL+"/register", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.register(t, RegisterRequest{Role: "relay", UID: "x", Key: secret})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.register(t, RegisterRequest{Role: "slave", UID: "x", Key: "wrong"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.register(t, RegisterRequest{Role: "master", UID: "m1", Key: secret})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/register")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	master, slaves := e.reg.Nodes()
	require.Nil(t, master)
	require.Empty(t, slaves)
}

func TestSyncErrors(t *testing.T) {
	e := newTestEnv(t)

	status, _, fail := e.sync(t, url.Values{"role": {"relay"}, "public_key": {"x"}, "key": {secret}})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, model.CodeInvalidRequest, fail.Code)

	status, _, fail = e.sync(t, url.Values{"role": {"slave"}, "public_key": {"x"}, "key": {"wrong"}})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, model.CodeUnauthorized, fail.Code)

	status, _, fail = e.sync(t, url.Values{"role": {"slave"}, "public_key": {"unknown"}, "key": {secret}})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, model.CodeNotRegistered, fail.Code)
}

func TestAdminAPI(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.register(t, RegisterRequest{Role: "master", UID: "m1", Key: secret, Endpoint: "1.2.3.4:51820"})
	_, _ = e.register(t, RegisterRequest{Role: "slave", UID: "s1", Key: secret})

	resp, err := http.Get(e.srv.URL + "/api/v1/nodes")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Post(e.srv.URL+"/api/v1/token", "application/json", strings.NewReader(`{"key":"wrong"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Post(e.srv.URL+"/api/v1/token", "application/json", strings.NewReader(`{"key":"`+secret+`"}`))
	require.NoError(t, err)
	var tok TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	resp.Body.Close()
	require.NotEmpty(t, tok.Token)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/nodes", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, string(raw), "priv-")

	var nodes NodesResponse
	require.NoError(t, json.Unmarshal(raw, &nodes))
	require.Equal(t, "10.11.12.0/24", nodes.Subnet)
	require.Equal(t, "m1", nodes.Master.UID)
	require.Len(t, nodes.Slaves, 1)

	req, err = http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/audit", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWatchFeed(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/watch?key=" + secret

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/watch?key=wrong", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello WSMessage
	require.NoError(t, c.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	require.Zero(t, hello.Version)

	_, _ = e.register(t, RegisterRequest{Role: "slave", UID: "s1", Key: secret})
	var changed WSMessage
	require.NoError(t, c.ReadJSON(&changed))
	require.Equal(t, "changed", changed.Type)
	require.Equal(t, uint64(1), changed.Version)
}
