package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Watcher follows the coordinator change feed and nudges the agent when the
// registry version moves. The periodic loop stays authoritative; a lost feed
// only delays convergence to the next tick.
type Watcher struct {
	endpoint string
	dialer   *websocket.Dialer
	retry    time.Duration
	log      logrus.FieldLogger
}

// NewWatcher derives the ws(s)://.../watch URL from the coordinator base URL.
func NewWatcher(baseURL, key string, tlsConfig *tls.Config, log logrus.FieldLogger) (*Watcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse coordinator url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported coordinator scheme %q", u.Scheme)
	}
	u.Path = "/watch"
	q := url.Values{}
	q.Set("key", key)
	u.RawQuery = q.Encode()
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = tlsConfig
	return &Watcher{endpoint: u.String(), dialer: &dialer, retry: 5 * time.Second, log: log}, nil
}

type watchMessage struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
}

// Run reconnects until ctx is done, calling onChange for every version
// advance seen on the feed.
func (w *Watcher) Run(ctx context.Context, onChange func(version uint64)) {
	var last uint64
	for {
		conn, resp, err := w.dialer.DialContext(ctx, w.endpoint, http.Header{})
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			w.log.WithError(err).WithField("status", status).Debug("watch dial failed")
		} else {
			w.log.Debug("watch connected")
			last = w.readLoop(ctx, conn, last, onChange)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.retry):
		}
	}
}

func (w *Watcher) readLoop(ctx context.Context, conn *websocket.Conn, last uint64, onChange func(uint64)) uint64 {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()
	for {
		var msg watchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return last
		}
		if msg.Version != last {
			// A hello after reconnect may carry a version we missed.
			if last != 0 || msg.Type == "changed" {
				onChange(msg.Version)
			}
			last = msg.Version
		}
	}
}
