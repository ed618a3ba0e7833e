package agent

import (
	"context"
	"net"
	"net/url"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/wgctrl"

	"wg-mesh/pkg/wireguard"
)

// ProbeResult is the outcome of pinging one target.
type ProbeResult struct {
	Target    string
	Reachable bool
	LatencyMs float64
	LossPct   float64
}

// PeerStatus is what the kernel reports for one peer of the interface.
type PeerStatus struct {
	PublicKey     string
	LastHandshake time.Time
}

// Prober periodically checks reachability of the coordinator and the master
// endpoint found in the applied config. It never changes any state.
type Prober struct {
	Coordinator string
	Config      ConfigFile
	Interface   string
	Interval    time.Duration
	Logger      logrus.FieldLogger

	ping  func(ctx context.Context, host string) (ProbeResult, error)
	peers func(iface string) ([]PeerStatus, error)
}

func NewProber(coordinator string, cfg ConfigFile, iface string, interval time.Duration, log logrus.FieldLogger) *Prober {
	return &Prober{
		Coordinator: coordinator,
		Config:      cfg,
		Interface:   iface,
		Interval:    interval,
		Logger:      log,
		ping:        systemPing,
		peers:       devicePeers,
	}
}

// Start runs the prober until ctx is done. An interval <= 0 disables it.
func (p *Prober) Start(ctx context.Context) {
	if p.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			p.ProbeOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// ProbeOnce pings every target once and logs the results.
func (p *Prober) ProbeOnce(ctx context.Context) []ProbeResult {
	var out []ProbeResult
	for _, host := range p.targets() {
		res, err := p.ping(ctx, host)
		if err != nil {
			p.Logger.WithError(err).WithField("target", host).Debug("probe failed")
			out = append(out, ProbeResult{Target: host, LossPct: 100})
			continue
		}
		p.Logger.WithFields(logrus.Fields{"target": host, "latency_ms": res.LatencyMs, "loss_pct": res.LossPct}).Debug("probe ok")
		out = append(out, res)
	}
	if p.peers != nil {
		peers, err := p.peers(p.Interface)
		if err != nil {
			p.Logger.WithError(err).Debug("read interface peers failed")
		}
		for _, peer := range peers {
			p.Logger.WithFields(logrus.Fields{"peer": peer.PublicKey, "last_handshake": peer.LastHandshake}).Debug("peer status")
		}
	}
	return out
}

func (p *Prober) targets() []string {
	seen := map[string]bool{}
	var out []string
	add := func(h string) {
		if h == "" || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}
	if u, err := url.Parse(p.Coordinator); err == nil {
		add(u.Hostname())
	}
	if content, ok, err := p.Config.Read(); err == nil && ok {
		for _, ep := range wireguard.Endpoints(content) {
			if host, _, err := net.SplitHostPort(ep); err == nil {
				add(host)
			}
		}
	}
	return out
}

var (
	pingLossRe = regexp.MustCompile(`([0-9.]+)% packet loss`)
	pingRttRe  = regexp.MustCompile(`= ([0-9.]+)/`)
)

func systemPing(ctx context.Context, host string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ping", "-c", "3", "-W", "1", host).CombinedOutput()
	if err != nil {
		return ProbeResult{}, err
	}
	return parsePing(host, string(out)), nil
}

func parsePing(host, out string) ProbeResult {
	res := ProbeResult{Target: host}
	if m := pingLossRe.FindStringSubmatch(out); len(m) == 2 {
		res.LossPct, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := pingRttRe.FindStringSubmatch(out); len(m) == 2 {
		res.LatencyMs, _ = strconv.ParseFloat(m[1], 64)
	}
	res.Reachable = res.LossPct < 100
	return res
}

func devicePeers(iface string) ([]PeerStatus, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	dev, err := c.Device(iface)
	if err != nil {
		return nil, err
	}
	out := make([]PeerStatus, 0, len(dev.Peers))
	for _, peer := range dev.Peers {
		out = append(out, PeerStatus{PublicKey: peer.PublicKey.String(), LastHandshake: peer.LastHandshakeTime})
	}
	return out, nil
}
