package agent

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
)

// Applier brings the live interface in line with the config file on disk.
type Applier interface {
	Apply(ctx context.Context, iface, confPath string) error
}

// Apply modes accepted by NewApplier.
const (
	ApplySystemd  = "systemd"
	ApplySyncconf = "syncconf"
)

// runner executes a command and returns its combined output.
type runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	return cmd.CombinedOutput()
}

// NewApplier returns the applier for mode.
func NewApplier(mode string) (Applier, error) {
	switch strings.ToLower(mode) {
	case "", ApplySystemd:
		return &SystemdApplier{run: execRunner}, nil
	case ApplySyncconf:
		return &SyncconfApplier{run: execRunner, ifaceExists: ifaceExists}, nil
	default:
		return nil, fmt.Errorf("unknown apply mode %q", mode)
	}
}

// SystemdApplier restarts the wg-quick unit for the interface. The unit
// reads /etc/wireguard/<iface>.conf, so confPath must live there.
type SystemdApplier struct {
	run runner
}

func (a *SystemdApplier) Apply(ctx context.Context, iface, _ string) error {
	unit := "wg-quick@" + iface
	if out, err := a.run(ctx, nil, "systemctl", "restart", unit); err != nil {
		return fmt.Errorf("systemctl restart %s: %w output=%s", unit, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SyncconfApplier brings the interface up with wg-quick when it is missing and
// otherwise swaps peers in place with wg syncconf, which avoids a link flap.
type SyncconfApplier struct {
	run         runner
	ifaceExists func(string) bool
}

func (a *SyncconfApplier) Apply(ctx context.Context, iface, confPath string) error {
	if !a.ifaceExists(iface) {
		if out, err := a.run(ctx, nil, "wg-quick", "up", confPath); err != nil {
			return fmt.Errorf("wg-quick up: %w output=%s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}
	stripped, err := a.run(ctx, nil, "wg-quick", "strip", confPath)
	if err != nil {
		return fmt.Errorf("wg-quick strip: %w", err)
	}
	if out, err := a.run(ctx, stripped, "wg", "syncconf", iface, "/dev/stdin"); err != nil {
		return fmt.Errorf("wg syncconf: %w output=%s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func ifaceExists(iface string) bool {
	if iface == "" {
		return false
	}
	_, err := net.InterfaceByName(iface)
	return err == nil
}
