package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/pion/stun"
)

// DiscoverEndpoint asks a STUN server for this host's public address and
// returns it joined with the WireGuard listen port.
func DiscoverEndpoint(ctx context.Context, server string, port int) (string, error) {
	c, err := stun.Dial("udp4", server)
	if err != nil {
		return "", fmt.Errorf("stun dial %s: %w", server, err)
	}
	defer c.Close()

	type result struct {
		ip  net.IP
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
		var r result
		if err := c.Do(msg, func(ev stun.Event) {
			if ev.Error != nil {
				r.err = ev.Error
				return
			}
			var xor stun.XORMappedAddress
			if err := xor.GetFrom(ev.Message); err != nil {
				r.err = err
				return
			}
			r.ip = xor.IP
		}); err != nil {
			r.err = err
		}
		ch <- r
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("stun binding: %w", r.err)
		}
		if r.ip == nil {
			return "", errors.New("stun binding returned no address")
		}
		return net.JoinHostPort(r.ip.String(), strconv.Itoa(port)), nil
	}
}
