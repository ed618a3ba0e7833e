package ipam

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"go4.org/netipx"
)

var ErrNoAvailableIps = errors.New("no free ip addresses in prefix available")

// Pool hands out addresses from a mesh subnet. The first host address is
// reserved for the master; slaves draw ascending addresses after it.
type Pool struct {
	mu sync.Mutex

	prefix    netip.Prefix
	allocated netipx.IPSetBuilder
	last      netip.Addr
}

func NewPool(prefix netip.Prefix) (*Pool, error) {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return nil, fmt.Errorf("mesh subnet must be a valid ipv4 prefix, got %q", prefix)
	}
	prefix = prefix.Masked()
	if prefix.Bits() > 30 {
		return nil, fmt.Errorf("mesh subnet %s is too small", prefix)
	}
	p := &Pool{prefix: prefix}
	p.last = p.MasterAddr()
	return p, nil
}

func (p *Pool) Prefix() netip.Prefix {
	return p.prefix
}

// MasterAddr is the reserved first host address of the subnet.
func (p *Pool) MasterAddr() netip.Addr {
	return p.prefix.Addr().Next()
}

// Contains reports whether ip is a usable host address of the subnet.
func (p *Pool) Contains(ip netip.Addr) bool {
	return p.prefix.Contains(ip) && !p.isReservedIP(ip)
}

// Reserve marks ip as held, typically when restoring a persisted registry.
func (p *Pool) Reserve(ip netip.Addr) error {
	if !p.Contains(ip) {
		return fmt.Errorf("address %s outside usable range of %s", ip, p.prefix)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated.Add(ip)
	return nil
}

// Allocate returns the next free slave address.
func (p *Pool) Allocate() (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ipset, err := p.allocated.IPSet()
	if err != nil {
		return netip.Addr{}, err
	}

	next := p.last.Next()
	for ipset.Contains(next) {
		next = next.Next()
	}

	if !next.IsValid() || !p.prefix.Contains(next) || p.isReservedIP(next) {
		return netip.Addr{}, ErrNoAvailableIps
	}

	p.last = next
	p.allocated.Add(next)
	return next, nil
}

// Release returns ip to the pool. Releasing the most recent allocation
// steps the cursor back so the address is handed out again next.
func (p *Pool) Release(ip netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.allocated.Remove(ip)
	if ip == p.last {
		p.last = ip.Prev()
	}
}

func (p *Pool) isReservedIP(ip netip.Addr) bool {
	if ip == p.prefix.Addr() {
		return true
	}
	return ip == netipx.PrefixLastIP(p.prefix)
}
