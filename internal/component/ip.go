// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package component

import (
	"context"
	"net/netip"
	"sync"

	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/verdict"
)

// IP screens clients against static allow and deny lists. Entries may
// be exact addresses or CIDR prefixes; the deny list wins over the
// allow list when both match.
type IP struct {
	strict bool

	mu          sync.RWMutex
	allowAddrs  map[netip.Addr]struct{}
	denyAddrs   map[netip.Addr]struct{}
	allowPrefix []netip.Prefix
	denyPrefix  []netip.Prefix
}

// NewIP creates an empty IP component. Strict mode denies requests
// whose address cannot be parsed at all.
func NewIP(strict bool) *IP {
	return &IP{
		strict:     strict,
		allowAddrs: make(map[netip.Addr]struct{}),
		denyAddrs:  make(map[netip.Addr]struct{}),
	}
}

func (c *IP) Name() string { return "ip" }

// Allow adds an address or CIDR prefix to the allow list.
func (c *IP) Allow(entry string) error {
	return c.add(entry, true)
}

// Deny adds an address or CIDR prefix to the deny list.
func (c *IP) Deny(entry string) error {
	return c.add(entry, false)
}

func (c *IP) add(entry string, allow bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, err := netip.ParsePrefix(entry); err == nil {
		if allow {
			c.allowPrefix = append(c.allowPrefix, p)
		} else {
			c.denyPrefix = append(c.denyPrefix, p)
		}
		return nil
	}

	a, err := netip.ParseAddr(entry)
	if err != nil {
		return err
	}
	if allow {
		c.allowAddrs[a] = struct{}{}
	} else {
		c.denyAddrs[a] = struct{}{}
	}
	return nil
}

func (c *IP) Check(_ context.Context, req *request.Context) Result {
	addr, err := netip.ParseAddr(req.IP)
	if err != nil {
		if c.strict {
			return Result{Signal: SignalDeny, Reason: verdict.ReasonInvalidIP}
		}
		return neutral
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.match(addr, c.denyAddrs, c.denyPrefix) {
		return Result{Signal: SignalDeny, Reason: verdict.ReasonDenyIP}
	}
	if c.match(addr, c.allowAddrs, c.allowPrefix) {
		return Result{Signal: SignalAllow, Reason: verdict.ReasonAllowIP}
	}
	return neutral
}

func (c *IP) match(addr netip.Addr, addrs map[netip.Addr]struct{}, prefixes []netip.Prefix) bool {
	if _, ok := addrs[addr]; ok {
		return true
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
