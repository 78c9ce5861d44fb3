// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package component

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"grimm.is/doorman/internal/errors"
)

// Resolver answers the two lookups the crawler checks need. Tests
// substitute a fixture; production uses the system's configured
// nameservers.
type Resolver interface {
	// LookupAddr returns the PTR names for an address, without
	// trailing dots.
	LookupAddr(ctx context.Context, ip string) ([]string, error)
	// LookupHost returns the textual A and AAAA addresses for a name.
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// dnsResolver queries the nameservers from resolv.conf directly.
type dnsResolver struct {
	client  *dns.Client
	servers []string
}

// NewResolver builds a resolver over the system's nameservers.
func NewResolver() (Resolver, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "failed to read resolv.conf")
	}
	if len(conf.Servers) == 0 {
		return nil, errors.New(errors.KindConfiguration, "no nameservers configured")
	}

	servers := make([]string, len(conf.Servers))
	for i, s := range conf.Servers {
		servers[i] = net.JoinHostPort(s, conf.Port)
	}
	return &dnsResolver{
		client:  &dns.Client{Timeout: 3 * time.Second},
		servers: servers,
	}, nil
}

func (r *dnsResolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, errors.Wrap(lastErr, errors.KindUnavailable, "dns query failed")
}

func (r *dnsResolver) LookupAddr(ctx context.Context, ip string) ([]string, error) {
	ptrZone, err := dns.ReverseAddr(ip)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "invalid address for reverse lookup")
	}

	resp, err := r.query(ctx, ptrZone, dns.TypePTR)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, strings.TrimSuffix(ptr.Ptr, "."))
		}
	}
	return names, nil
}

func (r *dnsResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	fqdn := dns.Fqdn(host)

	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := r.query(ctx, fqdn, qtype)
		if err != nil {
			return nil, err
		}
		for _, rr := range resp.Answer {
			switch a := rr.(type) {
			case *dns.A:
				addrs = append(addrs, a.A.String())
			case *dns.AAAA:
				addrs = append(addrs, a.AAAA.String())
			}
		}
	}
	return addrs, nil
}
