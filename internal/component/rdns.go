// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package component

import (
	"context"
	"regexp"
	"sync"

	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/verdict"
)

// RDNS screens the client's reverse name against deny patterns. Strict
// mode denies clients with no reverse record at all.
type RDNS struct {
	strict   bool
	resolver Resolver
	logger   *logging.Logger

	mu     sync.RWMutex
	denied []*regexp.Regexp
}

// NewRDNS creates the component.
func NewRDNS(strict bool, resolver Resolver, logger *logging.Logger) *RDNS {
	if logger == nil {
		logger = logging.Default().WithComponent("rdns")
	}
	return &RDNS{strict: strict, resolver: resolver, logger: logger}
}

func (c *RDNS) Name() string { return "rdns" }

// Deny adds a pattern matched against the client's reverse names.
func (c *RDNS) Deny(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = append(c.denied, re)
	return nil
}

func (c *RDNS) Check(ctx context.Context, req *request.Context) Result {
	names, err := c.resolver.LookupAddr(ctx, req.IP)
	if err != nil {
		c.logger.Warn("reverse lookup failed", "ip", req.IP, "error", err)
		return neutral
	}

	if len(names) == 0 {
		if c.strict {
			return Result{Signal: SignalDeny, Reason: verdict.ReasonComponentRDNS}
		}
		return neutral
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		for _, re := range c.denied {
			if re.MatchString(name) {
				return Result{Signal: SignalDeny, Reason: verdict.ReasonComponentRDNS}
			}
		}
	}
	return neutral
}
