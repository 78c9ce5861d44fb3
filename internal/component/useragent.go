// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package component

import (
	"context"
	"strings"
	"sync"

	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/verdict"
)

// defaultDeniedAgents are substrings of user agents commonly used by
// scrapers and bulk downloaders.
var defaultDeniedAgents = []string{
	"aggregator",
	"ahrefsbot",
	"curl/",
	"harvest",
	"mj12bot",
	"python-requests",
	"scraper",
	"semrushbot",
	"wget",
}

// UserAgent denies requests whose agent string matches a denylist
// substring. Strict mode additionally denies an empty agent string.
type UserAgent struct {
	strict bool

	mu     sync.RWMutex
	denied []string
}

// NewUserAgent creates the component with the default denylist.
func NewUserAgent(strict bool) *UserAgent {
	denied := make([]string, len(defaultDeniedAgents))
	copy(denied, defaultDeniedAgents)
	return &UserAgent{strict: strict, denied: denied}
}

func (c *UserAgent) Name() string { return "user_agent" }

// Deny adds a lowercase substring to the denylist.
func (c *UserAgent) Deny(substr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = append(c.denied, strings.ToLower(substr))
}

// SetDenied replaces the denylist.
func (c *UserAgent) SetDenied(substrs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = c.denied[:0]
	for _, s := range substrs {
		c.denied = append(c.denied, strings.ToLower(s))
	}
}

func (c *UserAgent) Check(_ context.Context, req *request.Context) Result {
	ua := strings.ToLower(req.UserAgent)
	if ua == "" {
		if c.strict {
			return Result{Signal: SignalDeny, Reason: verdict.ReasonComponentUserAgent}
		}
		return neutral
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, bad := range c.denied {
		if strings.Contains(ua, bad) {
			return Result{Signal: SignalDeny, Reason: verdict.ReasonComponentUserAgent}
		}
	}
	return neutral
}
