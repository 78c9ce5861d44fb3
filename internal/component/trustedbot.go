// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package component

import (
	"context"
	"strings"

	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/verdict"
)

// crawlerProfile pairs a user-agent marker with the reverse-DNS
// domains the real crawler operates from.
type crawlerProfile struct {
	agent   string
	domains []string
}

var knownCrawlers = []crawlerProfile{
	{agent: "googlebot", domains: []string{"googlebot.com", "google.com"}},
	{agent: "bingbot", domains: []string{"search.msn.com"}},
	{agent: "msnbot", domains: []string{"search.msn.com"}},
	{agent: "slurp", domains: []string{"crawl.yahoo.net"}},
	{agent: "duckduckbot", domains: []string{"duckduckgo.com"}},
	{agent: "yandex", domains: []string{"yandex.ru", "yandex.net", "yandex.com"}},
	{agent: "applebot", domains: []string{"applebot.apple.com"}},
}

// TrustedBot verifies crawler claims. A user agent naming a known
// crawler is checked against reverse DNS and forward-confirmed; a
// verified crawler is admitted past every other check. Strict mode
// denies impostors outright.
type TrustedBot struct {
	strict   bool
	resolver Resolver
	logger   *logging.Logger
}

// NewTrustedBot creates the component.
func NewTrustedBot(strict bool, resolver Resolver, logger *logging.Logger) *TrustedBot {
	if logger == nil {
		logger = logging.Default().WithComponent("trusted_bot")
	}
	return &TrustedBot{strict: strict, resolver: resolver, logger: logger}
}

func (c *TrustedBot) Name() string { return "trusted_bot" }

func (c *TrustedBot) Check(ctx context.Context, req *request.Context) Result {
	profile := c.claimedCrawler(req.UserAgent)
	if profile == nil {
		return neutral
	}

	verified, err := c.verify(ctx, req.IP, profile)
	if err != nil {
		c.logger.Warn("crawler verification lookup failed", "ip", req.IP, "error", err)
		// An unreachable resolver proves nothing either way.
		return neutral
	}

	if verified {
		return Result{Signal: SignalAllow, Reason: verdict.ReasonComponentTrustedBot}
	}
	if c.strict {
		// Claims to be a crawler but resolves elsewhere.
		return Result{Signal: SignalDeny, Reason: verdict.ReasonComponentTrustedBot}
	}
	return neutral
}

func (c *TrustedBot) claimedCrawler(ua string) *crawlerProfile {
	ua = strings.ToLower(ua)
	for i := range knownCrawlers {
		if strings.Contains(ua, knownCrawlers[i].agent) {
			return &knownCrawlers[i]
		}
	}
	return nil
}

// verify checks that the IP's reverse name belongs to the crawler's
// domain and that the name resolves back to the IP.
func (c *TrustedBot) verify(ctx context.Context, ip string, profile *crawlerProfile) (bool, error) {
	names, err := c.resolver.LookupAddr(ctx, ip)
	if err != nil {
		return false, err
	}

	for _, name := range names {
		if !domainMatches(name, profile.domains) {
			continue
		}
		addrs, err := c.resolver.LookupHost(ctx, name)
		if err != nil {
			return false, err
		}
		for _, a := range addrs {
			if a == ip {
				return true, nil
			}
		}
	}
	return false, nil
}

func domainMatches(name string, domains []string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	for _, d := range domains {
		if name == d || strings.HasSuffix(name, "."+d) {
			return true
		}
	}
	return false
}
