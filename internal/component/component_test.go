// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package component

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/verdict"
)

// stubResolver serves fixed PTR and forward records.
type stubResolver struct {
	ptr     map[string][]string
	forward map[string][]string
	err     error
}

func (s *stubResolver) LookupAddr(_ context.Context, ip string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ptr[ip], nil
}

func (s *stubResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.forward[host], nil
}

func TestIPListsAndCIDR(t *testing.T) {
	c := NewIP(false)
	require.NoError(t, c.Deny("8.8.4.4"))
	require.NoError(t, c.Deny("10.0.0.0/8"))
	require.NoError(t, c.Allow("192.168.1.0/24"))

	got := c.Check(context.Background(), &request.Context{IP: "8.8.4.4"})
	assert.Equal(t, SignalDeny, got.Signal)
	assert.Equal(t, verdict.ReasonDenyIP, got.Reason)

	got = c.Check(context.Background(), &request.Context{IP: "10.99.1.2"})
	assert.Equal(t, SignalDeny, got.Signal)

	got = c.Check(context.Background(), &request.Context{IP: "192.168.1.77"})
	assert.Equal(t, SignalAllow, got.Signal)
	assert.Equal(t, verdict.ReasonAllowIP, got.Reason)

	got = c.Check(context.Background(), &request.Context{IP: "1.2.3.4"})
	assert.Equal(t, SignalNeutral, got.Signal)
}

func TestIPDenyWinsOverAllow(t *testing.T) {
	c := NewIP(false)
	require.NoError(t, c.Allow("10.0.0.0/8"))
	require.NoError(t, c.Deny("10.5.0.1"))

	got := c.Check(context.Background(), &request.Context{IP: "10.5.0.1"})
	assert.Equal(t, SignalDeny, got.Signal)
}

func TestIPStrictInvalidAddress(t *testing.T) {
	lax := NewIP(false)
	strict := NewIP(true)
	req := &request.Context{IP: "not-an-ip"}

	assert.Equal(t, SignalNeutral, lax.Check(context.Background(), req).Signal)
	got := strict.Check(context.Background(), req)
	assert.Equal(t, SignalDeny, got.Signal)
	assert.Equal(t, verdict.ReasonInvalidIP, got.Reason)
}

func TestUserAgentDenylist(t *testing.T) {
	c := NewUserAgent(false)

	got := c.Check(context.Background(), &request.Context{UserAgent: "python-requests/2.31"})
	assert.Equal(t, SignalDeny, got.Signal)
	assert.Equal(t, verdict.ReasonComponentUserAgent, got.Reason)

	got = c.Check(context.Background(), &request.Context{UserAgent: "Mozilla/5.0 (X11; Linux)"})
	assert.Equal(t, SignalNeutral, got.Signal)

	c.Deny("badbot")
	got = c.Check(context.Background(), &request.Context{UserAgent: "BadBot/1.0"})
	assert.Equal(t, SignalDeny, got.Signal)
}

func TestUserAgentStrictEmpty(t *testing.T) {
	assert.Equal(t, SignalNeutral,
		NewUserAgent(false).Check(context.Background(), &request.Context{}).Signal)
	assert.Equal(t, SignalDeny,
		NewUserAgent(true).Check(context.Background(), &request.Context{}).Signal)
}

func TestHeaderStrictCompleteness(t *testing.T) {
	strict := NewHeader(true)

	// No browser headers at all.
	got := strict.Check(context.Background(), &request.Context{Headers: map[string]string{}})
	assert.Equal(t, SignalDeny, got.Signal)
	assert.Equal(t, verdict.ReasonComponentHeader, got.Reason)

	// One common header is enough.
	got = strict.Check(context.Background(), &request.Context{
		Headers: map[string]string{"Accept-Language": "en"},
	})
	assert.Equal(t, SignalNeutral, got.Signal)

	// Non-strict never denies.
	lax := NewHeader(false)
	got = lax.Check(context.Background(), &request.Context{Headers: map[string]string{}})
	assert.Equal(t, SignalNeutral, got.Signal)
}

func TestTrustedBotVerifiedCrawler(t *testing.T) {
	r := &stubResolver{
		ptr:     map[string][]string{"66.249.66.1": {"crawl-66-249-66-1.googlebot.com"}},
		forward: map[string][]string{"crawl-66-249-66-1.googlebot.com": {"66.249.66.1"}},
	}
	c := NewTrustedBot(false, r, nil)

	got := c.Check(context.Background(), &request.Context{
		IP:        "66.249.66.1",
		UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)",
	})
	assert.Equal(t, SignalAllow, got.Signal)
	assert.Equal(t, verdict.ReasonComponentTrustedBot, got.Reason)
}

func TestTrustedBotImpostor(t *testing.T) {
	r := &stubResolver{
		ptr:     map[string][]string{"5.5.5.5": {"vps.example.net"}},
		forward: map[string][]string{"vps.example.net": {"5.5.5.5"}},
	}
	req := &request.Context{IP: "5.5.5.5", UserAgent: "Googlebot/2.1"}

	// Non-strict lets the behavioral filters handle it.
	assert.Equal(t, SignalNeutral, NewTrustedBot(false, r, nil).Check(context.Background(), req).Signal)

	// Strict denies the impostor outright.
	got := NewTrustedBot(true, r, nil).Check(context.Background(), req)
	assert.Equal(t, SignalDeny, got.Signal)
}

func TestTrustedBotForwardMismatch(t *testing.T) {
	// PTR looks right but the name resolves to a different address.
	r := &stubResolver{
		ptr:     map[string][]string{"5.5.5.5": {"crawl.googlebot.com"}},
		forward: map[string][]string{"crawl.googlebot.com": {"66.249.66.1"}},
	}
	got := NewTrustedBot(true, r, nil).Check(context.Background(), &request.Context{
		IP: "5.5.5.5", UserAgent: "googlebot",
	})
	assert.Equal(t, SignalDeny, got.Signal)
}

func TestTrustedBotNonCrawlerNeutral(t *testing.T) {
	c := NewTrustedBot(true, &stubResolver{}, nil)
	got := c.Check(context.Background(), &request.Context{IP: "1.2.3.4", UserAgent: "Mozilla/5.0"})
	assert.Equal(t, SignalNeutral, got.Signal)
}

func TestRDNSDenyPattern(t *testing.T) {
	r := &stubResolver{ptr: map[string][]string{"9.9.9.9": {"spider-9.crawl.example.com"}}}
	c := NewRDNS(false, r, nil)
	require.NoError(t, c.Deny(`\.crawl\.`))

	got := c.Check(context.Background(), &request.Context{IP: "9.9.9.9"})
	assert.Equal(t, SignalDeny, got.Signal)
	assert.Equal(t, verdict.ReasonComponentRDNS, got.Reason)
}

func TestRDNSStrictNoReverseRecord(t *testing.T) {
	r := &stubResolver{ptr: map[string][]string{}}
	req := &request.Context{IP: "9.9.9.9"}

	assert.Equal(t, SignalNeutral, NewRDNS(false, r, nil).Check(context.Background(), req).Signal)
	assert.Equal(t, SignalDeny, NewRDNS(true, r, nil).Check(context.Background(), req).Signal)
}
