// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/clock"
	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/store/memory"
	"grimm.is/doorman/internal/verdict"
)

const ch = "filtertest"

func newSuite(t *testing.T, mutate func(*config.Config)) (*Suite, store.Driver) {
	t.Helper()
	cfg := config.DefaultConfig()
	// Only the filter under test runs unless the test says otherwise.
	cfg.Filters = config.FilterToggles{}
	if mutate != nil {
		mutate(cfg)
	}
	d := memory.New()
	t.Cleanup(func() {
		d.Close()
		clock.Reset()
	})
	return New(cfg, nil), d
}

func at(sec int64) {
	clock.SetFixed(time.Unix(sec, 0))
}

func TestFrequencyQuotaScenario(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Frequency = true
		c.TimeUnitQuota = config.QuotaConfig{Second: 2, Minute: 20, Hour: 60, Day: 240}
	})
	req := &request.Context{IP: "1.2.3.4"}

	at(1000)
	want := []verdict.Verdict{
		verdict.Allow, verdict.Allow,
		verdict.TemporarilyDeny, verdict.TemporarilyDeny, verdict.TemporarilyDeny,
	}
	for i, w := range want {
		res, err := s.Check(context.Background(), d, ch, req)
		require.NoError(t, err)
		assert.Equal(t, w, res.Verdict, "request %d", i+1)
		if w == verdict.TemporarilyDeny {
			assert.Equal(t, verdict.ReasonReachedLimitSecond, res.Reason)
		}
	}
}

func TestFrequencyWindowRollover(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Frequency = true
		c.TimeUnitQuota = config.QuotaConfig{Second: 2, Minute: 1000, Hour: 1000, Day: 1000}
	})
	req := &request.Context{IP: "1.2.3.4"}

	at(1000)
	for i := 0; i < 3; i++ {
		_, err := s.Check(context.Background(), d, ch, req)
		require.NoError(t, err)
	}
	rec, err := d.FilterRecord(context.Background(), ch, req.IP)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Pageviews[store.UnitSecond].Count)

	// The second window rolls; the minute window does not.
	at(1002)
	res, err := s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)
	assert.Equal(t, verdict.Allow, res.Verdict)

	rec, err = d.FilterRecord(context.Background(), ch, req.IP)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Pageviews[store.UnitSecond].Count)
	assert.Equal(t, int64(1002), rec.Pageviews[store.UnitSecond].WindowStart)
	assert.Equal(t, int64(4), rec.Pageviews[store.UnitMinute].Count)
	assert.Equal(t, int64(1000), rec.Pageviews[store.UnitMinute].WindowStart)
}

func TestRefererFilterLimit(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Referer = true
		c.LimitUnusualBehavior.Referer = 3
		c.IntervalCheckReferer = 5
	})
	req := &request.Context{IP: "1.2.3.4"} // never sends a referer

	// First sight only records the check time.
	at(1000)
	res, err := s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)
	assert.Equal(t, verdict.Allow, res.Verdict)

	// Each spaced-out empty-referer request scores one point; the
	// fourth crosses the limit of 3.
	ts := int64(1010)
	for i := 0; i < 3; i++ {
		at(ts)
		res, err = s.Check(context.Background(), d, ch, req)
		require.NoError(t, err)
		assert.Equal(t, verdict.Allow, res.Verdict, "score %d is within the limit", i+1)
		ts += 10
	}

	at(ts)
	res, err = s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)
	assert.Equal(t, verdict.TemporarilyDeny, res.Verdict)
	assert.Equal(t, verdict.ReasonEmptyReferer, res.Reason)
}

func TestRefererCheckIntervalGate(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Referer = true
		c.IntervalCheckReferer = 5
	})
	req := &request.Context{IP: "1.2.3.4"}

	at(1000)
	_, err := s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)

	// Within the interval nothing is scored.
	at(1002)
	_, err = s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)

	rec, err := d.FilterRecord(context.Background(), ch, req.IP)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Score)
	assert.False(t, rec.FlagEmptyReferer)
}

func TestRefererFlagForgiveness(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Referer = true
		c.IntervalCheckReferer = 5
		c.TimeResetLimit = 3600
	})
	bare := &request.Context{IP: "1.2.3.4"}
	polite := &request.Context{IP: "1.2.3.4", Referer: "https://example.com/"}

	at(1000)
	_, err := s.Check(context.Background(), d, ch, bare)
	require.NoError(t, err)
	at(1010)
	_, err = s.Check(context.Background(), d, ch, bare)
	require.NoError(t, err)

	rec, err := d.FilterRecord(context.Background(), ch, bare.IP)
	require.NoError(t, err)
	require.True(t, rec.FlagEmptyReferer)

	// A referer within the reset window does not clear the flag.
	at(1020)
	_, err = s.Check(context.Background(), d, ch, polite)
	require.NoError(t, err)
	rec, err = d.FilterRecord(context.Background(), ch, bare.IP)
	require.NoError(t, err)
	assert.True(t, rec.FlagEmptyReferer)

	// After the reset window a supplied referer forgives it.
	at(1010 + 3601)
	_, err = s.Check(context.Background(), d, ch, polite)
	require.NoError(t, err)
	rec, err = d.FilterRecord(context.Background(), ch, bare.IP)
	require.NoError(t, err)
	assert.False(t, rec.FlagEmptyReferer)
}

func TestCookieChallengeRoundTrip(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Cookie = true
		c.LimitUnusualBehavior.Cookie = 2
	})

	at(1000)
	res, err := s.Check(context.Background(), d, ch, &request.Context{IP: "1.2.3.4"})
	require.NoError(t, err)
	require.NotEmpty(t, res.IssuedCookie, "first visit issues the challenge")
	marker := res.IssuedCookie

	// Returning the marker passes and issues nothing new.
	at(1001)
	res, err = s.Check(context.Background(), d, ch, &request.Context{
		IP:      "1.2.3.4",
		Cookies: map[string]string{"ddd": marker},
	})
	require.NoError(t, err)
	assert.Equal(t, verdict.Allow, res.Verdict)
	assert.Empty(t, res.IssuedCookie)
}

func TestCookieMismatchEscalates(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Cookie = true
		c.LimitUnusualBehavior.Cookie = 2
	})
	req := &request.Context{IP: "1.2.3.4"} // ignores the challenge

	at(1000)
	_, err := s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)

	// Scores 1 and 2 stay under the limit, 3 crosses it.
	for i, want := range []verdict.Verdict{verdict.Allow, verdict.Allow, verdict.TemporarilyDeny} {
		at(int64(1001 + i))
		res, err := s.Check(context.Background(), d, ch, req)
		require.NoError(t, err)
		assert.Equal(t, want, res.Verdict, "visit %d after challenge", i+2)
		if want == verdict.TemporarilyDeny {
			assert.Equal(t, verdict.ReasonEmptyCookie, res.Reason)
		}
	}
}

func TestSessionContinuity(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Session = true
		c.IntervalCheckSession = 30
		c.LimitUnusualBehavior.Session = 2
	})

	// Same session throughout never scores.
	at(1000)
	for i := 0; i < 5; i++ {
		res, err := s.Check(context.Background(), d, ch, &request.Context{IP: "1.2.3.4", SessionID: "stable"})
		require.NoError(t, err)
		assert.Equal(t, verdict.Allow, res.Verdict)
	}
	rec, err := d.FilterRecord(context.Background(), ch, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Score)

	// Rapid-fire session changes score; the third crossing denies.
	ids := []string{"a", "b", "c"}
	for i, id := range ids {
		at(int64(2000 + i))
		res, err := s.Check(context.Background(), d, ch, &request.Context{IP: "5.6.7.8", SessionID: id})
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, verdict.Allow, res.Verdict, "first sight is free")
		}
		_ = res
	}
	at(2003)
	res, err := s.Check(context.Background(), d, ch, &request.Context{IP: "5.6.7.8", SessionID: "d"})
	require.NoError(t, err)
	assert.Equal(t, verdict.TemporarilyDeny, res.Verdict)
	assert.Equal(t, verdict.ReasonTooManySessions, res.Reason)
}

func TestSessionSlowChangeIsFine(t *testing.T) {
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Session = true
		c.IntervalCheckSession = 30
	})

	at(1000)
	_, err := s.Check(context.Background(), d, ch, &request.Context{IP: "1.2.3.4", SessionID: "a"})
	require.NoError(t, err)

	at(1100)
	res, err := s.Check(context.Background(), d, ch, &request.Context{IP: "1.2.3.4", SessionID: "b"})
	require.NoError(t, err)
	assert.Equal(t, verdict.Allow, res.Verdict)

	rec, err := d.FilterRecord(context.Background(), ch, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Score)
	assert.False(t, rec.FlagMultiSession)
}

func TestSharedScoreAcrossFilters(t *testing.T) {
	// Cookie and referer misbehavior feed the same tally, so a limit
	// can be crossed by their combined weight.
	s, d := newSuite(t, func(c *config.Config) {
		c.Filters.Cookie = true
		c.Filters.Referer = true
		c.IntervalCheckReferer = 5
		c.LimitUnusualBehavior = config.BehaviorLimits{Cookie: 3, Referer: 3, Session: 3}
	})
	req := &request.Context{IP: "1.2.3.4"} // no cookie, no referer

	at(1000)
	_, err := s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)

	at(1010)
	_, err = s.Check(context.Background(), d, ch, req)
	require.NoError(t, err)

	rec, err := d.FilterRecord(context.Background(), ch, req.IP)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Score, "cookie and referer each scored once")
	assert.True(t, rec.FlagEmptyCookie)
	assert.True(t, rec.FlagEmptyReferer)
}
