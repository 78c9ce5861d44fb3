// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/clock"
	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/store/memory"
	"grimm.is/doorman/internal/verdict"
)

const ch = "fwtest"

func newEngine(t *testing.T, cfg config.DenyAttemptConfig) (*Engine, store.Driver) {
	t.Helper()
	d := memory.New()
	t.Cleanup(func() {
		d.Close()
		clock.Reset()
	})
	return New(cfg, nil, nil), d
}

func TestBanAndUnban(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{ResetSeconds: 3600})
	clock.SetFixed(time.Unix(1000, 0))
	ctx := context.Background()

	m, err := e.CheckRules(ctx, d, ch, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, m.Matched)

	require.NoError(t, e.Ban(ctx, d, ch, "1.2.3.4", verdict.ReasonManualBan))
	m, err = e.CheckRules(ctx, d, ch, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, m.Matched)
	assert.Equal(t, store.ScopeDeny, m.Scope)
	assert.Equal(t, verdict.ReasonManualBan, m.Reason)

	require.NoError(t, e.Unban(ctx, d, ch, "1.2.3.4"))
	m, err = e.CheckRules(ctx, d, ch, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, m.Matched)
}

func TestUnbanClearsResidualState(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{ResetSeconds: 3600})
	clock.SetFixed(time.Unix(1000, 0))
	ctx := context.Background()

	require.NoError(t, d.SaveFilterRecord(ctx, ch, store.NewFilterRecord("1.2.3.4", 1000)))
	require.NoError(t, d.SaveAttemptRecord(ctx, ch, &store.AttemptRecord{
		IP: "1.2.3.4", Category: CategoryDataCircle, Count: 5, WindowStart: 1000,
	}))
	require.NoError(t, e.Ban(ctx, d, ch, "1.2.3.4", verdict.ReasonManualBan))

	require.NoError(t, e.Unban(ctx, d, ch, "1.2.3.4"))

	_, err := d.FilterRecord(ctx, ch, "1.2.3.4")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = d.AttemptRecord(ctx, ch, "1.2.3.4", CategoryDataCircle)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCIDRRuleMatch(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{ResetSeconds: 3600})
	clock.SetFixed(time.Unix(1000, 0))
	ctx := context.Background()

	require.NoError(t, e.Ban(ctx, d, ch, "10.0.0.0/8", verdict.ReasonManualBan))

	m, err := e.CheckRules(ctx, d, ch, "10.20.30.40")
	require.NoError(t, err)
	assert.True(t, m.Matched)
	assert.Equal(t, store.ScopeDeny, m.Scope)

	m, err = e.CheckRules(ctx, d, ch, "11.0.0.1")
	require.NoError(t, err)
	assert.False(t, m.Matched)
}

func TestAllowEntryWins(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{ResetSeconds: 3600})
	clock.SetFixed(time.Unix(1000, 0))
	ctx := context.Background()

	require.NoError(t, e.Allow(ctx, d, ch, "192.168.0.0/16", verdict.ReasonAllowIP))
	m, err := e.CheckRules(ctx, d, ch, "192.168.7.7")
	require.NoError(t, err)
	require.True(t, m.Matched)
	assert.Equal(t, store.ScopeAllow, m.Scope)
}

func TestEscalationTripsAfterBuffer(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{
		DataCircle:   config.CategoryConfig{Enable: true, Buffer: 2},
		ResetSeconds: 3600,
	})
	clock.SetFixed(time.Unix(1000, 0))
	ctx := context.Background()

	// Buffer 2: the third consecutive temporary denial trips.
	want := []verdict.Verdict{verdict.TemporarilyDeny, verdict.TemporarilyDeny, verdict.Deny}
	for i, w := range want {
		got, err := e.Escalate(ctx, d, ch, "1.2.3.4", verdict.ReasonTooManyAccesses)
		require.NoError(t, err)
		assert.Equal(t, w, got, "denial %d", i+1)
	}

	// The trip leaves an expiring deny entry behind.
	m, err := e.CheckRules(ctx, d, ch, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, m.Matched)
	assert.Equal(t, store.ScopeDeny, m.Scope)

	// The ban lapses after the reset window.
	clock.SetFixed(time.Unix(1000+3601, 0))
	m, err = e.CheckRules(ctx, d, ch, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, m.Matched)
}

func TestEscalationIPv6(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{
		DataCircle:   config.CategoryConfig{Enable: true, Buffer: 2},
		ResetSeconds: 3600,
	})
	clock.SetFixed(time.Unix(1000, 0))
	ctx := context.Background()

	const ip = "0:0:0:0:0:ffff:c0a8:5f01"
	want := []verdict.Verdict{verdict.TemporarilyDeny, verdict.TemporarilyDeny, verdict.Deny}
	for _, w := range want {
		got, err := e.Escalate(ctx, d, ch, ip, verdict.ReasonTooManyAccesses)
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
}

func TestEscalationResetClock(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{
		DataCircle:   config.CategoryConfig{Enable: true, Buffer: 2},
		ResetSeconds: 100,
	})
	ctx := context.Background()

	clock.SetFixed(time.Unix(1000, 0))
	for i := 0; i < 2; i++ {
		got, err := e.Escalate(ctx, d, ch, "1.2.3.4", verdict.ReasonTooManyAccesses)
		require.NoError(t, err)
		require.Equal(t, verdict.TemporarilyDeny, got)
	}

	// Quiet past the reset window zeroes the tally; the next denial
	// starts a fresh count instead of tripping.
	clock.SetFixed(time.Unix(1101, 0))
	got, err := e.Escalate(ctx, d, ch, "1.2.3.4", verdict.ReasonTooManyAccesses)
	require.NoError(t, err)
	assert.Equal(t, verdict.TemporarilyDeny, got)

	rec, err := d.AttemptRecord(ctx, ch, "1.2.3.4", CategoryDataCircle)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Count)
}

func TestCategoriesTripIndependently(t *testing.T) {
	e, d := newEngine(t, config.DenyAttemptConfig{
		DataCircle:     config.CategoryConfig{Enable: true, Buffer: 5},
		SystemFirewall: config.CategoryConfig{Enable: true, Buffer: 2},
		ResetSeconds:   3600,
	})
	clock.SetFixed(time.Unix(1000, 0))
	ctx := context.Background()

	// The tighter system_firewall buffer trips first.
	var got verdict.Verdict
	var err error
	for i := 0; i < 3; i++ {
		got, err = e.Escalate(ctx, d, ch, "1.2.3.4", verdict.ReasonTooManyAccesses)
		require.NoError(t, err)
	}
	assert.Equal(t, verdict.Deny, got)

	dc, err := d.AttemptRecord(ctx, ch, "1.2.3.4", CategoryDataCircle)
	require.NoError(t, err)
	assert.Equal(t, int64(3), dc.Count, "data_circle keeps counting")

	sf, err := d.AttemptRecord(ctx, ch, "1.2.3.4", CategorySystemFirewall)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sf.Count, "system_firewall reset after tripping")
}
