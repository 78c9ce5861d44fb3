// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package storetest is the shared conformance suite for storage drivers.
// Every backend must pass it unchanged; observable semantics may not
// differ between drivers.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/store"
)

// Factory opens a fresh, empty driver for one test. Cleanup should be
// registered on t.
type Factory func(t *testing.T) store.Driver

// Run exercises the full driver contract.
func Run(t *testing.T, open Factory) {
	t.Run("FilterRecords", func(t *testing.T) { testFilterRecords(t, open) })
	t.Run("FilterIPv6Verbatim", func(t *testing.T) { testFilterIPv6(t, open) })
	t.Run("IncrementAtomic", func(t *testing.T) { testIncrementAtomic(t, open) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open) })
	t.Run("SessionOrder", func(t *testing.T) { testSessionOrder(t, open) })
	t.Run("Rules", func(t *testing.T) { testRules(t, open) })
	t.Run("Attempts", func(t *testing.T) { testAttempts(t, open) })
	t.Run("ChannelIsolation", func(t *testing.T) { testChannelIsolation(t, open) })
	t.Run("Rebuild", func(t *testing.T) { testRebuild(t, open) })
}

const ch = "storetest"

func testFilterRecords(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	_, err := d.FilterRecord(ctx, ch, "1.2.3.4")
	require.ErrorIs(t, err, store.ErrNotFound)

	rec := store.NewFilterRecord("1.2.3.4", 1000)
	rec.Pageviews[store.UnitSecond] = store.WindowCounter{Count: 3, WindowStart: 1000}
	rec.FlagEmptyReferer = true
	rec.Score = 2
	rec.CookieMarker = "marker-1"
	require.NoError(t, d.SaveFilterRecord(ctx, ch, rec))

	got, err := d.FilterRecord(ctx, ch, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", got.IP)
	assert.Equal(t, int64(3), got.Pageviews[store.UnitSecond].Count)
	assert.Equal(t, int64(1000), got.Pageviews[store.UnitSecond].WindowStart)
	assert.True(t, got.FlagEmptyReferer)
	assert.False(t, got.FlagEmptyCookie)
	assert.Equal(t, int64(2), got.Score)
	assert.Equal(t, "marker-1", got.CookieMarker)

	// Saving again overwrites.
	got.FlagEmptyReferer = false
	got.Score = 0
	require.NoError(t, d.SaveFilterRecord(ctx, ch, got))
	got2, err := d.FilterRecord(ctx, ch, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, got2.FlagEmptyReferer)
	assert.Equal(t, int64(0), got2.Score)

	require.NoError(t, d.DeleteFilterRecord(ctx, ch, "1.2.3.4"))
	_, err = d.FilterRecord(ctx, ch, "1.2.3.4")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting an absent record is not an error.
	assert.NoError(t, d.DeleteFilterRecord(ctx, ch, "1.2.3.4"))
}

func testFilterIPv6(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	// The non-canonical spelling must survive storage untouched.
	const ip = "0:0:0:0:0:ffff:c0a8:5f01"
	require.NoError(t, d.SaveFilterRecord(ctx, ch, store.NewFilterRecord(ip, 1)))

	got, err := d.FilterRecord(ctx, ch, ip)
	require.NoError(t, err)
	assert.Equal(t, ip, got.IP)
}

func testIncrementAtomic(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	require.NoError(t, d.SaveFilterRecord(ctx, ch, store.NewFilterRecord("9.9.9.9", 1)))

	_, err := d.Increment(ctx, ch, "absent", "pageviews_s", 1)
	assert.Error(t, err)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := d.Increment(ctx, ch, "9.9.9.9", "pageviews_s", 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := d.FilterRecord(ctx, ch, "9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), got.Pageviews[store.UnitSecond].Count,
		"concurrent increments must not be lost")

	n, err := d.Increment(ctx, ch, "9.9.9.9", "score", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func testSessions(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	_, err := d.SessionRecord(ctx, ch, "sess-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	recs := []store.SessionRecord{
		{ID: "sess-1", IP: "10.0.0.1", CreatedAt: 100, LastSeenAt: 100, Order: 1},
		{ID: "sess-2", IP: "10.0.0.2", CreatedAt: 110, LastSeenAt: 200, Order: 2},
		{ID: "sess-3", IP: "10.0.0.3", CreatedAt: 120, LastSeenAt: 300, Order: 3},
	}
	for i := range recs {
		require.NoError(t, d.SaveSessionRecord(ctx, ch, &recs[i]))
	}

	got, err := d.SessionRecord(ctx, ch, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", got.IP)
	assert.Equal(t, int64(2), got.Order)

	all, err := d.SessionRecords(ctx, ch)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Order, all[i].Order, "sessions must list in ascending order")
	}

	// Evict sessions idle at or before t=200.
	require.NoError(t, d.PurgeExpiredSessions(ctx, ch, 200))
	all, err = d.SessionRecords(ctx, ch)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "sess-3", all[0].ID)

	require.NoError(t, d.DeleteSessionRecord(ctx, ch, "sess-3"))
	all, err = d.SessionRecords(ctx, ch)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testSessionOrder(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	first, err := d.NextSessionOrder(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	const workers = 8
	const perWorker = 10

	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				n, err := d.NextSessionOrder(ctx, ch)
				assert.NoError(t, err)
				mu.Lock()
				assert.False(t, seen[n], "order %d assigned twice", n)
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func testRules(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	_, err := d.RuleEntry(ctx, ch, "8.8.4.4")
	require.ErrorIs(t, err, store.ErrNotFound)

	perm := &store.RuleEntry{IP: "8.8.4.4", Scope: store.ScopeDeny, Reason: 1, CreatedAt: 50}
	temp := &store.RuleEntry{IP: "8.8.8.8", Scope: store.ScopeDeny, Reason: 2, CreatedAt: 60, ExpiresAt: 100}
	cidr := &store.RuleEntry{IP: "192.168.0.0/16", Scope: store.ScopeAllow, CreatedAt: 70}
	for _, r := range []*store.RuleEntry{perm, temp, cidr} {
		require.NoError(t, d.SaveRuleEntry(ctx, ch, r))
	}

	got, err := d.RuleEntry(ctx, ch, "192.168.0.0/16")
	require.NoError(t, err)
	assert.Equal(t, store.ScopeAllow, got.Scope)

	// Purge at t=150: only the temporary entry lapses; the permanent
	// entry has no expiry and must survive.
	require.NoError(t, d.PurgeExpiredRules(ctx, ch, 150))
	all, err := d.RuleEntries(ctx, ch)
	require.NoError(t, err)
	require.Len(t, all, 2)
	_, err = d.RuleEntry(ctx, ch, "8.8.8.8")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, d.DeleteRuleEntry(ctx, ch, "8.8.4.4"))
	_, err = d.RuleEntry(ctx, ch, "8.8.4.4")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAttempts(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	_, err := d.AttemptRecord(ctx, ch, "7.7.7.7", "data_circle")
	require.ErrorIs(t, err, store.ErrNotFound)

	rec := &store.AttemptRecord{IP: "7.7.7.7", Category: "data_circle", Count: 2, WindowStart: 500}
	require.NoError(t, d.SaveAttemptRecord(ctx, ch, rec))

	// Categories are independent keys.
	other := &store.AttemptRecord{IP: "7.7.7.7", Category: "system_firewall", Count: 9, WindowStart: 501}
	require.NoError(t, d.SaveAttemptRecord(ctx, ch, other))

	got, err := d.AttemptRecord(ctx, ch, "7.7.7.7", "data_circle")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Count)
	assert.Equal(t, int64(500), got.WindowStart)

	got, err = d.AttemptRecord(ctx, ch, "7.7.7.7", "system_firewall")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Count)

	require.NoError(t, d.DeleteAttemptRecord(ctx, ch, "7.7.7.7", "data_circle"))
	_, err = d.AttemptRecord(ctx, ch, "7.7.7.7", "data_circle")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = d.AttemptRecord(ctx, ch, "7.7.7.7", "system_firewall")
	assert.NoError(t, err)
}

func testChannelIsolation(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	require.NoError(t, d.SaveFilterRecord(ctx, "site_a", store.NewFilterRecord("1.1.1.1", 1)))

	_, err := d.FilterRecord(ctx, "site_b", "1.1.1.1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	a, err := d.NextSessionOrder(ctx, "site_a")
	require.NoError(t, err)
	b, err := d.NextSessionOrder(ctx, "site_b")
	require.NoError(t, err)
	assert.Equal(t, a, b, "each channel has its own admission sequence")
}

func testRebuild(t *testing.T, open Factory) {
	d := open(t)
	ctx := context.Background()

	require.NoError(t, d.SaveFilterRecord(ctx, ch, store.NewFilterRecord("2.2.2.2", 1)))
	require.NoError(t, d.SaveRuleEntry(ctx, ch, &store.RuleEntry{IP: "2.2.2.2", Scope: store.ScopeDeny, CreatedAt: 1}))
	require.NoError(t, d.SaveFilterRecord(ctx, "other", store.NewFilterRecord("3.3.3.3", 1)))

	require.NoError(t, d.Rebuild(ctx, ch))

	_, err := d.FilterRecord(ctx, ch, "2.2.2.2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = d.RuleEntry(ctx, ch, "2.2.2.2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Other channels are untouched.
	_, err = d.FilterRecord(ctx, "other", "3.3.3.3")
	assert.NoError(t, err)
}
