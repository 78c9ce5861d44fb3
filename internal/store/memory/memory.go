// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package memory implements the store contract with in-process maps.
// It is the default backend for single-process deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/store"
)

type channelState struct {
	filters  map[string]*store.FilterRecord
	sessions map[string]*store.SessionRecord
	rules    map[string]*store.RuleEntry
	attempts map[string]*store.AttemptRecord
	seq      int64
}

func newChannelState() *channelState {
	return &channelState{
		filters:  make(map[string]*store.FilterRecord),
		sessions: make(map[string]*store.SessionRecord),
		rules:    make(map[string]*store.RuleEntry),
		attempts: make(map[string]*store.AttemptRecord),
	}
}

// Driver is the in-memory storage backend.
type Driver struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{channels: make(map[string]*channelState)}
}

var _ store.Driver = (*Driver)(nil)

func (d *Driver) channel(name string) *channelState {
	ch, ok := d.channels[name]
	if !ok {
		ch = newChannelState()
		d.channels[name] = ch
	}
	return ch
}

func attemptKey(ip, category string) string {
	return ip + "|" + category
}

func copyFilter(rec *store.FilterRecord) *store.FilterRecord {
	c := *rec
	c.Pageviews = make(map[store.TimeUnit]store.WindowCounter, len(rec.Pageviews))
	for u, w := range rec.Pageviews {
		c.Pageviews[u] = w
	}
	return &c
}

func (d *Driver) FilterRecord(_ context.Context, channel, ip string) (*store.FilterRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.channel(channel).filters[ip]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyFilter(rec), nil
}

func (d *Driver) SaveFilterRecord(_ context.Context, channel string, rec *store.FilterRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.channel(channel).filters[rec.IP] = copyFilter(rec)
	return nil
}

func (d *Driver) DeleteFilterRecord(_ context.Context, channel, ip string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.channel(channel).filters, ip)
	return nil
}

func (d *Driver) SessionRecord(_ context.Context, channel, id string) (*store.SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.channel(channel).sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (d *Driver) SaveSessionRecord(_ context.Context, channel string, rec *store.SessionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := *rec
	d.channel(channel).sessions[rec.ID] = &c
	return nil
}

func (d *Driver) DeleteSessionRecord(_ context.Context, channel, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.channel(channel).sessions, id)
	return nil
}

func (d *Driver) SessionRecords(_ context.Context, channel string) ([]store.SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.channel(channel)
	out := make([]store.SessionRecord, 0, len(ch.sessions))
	for _, rec := range ch.sessions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (d *Driver) NextSessionOrder(_ context.Context, channel string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.channel(channel)
	ch.seq++
	return ch.seq, nil
}

func (d *Driver) PurgeExpiredSessions(_ context.Context, channel string, cutoff int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.channel(channel)
	for id, rec := range ch.sessions {
		if rec.LastSeenAt <= cutoff {
			delete(ch.sessions, id)
		}
	}
	return nil
}

func (d *Driver) RuleEntry(_ context.Context, channel, ip string) (*store.RuleEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.channel(channel).rules[ip]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (d *Driver) SaveRuleEntry(_ context.Context, channel string, rec *store.RuleEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := *rec
	d.channel(channel).rules[rec.IP] = &c
	return nil
}

func (d *Driver) DeleteRuleEntry(_ context.Context, channel, ip string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.channel(channel).rules, ip)
	return nil
}

func (d *Driver) RuleEntries(_ context.Context, channel string) ([]store.RuleEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.channel(channel)
	out := make([]store.RuleEntry, 0, len(ch.rules))
	for _, rec := range ch.rules {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (d *Driver) PurgeExpiredRules(_ context.Context, channel string, now int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.channel(channel)
	for ip, rec := range ch.rules {
		if rec.Expired(now) {
			delete(ch.rules, ip)
		}
	}
	return nil
}

func (d *Driver) AttemptRecord(_ context.Context, channel, ip, category string) (*store.AttemptRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.channel(channel).attempts[attemptKey(ip, category)]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (d *Driver) SaveAttemptRecord(_ context.Context, channel string, rec *store.AttemptRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := *rec
	d.channel(channel).attempts[attemptKey(rec.IP, rec.Category)] = &c
	return nil
}

func (d *Driver) DeleteAttemptRecord(_ context.Context, channel, ip, category string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.channel(channel).attempts, attemptKey(ip, category))
	return nil
}

func (d *Driver) Increment(_ context.Context, channel, ip, field string, delta int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.channel(channel).filters[ip]
	if !ok {
		return 0, store.ErrNotFound
	}

	switch field {
	case "score":
		rec.Score += delta
		return rec.Score, nil
	default:
		for _, u := range store.Units() {
			if field == u.PageviewField() {
				w := rec.Pageviews[u]
				w.Count += delta
				rec.Pageviews[u] = w
				return w.Count, nil
			}
		}
	}
	return 0, errors.Errorf(errors.KindInternal, "unknown increment field: %s", field)
}

func (d *Driver) Rebuild(_ context.Context, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.channels[channel] = newChannelState()
	return nil
}

func (d *Driver) Close() error {
	return nil
}
