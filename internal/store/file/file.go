// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package file implements the store contract with JSON files on disk,
// one file per channel and record kind. Writes go through a temp file
// and rename so a crash never leaves a half-written kind file. A single
// in-process mutex serializes access; cross-process sharing is not a
// goal of this backend.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/store"
)

type channelData struct {
	Filters  map[string]*store.FilterRecord  `json:"filters"`
	Sessions map[string]*store.SessionRecord `json:"sessions"`
	Rules    map[string]*store.RuleEntry     `json:"rules"`
	Attempts map[string]*store.AttemptRecord `json:"attempts"`
	Seq      int64                           `json:"seq"`
}

func newChannelData() *channelData {
	return &channelData{
		Filters:  make(map[string]*store.FilterRecord),
		Sessions: make(map[string]*store.SessionRecord),
		Rules:    make(map[string]*store.RuleEntry),
		Attempts: make(map[string]*store.AttemptRecord),
	}
}

// Driver is the file-backed storage backend.
type Driver struct {
	mu   sync.Mutex
	dir  string
	data map[string]*channelData
}

// New creates a file driver rooted at dir, creating it if needed.
func New(dir string) (*Driver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to create data directory %s", dir)
	}
	return &Driver{dir: dir, data: make(map[string]*channelData)}, nil
}

var _ store.Driver = (*Driver)(nil)

func (d *Driver) path(channel string) string {
	return filepath.Join(d.dir, channel+".json")
}

// channel loads a channel's data file on first access.
func (d *Driver) channel(name string) (*channelData, error) {
	if cd, ok := d.data[name]; ok {
		return cd, nil
	}

	cd := newChannelData()
	raw, err := os.ReadFile(d.path(name))
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, cd); err != nil {
			return nil, errors.Wrapf(err, errors.KindUnavailable, "corrupt data file for channel %s", name)
		}
	case os.IsNotExist(err):
		// First sight of the channel.
	default:
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to read data file for channel %s", name)
	}

	d.data[name] = cd
	return cd, nil
}

// flush writes a channel's data file atomically.
func (d *Driver) flush(name string) error {
	cd, ok := d.data[name]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(cd)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode channel data")
	}

	tmp := d.path(name) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "failed to write data file for channel %s", name)
	}
	if err := os.Rename(tmp, d.path(name)); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "failed to replace data file for channel %s", name)
	}
	return nil
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

	cd, err := d.channel(channel)
	if err != nil {
		return nil, err
	}
	rec, ok := cd.Filters[ip]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyFilter(rec), nil
}

func (d *Driver) SaveFilterRecord(_ context.Context, channel string, rec *store.FilterRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	cd.Filters[rec.IP] = copyFilter(rec)
	return d.flush(channel)
}

func (d *Driver) DeleteFilterRecord(_ context.Context, channel, ip string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	delete(cd.Filters, ip)
	return d.flush(channel)
}

func (d *Driver) SessionRecord(_ context.Context, channel, id string) (*store.SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return nil, err
	}
	rec, ok := cd.Sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (d *Driver) SaveSessionRecord(_ context.Context, channel string, rec *store.SessionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	c := *rec
	cd.Sessions[rec.ID] = &c
	return d.flush(channel)
}

func (d *Driver) DeleteSessionRecord(_ context.Context, channel, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	delete(cd.Sessions, id)
	return d.flush(channel)
}

func (d *Driver) SessionRecords(_ context.Context, channel string) ([]store.SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return nil, err
	}
	out := make([]store.SessionRecord, 0, len(cd.Sessions))
	for _, rec := range cd.Sessions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (d *Driver) NextSessionOrder(_ context.Context, channel string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return 0, err
	}
	cd.Seq++
	if err := d.flush(channel); err != nil {
		return 0, err
	}
	return cd.Seq, nil
}

func (d *Driver) PurgeExpiredSessions(_ context.Context, channel string, cutoff int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	changed := false
	for id, rec := range cd.Sessions {
		if rec.LastSeenAt <= cutoff {
			delete(cd.Sessions, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return d.flush(channel)
}

func (d *Driver) RuleEntry(_ context.Context, channel, ip string) (*store.RuleEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return nil, err
	}
	rec, ok := cd.Rules[ip]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (d *Driver) SaveRuleEntry(_ context.Context, channel string, rec *store.RuleEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	c := *rec
	cd.Rules[rec.IP] = &c
	return d.flush(channel)
}

func (d *Driver) DeleteRuleEntry(_ context.Context, channel, ip string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	delete(cd.Rules, ip)
	return d.flush(channel)
}

func (d *Driver) RuleEntries(_ context.Context, channel string) ([]store.RuleEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return nil, err
	}
	out := make([]store.RuleEntry, 0, len(cd.Rules))
	for _, rec := range cd.Rules {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (d *Driver) PurgeExpiredRules(_ context.Context, channel string, now int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	changed := false
	for ip, rec := range cd.Rules {
		if rec.Expired(now) {
			delete(cd.Rules, ip)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return d.flush(channel)
}

func (d *Driver) AttemptRecord(_ context.Context, channel, ip, category string) (*store.AttemptRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return nil, err
	}
	rec, ok := cd.Attempts[attemptKey(ip, category)]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (d *Driver) SaveAttemptRecord(_ context.Context, channel string, rec *store.AttemptRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	c := *rec
	cd.Attempts[attemptKey(rec.IP, rec.Category)] = &c
	return d.flush(channel)
}

func (d *Driver) DeleteAttemptRecord(_ context.Context, channel, ip, category string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return err
	}
	delete(cd.Attempts, attemptKey(ip, category))
	return d.flush(channel)
}

func (d *Driver) Increment(_ context.Context, channel, ip, field string, delta int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cd, err := d.channel(channel)
	if err != nil {
		return 0, err
	}
	rec, ok := cd.Filters[ip]
	if !ok {
		return 0, store.ErrNotFound
	}

	var val int64
	switch field {
	case "score":
		rec.Score += delta
		val = rec.Score
	default:
		found := false
		for _, u := range store.Units() {
			if field == u.PageviewField() {
				w := rec.Pageviews[u]
				w.Count += delta
				rec.Pageviews[u] = w
				val = w.Count
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Errorf(errors.KindInternal, "unknown increment field: %s", field)
		}
	}

	if err := d.flush(channel); err != nil {
		return 0, err
	}
	return val, nil
}

func (d *Driver) Rebuild(_ context.Context, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.data[channel] = newChannelData()
	return d.flush(channel)
}

func (d *Driver) Close() error {
	return nil
}
