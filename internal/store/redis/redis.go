// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package redis implements the store contract on a Redis-compatible
// key-value server. Filter records live in hashes so counter bumps use
// HINCRBY; the admission sequence uses INCR. Everything else is JSON
// under namespaced keys.
package redis

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/store"
)

const prefix = "doorman"

// Driver is the Redis storage backend.
type Driver struct {
	rdb *goredis.Client
}

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Open connects to the Redis server and verifies it responds.
func Open(ctx context.Context, opts Options) (*Driver, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to reach redis")
	}
	return &Driver{rdb: rdb}, nil
}

// New wraps an existing client. The caller keeps ownership checks; Close
// still closes the client.
func New(rdb *goredis.Client) *Driver {
	return &Driver{rdb: rdb}
}

var _ store.Driver = (*Driver)(nil)

func filterKey(channel, ip string) string  { return prefix + ":" + channel + ":filter:" + ip }
func sessionKey(channel, id string) string { return prefix + ":" + channel + ":session:" + id }
func sessionIdx(channel string) string     { return prefix + ":" + channel + ":sessions" }
func ruleKey(channel, ip string) string    { return prefix + ":" + channel + ":rule:" + ip }
func ruleIdx(channel string) string        { return prefix + ":" + channel + ":rules" }
func attemptKey(channel, ip, cat string) string {
	return prefix + ":" + channel + ":attempt:" + ip + "|" + cat
}
func seqKey(channel string) string { return prefix + ":" + channel + ":seq" }

func wrapRedis(err error, msg string) error {
	if err == nil {
		return nil
	}
	if err == goredis.Nil {
		return store.ErrNotFound
	}
	return errors.Wrap(err, errors.KindUnavailable, msg)
}

func boolField(v string) bool { return v == "1" }

func boolVal(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func intField(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func (d *Driver) FilterRecord(ctx context.Context, channel, ip string) (*store.FilterRecord, error) {
	m, err := d.rdb.HGetAll(ctx, filterKey(channel, ip)).Result()
	if err != nil {
		return nil, wrapRedis(err, "failed to read filter record")
	}
	if len(m) == 0 {
		return nil, store.ErrNotFound
	}

	rec := &store.FilterRecord{
		IP:        m["ip"],
		Pageviews: make(map[store.TimeUnit]store.WindowCounter, 4),

		FlagEmptyReferer: boolField(m["flag_empty_referer"]),
		FlagEmptyCookie:  boolField(m["flag_empty_cookie"]),
		FlagMultiSession: boolField(m["flag_multi_session"]),

		Score:         intField(m["score"]),
		CookieMarker:  m["cookie_marker"],
		LastSessionID: m["last_session_id"],

		LastCheckedReferer: intField(m["last_time_referer"]),
		LastCheckedSession: intField(m["last_time_session"]),
		LastCheckedCookie:  intField(m["last_time_cookie"]),
		LastFlagged:        intField(m["last_flagged"]),
	}
	for _, u := range store.Units() {
		rec.Pageviews[u] = store.WindowCounter{
			Count:       intField(m[u.PageviewField()]),
			WindowStart: intField(m[string(u)+"_start"]),
		}
	}
	return rec, nil
}

func (d *Driver) SaveFilterRecord(ctx context.Context, channel string, rec *store.FilterRecord) error {
	fields := map[string]any{
		"ip": rec.IP,

		"flag_empty_referer": boolVal(rec.FlagEmptyReferer),
		"flag_empty_cookie":  boolVal(rec.FlagEmptyCookie),
		"flag_multi_session": boolVal(rec.FlagMultiSession),

		"score":           rec.Score,
		"cookie_marker":   rec.CookieMarker,
		"last_session_id": rec.LastSessionID,

		"last_time_referer": rec.LastCheckedReferer,
		"last_time_session": rec.LastCheckedSession,
		"last_time_cookie":  rec.LastCheckedCookie,
		"last_flagged":      rec.LastFlagged,
	}
	for _, u := range store.Units() {
		wc := rec.Pageviews[u]
		fields[u.PageviewField()] = wc.Count
		fields[string(u)+"_start"] = wc.WindowStart
	}
	return wrapRedis(d.rdb.HSet(ctx, filterKey(channel, rec.IP), fields).Err(),
		"failed to save filter record")
}

func (d *Driver) DeleteFilterRecord(ctx context.Context, channel, ip string) error {
	return wrapRedis(d.rdb.Del(ctx, filterKey(channel, ip)).Err(),
		"failed to delete filter record")
}

func (d *Driver) SessionRecord(ctx context.Context, channel, id string) (*store.SessionRecord, error) {
	raw, err := d.rdb.Get(ctx, sessionKey(channel, id)).Bytes()
	if err != nil {
		return nil, wrapRedis(err, "failed to read session record")
	}
	rec := &store.SessionRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "corrupt session record")
	}
	return rec, nil
}

func (d *Driver) SaveSessionRecord(ctx context.Context, channel string, rec *store.SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode session record")
	}
	pipe := d.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(channel, rec.ID), raw, 0)
	pipe.SAdd(ctx, sessionIdx(channel), rec.ID)
	_, err = pipe.Exec(ctx)
	return wrapRedis(err, "failed to save session record")
}

func (d *Driver) DeleteSessionRecord(ctx context.Context, channel, id string) error {
	pipe := d.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(channel, id))
	pipe.SRem(ctx, sessionIdx(channel), id)
	_, err := pipe.Exec(ctx)
	return wrapRedis(err, "failed to delete session record")
}

func (d *Driver) SessionRecords(ctx context.Context, channel string) ([]store.SessionRecord, error) {
	ids, err := d.rdb.SMembers(ctx, sessionIdx(channel)).Result()
	if err != nil {
		return nil, wrapRedis(err, "failed to list sessions")
	}

	out := make([]store.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := d.SessionRecord(ctx, channel, id)
		if err == store.ErrNotFound {
			// Index entry outlived its record; heal lazily.
			d.rdb.SRem(ctx, sessionIdx(channel), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (d *Driver) NextSessionOrder(ctx context.Context, channel string) (int64, error) {
	n, err := d.rdb.Incr(ctx, seqKey(channel)).Result()
	if err != nil {
		return 0, wrapRedis(err, "failed to advance session order")
	}
	return n, nil
}

func (d *Driver) PurgeExpiredSessions(ctx context.Context, channel string, cutoff int64) error {
	recs, err := d.SessionRecords(ctx, channel)
	if err != nil {
		return err
	}
	for i := range recs {
		if recs[i].LastSeenAt <= cutoff {
			if err := d.DeleteSessionRecord(ctx, channel, recs[i].ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) RuleEntry(ctx context.Context, channel, ip string) (*store.RuleEntry, error) {
	raw, err := d.rdb.Get(ctx, ruleKey(channel, ip)).Bytes()
	if err != nil {
		return nil, wrapRedis(err, "failed to read rule entry")
	}
	rec := &store.RuleEntry{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "corrupt rule entry")
	}
	return rec, nil
}

func (d *Driver) SaveRuleEntry(ctx context.Context, channel string, rec *store.RuleEntry) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode rule entry")
	}
	pipe := d.rdb.TxPipeline()
	pipe.Set(ctx, ruleKey(channel, rec.IP), raw, 0)
	pipe.SAdd(ctx, ruleIdx(channel), rec.IP)
	_, err = pipe.Exec(ctx)
	return wrapRedis(err, "failed to save rule entry")
}

func (d *Driver) DeleteRuleEntry(ctx context.Context, channel, ip string) error {
	pipe := d.rdb.TxPipeline()
	pipe.Del(ctx, ruleKey(channel, ip))
	pipe.SRem(ctx, ruleIdx(channel), ip)
	_, err := pipe.Exec(ctx)
	return wrapRedis(err, "failed to delete rule entry")
}

func (d *Driver) RuleEntries(ctx context.Context, channel string) ([]store.RuleEntry, error) {
	ips, err := d.rdb.SMembers(ctx, ruleIdx(channel)).Result()
	if err != nil {
		return nil, wrapRedis(err, "failed to list rule entries")
	}

	out := make([]store.RuleEntry, 0, len(ips))
	for _, ip := range ips {
		rec, err := d.RuleEntry(ctx, channel, ip)
		if err == store.ErrNotFound {
			d.rdb.SRem(ctx, ruleIdx(channel), ip)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (d *Driver) PurgeExpiredRules(ctx context.Context, channel string, now int64) error {
	entries, err := d.RuleEntries(ctx, channel)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].Expired(now) {
			if err := d.DeleteRuleEntry(ctx, channel, entries[i].IP); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) AttemptRecord(ctx context.Context, channel, ip, category string) (*store.AttemptRecord, error) {
	raw, err := d.rdb.Get(ctx, attemptKey(channel, ip, category)).Bytes()
	if err != nil {
		return nil, wrapRedis(err, "failed to read attempt record")
	}
	rec := &store.AttemptRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "corrupt attempt record")
	}
	return rec, nil
}

func (d *Driver) SaveAttemptRecord(ctx context.Context, channel string, rec *store.AttemptRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode attempt record")
	}
	return wrapRedis(d.rdb.Set(ctx, attemptKey(channel, rec.IP, rec.Category), raw, 0).Err(),
		"failed to save attempt record")
}

func (d *Driver) DeleteAttemptRecord(ctx context.Context, channel, ip, category string) error {
	return wrapRedis(d.rdb.Del(ctx, attemptKey(channel, ip, category)).Err(),
		"failed to delete attempt record")
}

func (d *Driver) Increment(ctx context.Context, channel, ip, field string, delta int64) (int64, error) {
	key := filterKey(channel, ip)

	exists, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		return 0, wrapRedis(err, "failed to check filter record")
	}
	if exists == 0 {
		return 0, store.ErrNotFound
	}

	n, err := d.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, wrapRedis(err, "failed to increment filter field")
	}
	return n, nil
}

func (d *Driver) Rebuild(ctx context.Context, channel string) error {
	var cursor uint64
	match := prefix + ":" + channel + ":*"
	for {
		keys, next, err := d.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return wrapRedis(err, "failed to scan channel keys")
		}
		if len(keys) > 0 {
			if err := d.rdb.Del(ctx, keys...).Err(); err != nil {
				return wrapRedis(err, "failed to delete channel keys")
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (d *Driver) Close() error {
	return d.rdb.Close()
}
