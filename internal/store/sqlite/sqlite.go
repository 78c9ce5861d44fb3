// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sqlite implements the store contract on SQLite via database/sql.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"

	_ "modernc.org/sqlite"

	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/store"
)

// Driver is the SQLite storage backend.
type Driver struct {
	db *sql.DB
}

// Open opens or creates the doorman database at path.
func Open(path string) (*Driver, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open sqlite db")
	}

	d := &Driver{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

var _ store.Driver = (*Driver)(nil)

func (d *Driver) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS doorman_filters (
		channel TEXT NOT NULL,
		ip TEXT NOT NULL,
		pageviews_s INTEGER DEFAULT 0,
		s_start INTEGER DEFAULT 0,
		pageviews_m INTEGER DEFAULT 0,
		m_start INTEGER DEFAULT 0,
		pageviews_h INTEGER DEFAULT 0,
		h_start INTEGER DEFAULT 0,
		pageviews_d INTEGER DEFAULT 0,
		d_start INTEGER DEFAULT 0,
		flag_empty_referer INTEGER DEFAULT 0,
		flag_empty_cookie INTEGER DEFAULT 0,
		flag_multi_session INTEGER DEFAULT 0,
		score INTEGER DEFAULT 0,
		cookie_marker TEXT DEFAULT '',
		last_session_id TEXT DEFAULT '',
		last_time_referer INTEGER DEFAULT 0,
		last_time_session INTEGER DEFAULT 0,
		last_time_cookie INTEGER DEFAULT 0,
		last_flagged INTEGER DEFAULT 0,
		PRIMARY KEY (channel, ip)
	);
	CREATE TABLE IF NOT EXISTS doorman_sessions (
		channel TEXT NOT NULL,
		id TEXT NOT NULL,
		ip TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		ord INTEGER NOT NULL,
		PRIMARY KEY (channel, id)
	);
	CREATE INDEX IF NOT EXISTS idx_doorman_sessions_ord ON doorman_sessions(channel, ord);
	CREATE TABLE IF NOT EXISTS doorman_rules (
		channel TEXT NOT NULL,
		ip TEXT NOT NULL,
		scope TEXT NOT NULL,
		reason INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER DEFAULT 0,
		PRIMARY KEY (channel, ip)
	);
	CREATE TABLE IF NOT EXISTS doorman_attempts (
		channel TEXT NOT NULL,
		ip TEXT NOT NULL,
		category TEXT NOT NULL,
		count INTEGER DEFAULT 0,
		window_start INTEGER DEFAULT 0,
		last_escalated_at INTEGER DEFAULT 0,
		PRIMARY KEY (channel, ip, category)
	);
	CREATE TABLE IF NOT EXISTS doorman_seq (
		channel TEXT PRIMARY KEY,
		seq INTEGER NOT NULL
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to create schema")
	}
	return nil
}

func wrapDB(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return errors.Wrap(err, errors.KindUnavailable, msg)
}

func (d *Driver) FilterRecord(ctx context.Context, channel, ip string) (*store.FilterRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT ip, pageviews_s, s_start, pageviews_m, m_start,
		       pageviews_h, h_start, pageviews_d, d_start,
		       flag_empty_referer, flag_empty_cookie, flag_multi_session,
		       score, cookie_marker, last_session_id,
		       last_time_referer, last_time_session, last_time_cookie, last_flagged
		FROM doorman_filters WHERE channel = ? AND ip = ?`, channel, ip)

	rec := &store.FilterRecord{Pageviews: make(map[store.TimeUnit]store.WindowCounter, 4)}
	var s, m, h, day store.WindowCounter
	err := row.Scan(
		&rec.IP, &s.Count, &s.WindowStart, &m.Count, &m.WindowStart,
		&h.Count, &h.WindowStart, &day.Count, &day.WindowStart,
		&rec.FlagEmptyReferer, &rec.FlagEmptyCookie, &rec.FlagMultiSession,
		&rec.Score, &rec.CookieMarker, &rec.LastSessionID,
		&rec.LastCheckedReferer, &rec.LastCheckedSession, &rec.LastCheckedCookie, &rec.LastFlagged,
	)
	if err != nil {
		return nil, wrapDB(err, "failed to read filter record")
	}
	rec.Pageviews[store.UnitSecond] = s
	rec.Pageviews[store.UnitMinute] = m
	rec.Pageviews[store.UnitHour] = h
	rec.Pageviews[store.UnitDay] = day
	return rec, nil
}

func (d *Driver) SaveFilterRecord(ctx context.Context, channel string, rec *store.FilterRecord) error {
	s := rec.Pageviews[store.UnitSecond]
	m := rec.Pageviews[store.UnitMinute]
	h := rec.Pageviews[store.UnitHour]
	day := rec.Pageviews[store.UnitDay]

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO doorman_filters (
			channel, ip, pageviews_s, s_start, pageviews_m, m_start,
			pageviews_h, h_start, pageviews_d, d_start,
			flag_empty_referer, flag_empty_cookie, flag_multi_session,
			score, cookie_marker, last_session_id,
			last_time_referer, last_time_session, last_time_cookie, last_flagged
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, ip) DO UPDATE SET
			pageviews_s = excluded.pageviews_s, s_start = excluded.s_start,
			pageviews_m = excluded.pageviews_m, m_start = excluded.m_start,
			pageviews_h = excluded.pageviews_h, h_start = excluded.h_start,
			pageviews_d = excluded.pageviews_d, d_start = excluded.d_start,
			flag_empty_referer = excluded.flag_empty_referer,
			flag_empty_cookie = excluded.flag_empty_cookie,
			flag_multi_session = excluded.flag_multi_session,
			score = excluded.score,
			cookie_marker = excluded.cookie_marker,
			last_session_id = excluded.last_session_id,
			last_time_referer = excluded.last_time_referer,
			last_time_session = excluded.last_time_session,
			last_time_cookie = excluded.last_time_cookie,
			last_flagged = excluded.last_flagged`,
		channel, rec.IP, s.Count, s.WindowStart, m.Count, m.WindowStart,
		h.Count, h.WindowStart, day.Count, day.WindowStart,
		rec.FlagEmptyReferer, rec.FlagEmptyCookie, rec.FlagMultiSession,
		rec.Score, rec.CookieMarker, rec.LastSessionID,
		rec.LastCheckedReferer, rec.LastCheckedSession, rec.LastCheckedCookie, rec.LastFlagged,
	)
	return wrapDB(err, "failed to save filter record")
}

func (d *Driver) DeleteFilterRecord(ctx context.Context, channel, ip string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM doorman_filters WHERE channel = ? AND ip = ?`, channel, ip)
	return wrapDB(err, "failed to delete filter record")
}

func (d *Driver) SessionRecord(ctx context.Context, channel, id string) (*store.SessionRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, ip, created_at, last_seen_at, ord
		FROM doorman_sessions WHERE channel = ? AND id = ?`, channel, id)

	rec := &store.SessionRecord{}
	err := row.Scan(&rec.ID, &rec.IP, &rec.CreatedAt, &rec.LastSeenAt, &rec.Order)
	if err != nil {
		return nil, wrapDB(err, "failed to read session record")
	}
	return rec, nil
}

func (d *Driver) SaveSessionRecord(ctx context.Context, channel string, rec *store.SessionRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO doorman_sessions (channel, id, ip, created_at, last_seen_at, ord)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, id) DO UPDATE SET
			ip = excluded.ip,
			last_seen_at = excluded.last_seen_at,
			ord = excluded.ord`,
		channel, rec.ID, rec.IP, rec.CreatedAt, rec.LastSeenAt, rec.Order)
	return wrapDB(err, "failed to save session record")
}

func (d *Driver) DeleteSessionRecord(ctx context.Context, channel, id string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM doorman_sessions WHERE channel = ? AND id = ?`, channel, id)
	return wrapDB(err, "failed to delete session record")
}

func (d *Driver) SessionRecords(ctx context.Context, channel string) ([]store.SessionRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, ip, created_at, last_seen_at, ord
		FROM doorman_sessions WHERE channel = ? ORDER BY ord ASC`, channel)
	if err != nil {
		return nil, wrapDB(err, "failed to list session records")
	}
	defer rows.Close()

	var out []store.SessionRecord
	for rows.Next() {
		var rec store.SessionRecord
		if err := rows.Scan(&rec.ID, &rec.IP, &rec.CreatedAt, &rec.LastSeenAt, &rec.Order); err != nil {
			return nil, wrapDB(err, "failed to scan session record")
		}
		out = append(out, rec)
	}
	return out, wrapDB(rows.Err(), "failed to iterate session records")
}

func (d *Driver) NextSessionOrder(ctx context.Context, channel string) (int64, error) {
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO doorman_seq (channel, seq) VALUES (?, 1)
		ON CONFLICT(channel) DO UPDATE SET seq = seq + 1
		RETURNING seq`, channel)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, wrapDB(err, "failed to advance session order")
	}
	return seq, nil
}

func (d *Driver) PurgeExpiredSessions(ctx context.Context, channel string, cutoff int64) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM doorman_sessions WHERE channel = ? AND last_seen_at <= ?`, channel, cutoff)
	return wrapDB(err, "failed to purge expired sessions")
}

func (d *Driver) RuleEntry(ctx context.Context, channel, ip string) (*store.RuleEntry, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT ip, scope, reason, created_at, expires_at
		FROM doorman_rules WHERE channel = ? AND ip = ?`, channel, ip)

	rec := &store.RuleEntry{}
	err := row.Scan(&rec.IP, &rec.Scope, &rec.Reason, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, wrapDB(err, "failed to read rule entry")
	}
	return rec, nil
}

func (d *Driver) SaveRuleEntry(ctx context.Context, channel string, rec *store.RuleEntry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO doorman_rules (channel, ip, scope, reason, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, ip) DO UPDATE SET
			scope = excluded.scope,
			reason = excluded.reason,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		channel, rec.IP, rec.Scope, rec.Reason, rec.CreatedAt, rec.ExpiresAt)
	return wrapDB(err, "failed to save rule entry")
}

func (d *Driver) DeleteRuleEntry(ctx context.Context, channel, ip string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM doorman_rules WHERE channel = ? AND ip = ?`, channel, ip)
	return wrapDB(err, "failed to delete rule entry")
}

func (d *Driver) RuleEntries(ctx context.Context, channel string) ([]store.RuleEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT ip, scope, reason, created_at, expires_at
		FROM doorman_rules WHERE channel = ? ORDER BY created_at ASC`, channel)
	if err != nil {
		return nil, wrapDB(err, "failed to list rule entries")
	}
	defer rows.Close()

	var out []store.RuleEntry
	for rows.Next() {
		var rec store.RuleEntry
		if err := rows.Scan(&rec.IP, &rec.Scope, &rec.Reason, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
			return nil, wrapDB(err, "failed to scan rule entry")
		}
		out = append(out, rec)
	}
	return out, wrapDB(rows.Err(), "failed to iterate rule entries")
}

func (d *Driver) PurgeExpiredRules(ctx context.Context, channel string, now int64) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM doorman_rules WHERE channel = ? AND expires_at != 0 AND expires_at <= ?`, channel, now)
	return wrapDB(err, "failed to purge expired rules")
}

func (d *Driver) AttemptRecord(ctx context.Context, channel, ip, category string) (*store.AttemptRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT ip, category, count, window_start, last_escalated_at
		FROM doorman_attempts WHERE channel = ? AND ip = ? AND category = ?`, channel, ip, category)

	rec := &store.AttemptRecord{}
	err := row.Scan(&rec.IP, &rec.Category, &rec.Count, &rec.WindowStart, &rec.LastEscalatedAt)
	if err != nil {
		return nil, wrapDB(err, "failed to read attempt record")
	}
	return rec, nil
}

func (d *Driver) SaveAttemptRecord(ctx context.Context, channel string, rec *store.AttemptRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO doorman_attempts (channel, ip, category, count, window_start, last_escalated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, ip, category) DO UPDATE SET
			count = excluded.count,
			window_start = excluded.window_start,
			last_escalated_at = excluded.last_escalated_at`,
		channel, rec.IP, rec.Category, rec.Count, rec.WindowStart, rec.LastEscalatedAt)
	return wrapDB(err, "failed to save attempt record")
}

func (d *Driver) DeleteAttemptRecord(ctx context.Context, channel, ip, category string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM doorman_attempts WHERE channel = ? AND ip = ? AND category = ?`, channel, ip, category)
	return wrapDB(err, "failed to delete attempt record")
}

// incrementColumns maps allowed increment fields to their columns. Field
// names never reach SQL unvalidated.
var incrementColumns = map[string]string{
	"pageviews_s": "pageviews_s",
	"pageviews_m": "pageviews_m",
	"pageviews_h": "pageviews_h",
	"pageviews_d": "pageviews_d",
	"score":       "score",
}

func (d *Driver) Increment(ctx context.Context, channel, ip, field string, delta int64) (int64, error) {
	col, ok := incrementColumns[field]
	if !ok {
		return 0, errors.Errorf(errors.KindInternal, "unknown increment field: %s", field)
	}

	row := d.db.QueryRowContext(ctx,
		`UPDATE doorman_filters SET `+col+` = `+col+` + ?
		 WHERE channel = ? AND ip = ? RETURNING `+col,
		delta, channel, ip)

	var val int64
	if err := row.Scan(&val); err != nil {
		return 0, wrapDB(err, "failed to increment filter field")
	}
	return val, nil
}

func (d *Driver) Rebuild(ctx context.Context, channel string) error {
	for _, table := range []string{"doorman_filters", "doorman_sessions", "doorman_rules", "doorman_attempts", "doorman_seq"} {
		if _, err := d.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE channel = ?`, channel); err != nil {
			return wrapDB(err, "failed to rebuild channel")
		}
	}
	return nil
}

func (d *Driver) Close() error {
	return d.db.Close()
}
