// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store defines the persistence contract shared by every doorman
// storage backend. Four record kinds are persisted: per-IP filter
// counters, admitted sessions, the rule (ban/allow) list and the
// deny-attempt log. All records are namespaced by channel so independent
// protected endpoints can share one backend without collision.
package store

import (
	"context"
	stderrors "errors"
	"time"
)

// Sentinel errors shared by all drivers.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = stderrors.New("store: record not found")
	// ErrSchemaMissing is returned when the backing schema has not been
	// built yet and auto-create is disabled.
	ErrSchemaMissing = stderrors.New("store: schema missing")
)

// Kind identifies a record kind.
type Kind string

const (
	KindFilter  Kind = "filter"
	KindSession Kind = "session"
	KindRule    Kind = "rule"
	KindAttempt Kind = "attempt"
)

// TimeUnit is one sliding-counter granularity.
type TimeUnit string

const (
	UnitSecond TimeUnit = "s"
	UnitMinute TimeUnit = "m"
	UnitHour   TimeUnit = "h"
	UnitDay    TimeUnit = "d"
)

// Units returns all time units in ascending duration order.
func Units() []TimeUnit {
	return []TimeUnit{UnitSecond, UnitMinute, UnitHour, UnitDay}
}

// Duration returns the wall-clock length of the unit's window.
func (u TimeUnit) Duration() time.Duration {
	switch u {
	case UnitSecond:
		return time.Second
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// PageviewField returns the counter field name for the unit, as used by
// Driver.Increment and by the relational column layout.
func (u TimeUnit) PageviewField() string {
	return "pageviews_" + string(u)
}

// WindowCounter is one sliding counter: a count and the wall-clock second
// the current window opened. The count resets to zero exactly when the
// current time crosses WindowStart plus the unit duration; counters for
// different units roll independently.
type WindowCounter struct {
	Count       int64 `json:"count"`
	WindowStart int64 `json:"window_start"`
}

// FilterRecord holds one IP's behavioral state within a channel.
//
// The textual IP is the record key and is stored byte-for-byte as
// presented; no normalization is applied, so IPv6 addresses round-trip
// in their original spelling.
type FilterRecord struct {
	IP string `json:"ip"`

	Pageviews map[TimeUnit]WindowCounter `json:"pageviews"`

	FlagEmptyReferer bool `json:"flag_empty_referer"`
	FlagEmptyCookie  bool `json:"flag_empty_cookie"`
	FlagMultiSession bool `json:"flag_multi_session"`

	// Score is the shared unusual-behavior tally. Every behavioral
	// filter that flags the IP increments it; any filter's configured
	// limit being crossed is what changes the verdict.
	Score int64 `json:"score"`

	// CookieMarker is the challenge value issued to this IP.
	CookieMarker string `json:"cookie_marker,omitempty"`
	// LastSessionID is the session identifier seen on the previous
	// continuity check.
	LastSessionID string `json:"last_session_id,omitempty"`

	LastCheckedReferer int64 `json:"last_time_referer,omitempty"`
	LastCheckedSession int64 `json:"last_time_session,omitempty"`
	LastCheckedCookie  int64 `json:"last_time_cookie,omitempty"`
	// LastFlagged is the wall-clock second of the most recent flag, the
	// reference point for good-behavior forgiveness.
	LastFlagged int64 `json:"last_flagged,omitempty"`
}

// NewFilterRecord creates an empty record for an IP with all windows
// opened at now.
func NewFilterRecord(ip string, now int64) *FilterRecord {
	pv := make(map[TimeUnit]WindowCounter, 4)
	for _, u := range Units() {
		pv[u] = WindowCounter{Count: 0, WindowStart: now}
	}
	return &FilterRecord{IP: ip, Pageviews: pv}
}

// SessionRecord is one admitted or queued session.
type SessionRecord struct {
	ID         string `json:"id"`
	IP         string `json:"ip"`
	CreatedAt  int64  `json:"created_at"`
	LastSeenAt int64  `json:"last_seen_at"`
	// Order is the admission sequence number, assigned once per
	// distinct session identifier and never renumbered.
	Order int64 `json:"order"`
}

// RuleScope says whether a rule entry allows or denies.
type RuleScope string

const (
	ScopeAllow RuleScope = "allow"
	ScopeDeny  RuleScope = "deny"
)

// RuleEntry is a ban or allow list entry. IP may be an exact address or
// a CIDR prefix.
type RuleEntry struct {
	IP        string    `json:"ip"`
	Scope     RuleScope `json:"scope"`
	Reason    int       `json:"reason"`
	CreatedAt int64     `json:"created_at"`
	// ExpiresAt of zero means the entry is permanent.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Expired reports whether the entry has lapsed at the given time.
func (r *RuleEntry) Expired(now int64) bool {
	return r.ExpiresAt != 0 && now >= r.ExpiresAt
}

// AttemptRecord tracks consecutive temporary denials for one IP within
// one escalation category.
type AttemptRecord struct {
	IP       string `json:"ip"`
	Category string `json:"category"`
	// Count is the consecutive temporary-denial tally. It resets to
	// zero once the reset window elapses without a new denial.
	Count           int64 `json:"count"`
	WindowStart     int64 `json:"window_start"`
	LastEscalatedAt int64 `json:"last_escalated_at,omitempty"`
}

// Driver is the storage backend contract. Implementations must provide
// identical observable semantics: reads return ErrNotFound for absent
// records, Increment is atomic per key under concurrent callers, and
// purge operations honor the given cutoffs. Drivers may batch writes
// internally but must never lose an increment.
type Driver interface {
	// Filter records, keyed by IP.
	FilterRecord(ctx context.Context, channel, ip string) (*FilterRecord, error)
	SaveFilterRecord(ctx context.Context, channel string, rec *FilterRecord) error
	DeleteFilterRecord(ctx context.Context, channel, ip string) error

	// Session records, keyed by session identifier.
	SessionRecord(ctx context.Context, channel, id string) (*SessionRecord, error)
	SaveSessionRecord(ctx context.Context, channel string, rec *SessionRecord) error
	DeleteSessionRecord(ctx context.Context, channel, id string) error
	// SessionRecords returns all sessions in ascending admission order.
	SessionRecords(ctx context.Context, channel string) ([]SessionRecord, error)
	// NextSessionOrder atomically advances and returns the per-channel
	// admission sequence. Ties between concurrent first-sight requests
	// are broken here, never by wall-clock comparison.
	NextSessionOrder(ctx context.Context, channel string) (int64, error)
	// PurgeExpiredSessions evicts sessions last seen at or before the
	// cutoff (unix seconds).
	PurgeExpiredSessions(ctx context.Context, channel string, cutoff int64) error

	// Rule entries, keyed by IP or CIDR prefix.
	RuleEntry(ctx context.Context, channel, ip string) (*RuleEntry, error)
	SaveRuleEntry(ctx context.Context, channel string, rec *RuleEntry) error
	DeleteRuleEntry(ctx context.Context, channel, ip string) error
	RuleEntries(ctx context.Context, channel string) ([]RuleEntry, error)
	// PurgeExpiredRules removes entries whose expiry has lapsed.
	PurgeExpiredRules(ctx context.Context, channel string, now int64) error

	// Attempt records, keyed by (IP, category).
	AttemptRecord(ctx context.Context, channel, ip, category string) (*AttemptRecord, error)
	SaveAttemptRecord(ctx context.Context, channel string, rec *AttemptRecord) error
	DeleteAttemptRecord(ctx context.Context, channel, ip, category string) error

	// Increment atomically adds delta to a numeric field of a filter
	// record and returns the new value. The record must already exist.
	Increment(ctx context.Context, channel, ip, field string, delta int64) (int64, error)

	// Rebuild drops and recreates the channel's persisted state.
	Rebuild(ctx context.Context, channel string) error

	Close() error
}
