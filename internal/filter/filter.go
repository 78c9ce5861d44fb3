// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package filter implements the frequency filter and the behavioral
// filters (cookie challenge, referer presence, session continuity).
// The behavioral filters share one unusual-behavior score per IP; any
// filter flagging the IP bumps it, and a filter whose configured limit
// is crossed turns the verdict into a temporary denial.
package filter

import (
	"context"

	"github.com/google/uuid"

	"grimm.is/doorman/internal/clock"
	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/verdict"
)

// Result is the filter stage's contribution to the verdict.
type Result struct {
	Verdict verdict.Verdict
	Reason  int
	// IssuedCookie is set when the cookie filter minted a new challenge
	// marker that the transport layer should hand to the client.
	IssuedCookie string
}

// Suite evaluates all enabled filters for one request.
type Suite struct {
	cfg    *config.Config
	logger *logging.Logger
}

// New creates the filter suite.
func New(cfg *config.Config, logger *logging.Logger) *Suite {
	if logger == nil {
		logger = logging.Default().WithComponent("filter")
	}
	return &Suite{cfg: cfg, logger: logger}
}

// Check runs the enabled filters for the request's IP. Filters run in a
// fixed order and the first crossed limit wins.
func (s *Suite) Check(ctx context.Context, d store.Driver, channel string, req *request.Context) (Result, error) {
	now := clock.Now().Unix()

	rec, err := d.FilterRecord(ctx, channel, req.IP)
	if err == store.ErrNotFound {
		rec = store.NewFilterRecord(req.IP, now)
		if err := d.SaveFilterRecord(ctx, channel, rec); err != nil {
			return Result{}, err
		}
	} else if err != nil {
		return Result{}, err
	}

	res := Result{Verdict: verdict.Allow}
	dirty := false

	if s.cfg.Filters.Frequency {
		reason, err := s.frequency(ctx, d, channel, rec, now, &dirty)
		if err != nil {
			return Result{}, err
		}
		if reason != 0 {
			res.Verdict = verdict.TemporarilyDeny
			res.Reason = reason
		}
	}

	if res.Verdict == verdict.Allow && s.cfg.Filters.Session {
		reason, err := s.session(ctx, d, channel, rec, req, now, &dirty)
		if err != nil {
			return Result{}, err
		}
		if reason != 0 {
			res.Verdict = verdict.TemporarilyDeny
			res.Reason = reason
		}
	}

	if res.Verdict == verdict.Allow && s.cfg.Filters.Cookie {
		reason, issued, err := s.cookie(ctx, d, channel, rec, req, now, &dirty)
		if err != nil {
			return Result{}, err
		}
		res.IssuedCookie = issued
		if reason != 0 {
			res.Verdict = verdict.TemporarilyDeny
			res.Reason = reason
		}
	}

	if res.Verdict == verdict.Allow && s.cfg.Filters.Referer {
		reason, err := s.referer(ctx, d, channel, rec, req, now, &dirty)
		if err != nil {
			return Result{}, err
		}
		if reason != 0 {
			res.Verdict = verdict.TemporarilyDeny
			res.Reason = reason
		}
	}

	if dirty {
		if err := d.SaveFilterRecord(ctx, channel, rec); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// frequency rolls each unit's window when its duration has elapsed,
// bumps the counters and reports the first unit whose quota is
// exceeded.
func (s *Suite) frequency(ctx context.Context, d store.Driver, channel string, rec *store.FilterRecord, now int64, dirty *bool) (int, error) {
	rolled := false
	for _, u := range store.Units() {
		wc := rec.Pageviews[u]
		if now >= wc.WindowStart+int64(u.Duration().Seconds()) {
			rec.Pageviews[u] = store.WindowCounter{Count: 0, WindowStart: now}
			rolled = true
		}
	}
	if rolled {
		// Persist the reset before counting so a crash between the two
		// never inflates a fresh window.
		if err := d.SaveFilterRecord(ctx, channel, rec); err != nil {
			return 0, err
		}
		*dirty = false
	}

	quotas := map[store.TimeUnit]int64{
		store.UnitSecond: s.cfg.TimeUnitQuota.Second,
		store.UnitMinute: s.cfg.TimeUnitQuota.Minute,
		store.UnitHour:   s.cfg.TimeUnitQuota.Hour,
		store.UnitDay:    s.cfg.TimeUnitQuota.Day,
	}
	reasons := map[store.TimeUnit]int{
		store.UnitSecond: verdict.ReasonReachedLimitSecond,
		store.UnitMinute: verdict.ReasonReachedLimitMinute,
		store.UnitHour:   verdict.ReasonReachedLimitHour,
		store.UnitDay:    verdict.ReasonReachedLimitDay,
	}

	exceeded := 0
	for _, u := range store.Units() {
		n, err := d.Increment(ctx, channel, rec.IP, u.PageviewField(), 1)
		if err != nil {
			return 0, err
		}
		rec.Pageviews[u] = store.WindowCounter{Count: n, WindowStart: rec.Pageviews[u].WindowStart}
		if q := quotas[u]; q > 0 && n > q && exceeded == 0 {
			exceeded = reasons[u]
		}
	}
	return exceeded, nil
}

// session flags a session identifier that changes again within the
// check interval of the previous change.
func (s *Suite) session(ctx context.Context, d store.Driver, channel string, rec *store.FilterRecord, req *request.Context, now int64, dirty *bool) (int, error) {
	if rec.LastSessionID == "" {
		rec.LastSessionID = req.SessionID
		rec.LastCheckedSession = now
		*dirty = true
		return 0, nil
	}
	if req.SessionID == rec.LastSessionID {
		if rec.FlagMultiSession && now-rec.LastFlagged > s.cfg.TimeResetLimit {
			rec.FlagMultiSession = false
			*dirty = true
		}
		return 0, nil
	}

	changedTooFast := now-rec.LastCheckedSession < s.cfg.IntervalCheckSession
	rec.LastSessionID = req.SessionID
	rec.LastCheckedSession = now
	*dirty = true

	if !changedTooFast {
		return 0, nil
	}

	rec.FlagMultiSession = true
	rec.LastFlagged = now
	score, err := d.Increment(ctx, channel, rec.IP, "score", 1)
	if err != nil {
		return 0, err
	}
	rec.Score = score
	if score > s.cfg.LimitUnusualBehavior.Session {
		return verdict.ReasonTooManySessions, nil
	}
	return 0, nil
}

// cookie issues a challenge marker on first sight and flags clients
// that later present a missing or mismatched value.
func (s *Suite) cookie(ctx context.Context, d store.Driver, channel string, rec *store.FilterRecord, req *request.Context, now int64, dirty *bool) (int, string, error) {
	if rec.CookieMarker == "" {
		rec.CookieMarker = uuid.NewString()
		rec.LastCheckedCookie = now
		*dirty = true
		return 0, rec.CookieMarker, nil
	}

	presented := req.Cookie(s.cfg.CookieName)
	if presented == rec.CookieMarker {
		rec.LastCheckedCookie = now
		if rec.FlagEmptyCookie && now-rec.LastFlagged > s.cfg.TimeResetLimit {
			rec.FlagEmptyCookie = false
		}
		*dirty = true
		return 0, "", nil
	}

	rec.LastCheckedCookie = now
	rec.FlagEmptyCookie = true
	rec.LastFlagged = now
	*dirty = true

	score, err := d.Increment(ctx, channel, rec.IP, "score", 1)
	if err != nil {
		return 0, "", err
	}
	rec.Score = score
	if score > s.cfg.LimitUnusualBehavior.Cookie {
		return verdict.ReasonEmptyCookie, "", nil
	}
	// Reissue the challenge so a well-behaved client can recover.
	return 0, rec.CookieMarker, nil
}

// referer checks at most once per interval and flags requests arriving
// with no referer header. A flag set long ago is forgiven when the
// next check finds the client behaving.
func (s *Suite) referer(ctx context.Context, d store.Driver, channel string, rec *store.FilterRecord, req *request.Context, now int64, dirty *bool) (int, error) {
	if rec.LastCheckedReferer == 0 {
		rec.LastCheckedReferer = now
		*dirty = true
		return 0, nil
	}
	if now-rec.LastCheckedReferer < s.cfg.IntervalCheckReferer {
		return 0, nil
	}
	rec.LastCheckedReferer = now
	*dirty = true

	if req.Referer != "" {
		// A supplied referer after sustained good behavior forgives the
		// flag; within the window it stays set.
		if rec.FlagEmptyReferer && now-rec.LastFlagged > s.cfg.TimeResetLimit {
			rec.FlagEmptyReferer = false
		}
		return 0, nil
	}

	rec.FlagEmptyReferer = true
	rec.LastFlagged = now
	score, err := d.Increment(ctx, channel, rec.IP, "score", 1)
	if err != nil {
		return 0, err
	}
	rec.Score = score
	if score > s.cfg.LimitUnusualBehavior.Referer {
		return verdict.ReasonEmptyReferer, nil
	}
	return 0, nil
}
