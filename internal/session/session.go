// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package session bounds how many distinct sessions are concurrently
// admitted per channel. Sessions beyond the limit are queued in FIFO
// admission order and promoted lazily as earlier sessions expire.
package session

import (
	"context"

	"grimm.is/doorman/internal/clock"
	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/verdict"
)

// Result is the admission outcome for one request.
type Result struct {
	Verdict verdict.Verdict
	// Order is the session's admission sequence number.
	Order int64
	// QueuePosition is how far behind the admitted window the session
	// stands; zero when admitted.
	QueuePosition int64
}

// Controller gates session admission.
type Controller struct {
	cfg    config.SessionConfig
	logger *logging.Logger
}

// New creates the admission controller.
func New(cfg config.SessionConfig, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default().WithComponent("session")
	}
	return &Controller{cfg: cfg, logger: logger}
}

// Check admits or queues the request's session. A zero limit disables
// admission control entirely. Expired sessions are swept on every
// invocation, so a queued session discovers its promotion on its next
// request.
func (c *Controller) Check(ctx context.Context, d store.Driver, channel string, req *request.Context) (Result, error) {
	if c.cfg.Limit <= 0 || req.SessionID == "" {
		return Result{Verdict: verdict.Allow}, nil
	}

	now := clock.Now().Unix()
	if err := d.PurgeExpiredSessions(ctx, channel, now-c.cfg.ExpirySeconds); err != nil {
		return Result{}, err
	}

	rec, err := d.SessionRecord(ctx, channel, req.SessionID)
	if err == store.ErrNotFound {
		// Order is assigned exactly once per session and never
		// renumbered, even while queued.
		order, err := d.NextSessionOrder(ctx, channel)
		if err != nil {
			return Result{}, err
		}
		rec = &store.SessionRecord{
			ID:        req.SessionID,
			IP:        req.IP,
			CreatedAt: now,
			Order:     order,
		}
	} else if err != nil {
		return Result{}, err
	}

	rec.LastSeenAt = now
	if err := d.SaveSessionRecord(ctx, channel, rec); err != nil {
		return Result{}, err
	}

	all, err := d.SessionRecords(ctx, channel)
	if err != nil {
		return Result{}, err
	}

	// Position in the admission line: sessions ahead are the live ones
	// with a lower order number.
	var ahead int64
	for i := range all {
		if all[i].Order < rec.Order {
			ahead++
		}
	}
	position := ahead + 1

	if position <= c.cfg.Limit {
		return Result{Verdict: verdict.Allow, Order: rec.Order}, nil
	}
	return Result{
		Verdict:       verdict.LimitSession,
		Order:         rec.Order,
		QueuePosition: position - c.cfg.Limit,
	}, nil
}

// Count returns the number of currently admitted, non-expired sessions.
func (c *Controller) Count(ctx context.Context, d store.Driver, channel string) (int64, error) {
	now := clock.Now().Unix()
	if err := d.PurgeExpiredSessions(ctx, channel, now-c.cfg.ExpirySeconds); err != nil {
		return 0, err
	}
	all, err := d.SessionRecords(ctx, channel)
	if err != nil {
		return 0, err
	}
	n := int64(len(all))
	if c.cfg.Limit > 0 && n > c.cfg.Limit {
		n = c.cfg.Limit
	}
	return n, nil
}
