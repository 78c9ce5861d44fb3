// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package firewall holds the rule (ban/allow) list and the deny-attempt
// circuit breaker that promotes repeated temporary denials into bans.
// The engine never touches host packet filters itself; a tripped
// system_firewall category only signals the need through the messenger.
package firewall

import (
	"context"
	"fmt"
	"net/netip"

	"grimm.is/doorman/internal/clock"
	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/messenger"
	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/verdict"
)

// Escalation categories.
const (
	CategoryDataCircle     = "data_circle"
	CategorySystemFirewall = "system_firewall"
)

// RuleMatch is the outcome of a ban-list lookup.
type RuleMatch struct {
	Matched bool
	Scope   store.RuleScope
	Reason  int
}

// Engine owns rule-list checks and deny-attempt escalation.
type Engine struct {
	cfg        config.DenyAttemptConfig
	dispatcher *messenger.Dispatcher
	logger     *logging.Logger
}

// New creates the engine. The dispatcher may be nil when no messengers
// are attached.
func New(cfg config.DenyAttemptConfig, dispatcher *messenger.Dispatcher, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default().WithComponent("firewall")
	}
	return &Engine{cfg: cfg, dispatcher: dispatcher, logger: logger}
}

// CheckRules looks the IP up in the rule list, honoring CIDR entries.
// Expired entries are swept first so a lapsed temporary ban never
// matches. An exact entry wins over a prefix entry.
func (e *Engine) CheckRules(ctx context.Context, d store.Driver, channel, ip string) (RuleMatch, error) {
	now := clock.Now().Unix()
	if err := d.PurgeExpiredRules(ctx, channel, now); err != nil {
		return RuleMatch{}, err
	}

	rec, err := d.RuleEntry(ctx, channel, ip)
	if err == nil {
		return RuleMatch{Matched: true, Scope: rec.Scope, Reason: rec.Reason}, nil
	}
	if err != store.ErrNotFound {
		return RuleMatch{}, err
	}

	addr, parseErr := netip.ParseAddr(ip)
	if parseErr != nil {
		return RuleMatch{}, nil
	}

	entries, err := d.RuleEntries(ctx, channel)
	if err != nil {
		return RuleMatch{}, err
	}
	for i := range entries {
		p, err := netip.ParsePrefix(entries[i].IP)
		if err != nil {
			continue
		}
		if p.Contains(addr) {
			return RuleMatch{Matched: true, Scope: entries[i].Scope, Reason: entries[i].Reason}, nil
		}
	}
	return RuleMatch{}, nil
}

// Ban inserts a permanent deny entry for an IP or CIDR prefix.
func (e *Engine) Ban(ctx context.Context, d store.Driver, channel, ip string, reason int) error {
	return d.SaveRuleEntry(ctx, channel, &store.RuleEntry{
		IP:        ip,
		Scope:     store.ScopeDeny,
		Reason:    reason,
		CreatedAt: clock.Now().Unix(),
	})
}

// Allow inserts a permanent allow entry for an IP or CIDR prefix.
func (e *Engine) Allow(ctx context.Context, d store.Driver, channel, ip string, reason int) error {
	return d.SaveRuleEntry(ctx, channel, &store.RuleEntry{
		IP:        ip,
		Scope:     store.ScopeAllow,
		Reason:    reason,
		CreatedAt: clock.Now().Unix(),
	})
}

// Unban removes the IP's rule entry along with its counters and
// attempt records, so nothing residual taints the next verdict.
func (e *Engine) Unban(ctx context.Context, d store.Driver, channel, ip string) error {
	if err := d.DeleteRuleEntry(ctx, channel, ip); err != nil {
		return err
	}
	if err := d.DeleteFilterRecord(ctx, channel, ip); err != nil {
		return err
	}
	for _, cat := range []string{CategoryDataCircle, CategorySystemFirewall} {
		if err := d.DeleteAttemptRecord(ctx, channel, ip, cat); err != nil {
			return err
		}
	}
	return nil
}

// Escalate records one temporary denial against every enabled category
// and reports the final verdict: TemporarilyDeny, or Deny once any
// category's buffer is exceeded. A trip writes an expiring deny entry
// so compliant behavior after the reset window recovers on its own.
func (e *Engine) Escalate(ctx context.Context, d store.Driver, channel, ip string, reason int) (verdict.Verdict, error) {
	now := clock.Now().Unix()
	out := verdict.TemporarilyDeny

	for _, cat := range []struct {
		name string
		cfg  config.CategoryConfig
	}{
		{CategoryDataCircle, e.cfg.DataCircle},
		{CategorySystemFirewall, e.cfg.SystemFirewall},
	} {
		if !cat.cfg.Enable {
			continue
		}

		rec, err := d.AttemptRecord(ctx, channel, ip, cat.name)
		if err == store.ErrNotFound {
			rec = &store.AttemptRecord{IP: ip, Category: cat.name}
		} else if err != nil {
			return 0, err
		}

		// The reset clock measures quiet time since the last denial.
		if rec.WindowStart != 0 && now-rec.WindowStart > e.cfg.ResetSeconds {
			rec.Count = 0
		}
		rec.Count++
		rec.WindowStart = now

		tripped := rec.Count > cat.cfg.Buffer
		if tripped {
			rec.Count = 0
			rec.LastEscalatedAt = now
			out = verdict.Deny

			if err := d.SaveRuleEntry(ctx, channel, &store.RuleEntry{
				IP:        ip,
				Scope:     store.ScopeDeny,
				Reason:    reason,
				CreatedAt: now,
				ExpiresAt: now + e.cfg.ResetSeconds,
			}); err != nil {
				return 0, err
			}

			e.logger.Warn("deny-attempt breaker tripped",
				"channel", channel, "ip", ip, "category", cat.name)

			if cat.cfg.Notify && e.dispatcher != nil {
				level := messenger.LevelWarning
				if cat.name == CategorySystemFirewall {
					level = messenger.LevelCritical
				}
				e.dispatcher.Send(ctx, messenger.Message{
					Title: fmt.Sprintf("doorman: %s breaker tripped", cat.name),
					Body:  fmt.Sprintf("ip %s banned on channel %s (%s)", ip, channel, verdict.ReasonText(reason)),
					Level: level,
					Data: map[string]any{
						"ip":       ip,
						"channel":  channel,
						"category": cat.name,
						"reason":   reason,
					},
				})
			}
		}

		if err := d.SaveAttemptRecord(ctx, channel, rec); err != nil {
			return 0, err
		}
	}
	return out, nil
}
