// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernel sequences the admission checks into one verdict per
// request: rule list, identity components, behavioral and frequency
// filters, then session admission. All persisted state lives behind the
// attached storage driver; the kernel itself holds only configuration
// and wiring, so concurrent requests need no synchronization beyond
// what the driver provides.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grimm.is/doorman/internal/actionlog"
	"grimm.is/doorman/internal/clock"
	"grimm.is/doorman/internal/component"
	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/filter"
	"grimm.is/doorman/internal/firewall"
	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/messenger"
	"grimm.is/doorman/internal/metrics"
	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/session"
	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/validation"
	"grimm.is/doorman/internal/verdict"
)

// Outcome is the engine's full answer for one request.
type Outcome struct {
	Verdict verdict.Verdict
	Reason  int
	// QueuePosition is set with a LimitSession verdict.
	QueuePosition int64
	// IssuedCookie carries a freshly minted challenge marker the
	// transport layer should set on the response.
	IssuedCookie string
}

// Kernel is the admission engine orchestrator.
type Kernel struct {
	cfg    *config.Config
	logger *logging.Logger

	suite      *filter.Suite
	sessions   *session.Controller
	fw         *firewall.Engine
	dispatcher *messenger.Dispatcher

	mu         sync.RWMutex
	driver     store.Driver
	channel    string
	components []component.Component
	actions    *actionlog.Logger
	stats      *metrics.Metrics
}

// New creates a kernel with no driver attached. Run fails until a
// driver is attached.
func New(cfg *config.Config, logger *logging.Logger) *Kernel {
	if logger == nil {
		logger = logging.Default().WithComponent("kernel")
	}
	dispatcher := messenger.NewDispatcher(logger)
	return &Kernel{
		cfg:        cfg,
		logger:     logger,
		suite:      filter.New(cfg, logger),
		sessions:   session.New(cfg.Session, logger),
		fw:         firewall.New(cfg.DenyAttempt, dispatcher, logger),
		dispatcher: dispatcher,
		channel:    cfg.Channel,
	}
}

// AttachDriver attaches the storage backend.
func (k *Kernel) AttachDriver(d store.Driver) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.driver = d
}

// DetachDriver removes the storage backend. It does not close it.
func (k *Kernel) DetachDriver() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.driver = nil
}

// Driver returns the attached storage backend, or nil.
func (k *Kernel) Driver() store.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.driver
}

// AttachComponent appends an identity component. Components run in
// attachment order.
func (k *Kernel) AttachComponent(c component.Component) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.components = append(k.components, c)
}

// DetachComponent removes the named component.
func (k *Kernel) DetachComponent(name string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, c := range k.components {
		if c.Name() == name {
			k.components = append(k.components[:i], k.components[i+1:]...)
			return true
		}
	}
	return false
}

// AttachMessenger registers an outbound notification channel.
func (k *Kernel) AttachMessenger(m messenger.Messenger) {
	k.dispatcher.Attach(m)
}

// DetachMessenger removes the named messenger.
func (k *Kernel) DetachMessenger(name string) bool {
	return k.dispatcher.Detach(name)
}

// SetActionLogger attaches the append-only decision log.
func (k *Kernel) SetActionLogger(l *actionlog.Logger) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.actions = l
}

// SetMetrics attaches Prometheus instrumentation.
func (k *Kernel) SetMetrics(m *metrics.Metrics) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stats = m
}

// SetChannel switches the record namespace. It fails when no driver is
// attached or the name is invalid.
func (k *Kernel) SetChannel(name string) error {
	if err := validation.ValidateChannel(name); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.driver == nil {
		return errors.New(errors.KindConfiguration, "cannot switch channel with no driver attached")
	}
	k.channel = name
	return nil
}

// Channel returns the active record namespace.
func (k *Kernel) Channel() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.channel
}

// Run computes the verdict for one request. Verdict precedence: rule
// list, identity components, filters (with deny-attempt escalation),
// session admission, then a default allow. Storage failures resolve per
// the fail-open/fail-closed policy; configuration and validation
// problems surface as errors, never as verdicts.
func (k *Kernel) Run(ctx context.Context, req *request.Context) (Outcome, error) {
	start := time.Now()

	k.mu.RLock()
	d := k.driver
	channel := k.channel
	components := k.components
	stats := k.stats
	k.mu.RUnlock()

	if d == nil {
		return Outcome{}, errors.New(errors.KindConfiguration, "no storage driver attached")
	}
	if err := validation.ValidateIP(req.IP); err != nil {
		return Outcome{}, err
	}

	out, err := k.run(ctx, d, channel, components, stats, req)
	if err != nil {
		if kind := errors.GetKind(err); kind == errors.KindUnavailable || kind == errors.KindTimeout {
			if stats != nil {
				stats.StoreErrors.WithLabelValues("run").Inc()
			}
			out = k.storeFailureOutcome(req, err)
		} else {
			return Outcome{}, err
		}
	}

	k.finish(channel, req, out, stats, start)
	return out, nil
}

func (k *Kernel) run(ctx context.Context, d store.Driver, channel string, components []component.Component, stats *metrics.Metrics, req *request.Context) (Outcome, error) {
	// 1. Explicit rule list.
	match, err := k.fw.CheckRules(ctx, d, channel, req.IP)
	if err != nil {
		return Outcome{}, err
	}
	if match.Matched {
		if match.Scope == store.ScopeDeny {
			return Outcome{Verdict: verdict.Deny, Reason: match.Reason}, nil
		}
		return Outcome{Verdict: verdict.Allow, Reason: match.Reason}, nil
	}

	// 2. Identity components. A deny is terminal; an allow bypasses
	// every remaining check.
	for _, c := range components {
		res := c.Check(ctx, req)
		switch res.Signal {
		case component.SignalDeny:
			return Outcome{Verdict: verdict.Deny, Reason: res.Reason}, nil
		case component.SignalAllow:
			if res.Reason == verdict.ReasonComponentTrustedBot {
				// Remember the verified crawler so later requests skip
				// the DNS round-trips.
				if err := k.fw.Allow(ctx, d, channel, req.IP, res.Reason); err != nil {
					return Outcome{}, err
				}
			}
			return Outcome{Verdict: verdict.Allow, Reason: res.Reason}, nil
		}
	}

	// 3. Frequency and behavioral filters, with escalation.
	fres, err := k.suite.Check(ctx, d, channel, req)
	if err != nil {
		return Outcome{}, err
	}
	if fres.Verdict == verdict.TemporarilyDeny {
		v, err := k.fw.Escalate(ctx, d, channel, req.IP, fres.Reason)
		if err != nil {
			return Outcome{}, err
		}
		if v == verdict.Deny && stats != nil {
			stats.BreakerTrips.WithLabelValues(channel).Inc()
		}
		return Outcome{Verdict: v, Reason: fres.Reason, IssuedCookie: fres.IssuedCookie}, nil
	}

	// 4. Session admission.
	sres, err := k.sessions.Check(ctx, d, channel, req)
	if err != nil {
		return Outcome{}, err
	}
	if sres.Verdict == verdict.LimitSession {
		return Outcome{
			Verdict:       verdict.LimitSession,
			Reason:        verdict.ReasonTooManySessions,
			QueuePosition: sres.QueuePosition,
			IssuedCookie:  fres.IssuedCookie,
		}, nil
	}

	// 5. Default allow.
	return Outcome{Verdict: verdict.Allow, IssuedCookie: fres.IssuedCookie}, nil
}

// storeFailureOutcome resolves an unreachable backend per policy. The
// default denies: a request that cannot be checked is not waved past
// the filters.
func (k *Kernel) storeFailureOutcome(req *request.Context, err error) Outcome {
	if k.cfg.FailOpen {
		k.logger.Warn("store unavailable, failing open", "ip", req.IP, "error", err)
		return Outcome{Verdict: verdict.Allow}
	}
	k.logger.Warn("store unavailable, failing closed", "ip", req.IP, "error", err)
	return Outcome{Verdict: verdict.Deny}
}

// finish records side effects for the rendered verdict. None of them
// can change the outcome.
func (k *Kernel) finish(channel string, req *request.Context, out Outcome, stats *metrics.Metrics, start time.Time) {
	if stats != nil {
		stats.Verdicts.WithLabelValues(channel, out.Verdict.String()).Inc()
		stats.CheckDuration.Observe(time.Since(start).Seconds())
	}

	if out.Verdict == verdict.Deny || out.Verdict == verdict.TemporarilyDeny {
		k.logAction(channel, req.IP, req.SessionID, actionFor(out.Verdict), out.Reason)
	}
}

func actionFor(v verdict.Verdict) int {
	if v == verdict.TemporarilyDeny {
		return verdict.ActionTemporarilyDeny
	}
	return verdict.ActionDeny
}

func (k *Kernel) logAction(channel, ip, sessionID string, action, reason int) {
	k.mu.RLock()
	actions := k.actions
	k.mu.RUnlock()
	if actions == nil {
		return
	}
	if err := actions.Append(actionlog.Entry{
		Channel:    channel,
		IP:         ip,
		SessionID:  sessionID,
		ActionCode: action,
		ReasonCode: reason,
	}); err != nil {
		k.logger.Error("action log append failed", "error", err)
	}
}

// Ban inserts a permanent manual ban for the IP and notifies the
// attached messengers.
func (k *Kernel) Ban(ctx context.Context, ip string) error {
	d, channel, err := k.requireDriver()
	if err != nil {
		return err
	}
	if err := validation.ValidateIPOrCIDR(ip); err != nil {
		return err
	}
	if err := k.fw.Ban(ctx, d, channel, ip, verdict.ReasonManualBan); err != nil {
		return err
	}
	k.logAction(channel, ip, "", verdict.ActionDeny, verdict.ReasonManualBan)
	k.dispatcher.Send(ctx, messenger.Message{
		Title: "doorman: manual ban",
		Body:  fmt.Sprintf("ip %s banned on channel %s", ip, channel),
		Level: messenger.LevelWarning,
	})
	return nil
}

// Unban lifts a ban and clears the IP's residual counters so the next
// request is judged fresh.
func (k *Kernel) Unban(ctx context.Context, ip string) error {
	d, channel, err := k.requireDriver()
	if err != nil {
		return err
	}
	if err := validation.ValidateIPOrCIDR(ip); err != nil {
		return err
	}
	if err := k.fw.Unban(ctx, d, channel, ip); err != nil {
		return err
	}
	k.logAction(channel, ip, "", verdict.ActionUnban, verdict.ReasonManualBan)
	return nil
}

// SessionCount returns the number of currently admitted sessions.
func (k *Kernel) SessionCount(ctx context.Context) (int64, error) {
	d, channel, err := k.requireDriver()
	if err != nil {
		return 0, err
	}
	return k.sessions.Count(ctx, d, channel)
}

// RuleEntries lists the active rule list for the current channel.
func (k *Kernel) RuleEntries(ctx context.Context) ([]store.RuleEntry, error) {
	d, channel, err := k.requireDriver()
	if err != nil {
		return nil, err
	}
	if err := d.PurgeExpiredRules(ctx, channel, clock.Now().Unix()); err != nil {
		return nil, err
	}
	return d.RuleEntries(ctx, channel)
}

func (k *Kernel) requireDriver() (store.Driver, string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.driver == nil {
		return nil, "", errors.New(errors.KindConfiguration, "no storage driver attached")
	}
	return k.driver, k.channel, nil
}
