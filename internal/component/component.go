// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package component implements the identity checks that run before any
// behavioral filter: static IP lists, user-agent screening, trusted
// crawler verification, reverse-DNS screening and header completeness.
// Each component inspects one identity facet and emits an allow, deny
// or neutral signal; an allow short-circuits every remaining check for
// the request.
package component

import (
	"context"

	"grimm.is/doorman/internal/request"
)

// Signal is one component's contribution to the verdict.
type Signal int

const (
	// SignalNeutral passes the request on to the next check.
	SignalNeutral Signal = iota
	// SignalAllow admits the request and bypasses all remaining checks.
	SignalAllow
	// SignalDeny rejects the request immediately.
	SignalDeny
)

func (s Signal) String() string {
	switch s {
	case SignalAllow:
		return "allow"
	case SignalDeny:
		return "deny"
	default:
		return "neutral"
	}
}

// Result is the outcome of one component check.
type Result struct {
	Signal Signal
	// Reason is a verdict reason code explaining a non-neutral signal.
	Reason int
}

var neutral = Result{Signal: SignalNeutral}

// Component is one identity check. Implementations must be safe for
// concurrent use; Check runs on every request.
type Component interface {
	Name() string
	Check(ctx context.Context, req *request.Context) Result
}
