// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package verdict defines the externally observable decision codes of
// the admission engine. The numeric values are stable; stored rule
// entries and action log lines reference them.
package verdict

// Verdict is the engine's decision for one request.
type Verdict int

const (
	Deny            Verdict = 0
	Allow           Verdict = 1
	TemporarilyDeny Verdict = 2
	LimitSession    Verdict = 3
)

func (v Verdict) String() string {
	switch v {
	case Deny:
		return "DENY"
	case Allow:
		return "ALLOW"
	case TemporarilyDeny:
		return "TEMPORARILY_DENY"
	case LimitSession:
		return "LIMIT_SESSION"
	default:
		return "UNKNOWN"
	}
}

// Action codes recorded in the action log.
const (
	ActionDeny            = 0
	ActionAllow           = 1
	ActionTemporarilyDeny = 2
	ActionUnban           = 9
)

// Reason codes paired with actions. Grouped by the subsystem that
// produces them.
const (
	ReasonNone = 0

	// Session admission and behavioral filters.
	ReasonTooManySessions = 1
	ReasonTooManyAccesses = 2
	ReasonEmptyCookie     = 3
	ReasonEmptyReferer    = 4

	// Frequency filter, per time unit.
	ReasonReachedLimitDay    = 11
	ReasonReachedLimitHour   = 12
	ReasonReachedLimitMinute = 13
	ReasonReachedLimitSecond = 14

	// Rule list.
	ReasonInvalidIP = 40
	ReasonDenyIP    = 41
	ReasonAllowIP   = 42

	// Identity components.
	ReasonComponentIP         = 81
	ReasonComponentRDNS       = 82
	ReasonComponentHeader     = 83
	ReasonComponentUserAgent  = 84
	ReasonComponentTrustedBot = 85

	// Administrative.
	ReasonManualBan = 99
)

// ReasonText returns a short human label for a reason code.
func ReasonText(code int) string {
	switch code {
	case ReasonTooManySessions:
		return "too many sessions"
	case ReasonTooManyAccesses:
		return "too many accesses"
	case ReasonEmptyCookie:
		return "empty challenge cookie"
	case ReasonEmptyReferer:
		return "empty referer"
	case ReasonReachedLimitDay:
		return "daily limit reached"
	case ReasonReachedLimitHour:
		return "hourly limit reached"
	case ReasonReachedLimitMinute:
		return "minute limit reached"
	case ReasonReachedLimitSecond:
		return "second limit reached"
	case ReasonInvalidIP:
		return "invalid ip"
	case ReasonDenyIP:
		return "ip on deny list"
	case ReasonAllowIP:
		return "ip on allow list"
	case ReasonComponentIP:
		return "ip component"
	case ReasonComponentRDNS:
		return "rdns component"
	case ReasonComponentHeader:
		return "header component"
	case ReasonComponentUserAgent:
		return "user agent component"
	case ReasonComponentTrustedBot:
		return "trusted bot component"
	case ReasonManualBan:
		return "manual ban"
	default:
		return "unspecified"
	}
}
