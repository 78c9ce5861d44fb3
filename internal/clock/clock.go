// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clock provides a process-wide clock that tests can override.
// Window arithmetic throughout the engine goes through clock.Now so that
// counter rollovers and expiry sweeps are testable without sleeping.
package clock

import (
	"sync"
	"time"
)

var (
	mu  sync.RWMutex
	now func() time.Time = time.Now
)

// Now returns the current time from the active clock source.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return now()
}

// Set replaces the clock source. Intended for tests.
func Set(fn func() time.Time) {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	now = fn
}

// SetFixed pins the clock to a fixed instant. Intended for tests.
func SetFixed(t time.Time) {
	Set(func() time.Time { return t })
}

// Reset restores the wall clock.
func Reset() {
	Set(nil)
}
