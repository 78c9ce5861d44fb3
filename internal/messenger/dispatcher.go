// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package messenger

import (
	"context"
	"sync"
	"time"

	"grimm.is/doorman/internal/logging"
)

// Dispatcher fans a message out to every attached messenger. Sends run
// concurrently and failures are logged, never propagated.
type Dispatcher struct {
	logger *logging.Logger

	mu         sync.Mutex
	messengers []Messenger
	lastSent   map[string]time.Time
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default().WithComponent("messenger")
	}
	return &Dispatcher{
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}
}

// Attach registers a messenger.
func (d *Dispatcher) Attach(m Messenger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messengers = append(d.messengers, m)
}

// Detach removes the messenger with the given name.
func (d *Dispatcher) Detach(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, m := range d.messengers {
		if m.Name() == name {
			d.messengers = append(d.messengers[:i], d.messengers[i+1:]...)
			return true
		}
	}
	return false
}

// Messengers returns the attached messengers.
func (d *Dispatcher) Messengers() []Messenger {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Messenger, len(d.messengers))
	copy(out, d.messengers)
	return out
}

// Send dispatches a message to all attached messengers and waits for the
// sends to finish. Repeated messages with the same title are suppressed
// for a minute per messenger to avoid storms.
func (d *Dispatcher) Send(ctx context.Context, m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	targets := d.Messengers()

	var wg sync.WaitGroup
	for _, t := range targets {
		if d.suppressed(t.Name(), m.Title) {
			d.logger.Debug("message suppressed", "messenger", t.Name(), "title", m.Title)
			continue
		}
		wg.Add(1)
		go func(t Messenger) {
			defer wg.Done()
			if err := t.Send(ctx, m); err != nil {
				d.logger.Error("failed to send message",
					"messenger", t.Name(),
					"title", m.Title,
					"error", err)
			}
		}(t)
	}
	wg.Wait()
}

func (d *Dispatcher) suppressed(name, title string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := name + ":" + title
	now := time.Now()

	if last, ok := d.lastSent[key]; ok && now.Sub(last) < 60*time.Second {
		return true
	}
	d.lastSent[key] = now

	if len(d.lastSent) > 1000 {
		d.lastSent = map[string]time.Time{key: now}
	}
	return false
}
