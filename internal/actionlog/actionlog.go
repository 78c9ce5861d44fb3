// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package actionlog keeps an append-only record of admission decisions.
// Entries go to one JSON-lines file per day so retention is a matter of
// deleting old files.
package actionlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/doorman/internal/clock"
	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/logging"
)

// Entry is one logged decision.
type Entry struct {
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	Channel    string `json:"channel"`
	IP         string `json:"ip"`
	SessionID  string `json:"session_id,omitempty"`
	ActionCode int    `json:"action_code"`
	ReasonCode int    `json:"reason_code"`
}

// Logger appends entries to daily files under a directory.
type Logger struct {
	dir    string
	logger *logging.Logger

	mu      sync.Mutex
	f       *os.File
	curDate string
}

// New creates an action logger writing under dir. The directory is
// created if missing.
func New(dir string, logger *logging.Logger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "failed to create action log directory")
	}
	if logger == nil {
		logger = logging.Default().WithComponent("actionlog")
	}
	return &Logger{dir: dir, logger: logger}, nil
}

// Append writes one entry. Missing ID and Timestamp fields are filled
// in. Append never blocks admission on disk trouble; the error is
// returned for callers that care and logged regardless.
func (l *Logger) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = clock.Now().Unix()
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode action log entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := time.Unix(e.Timestamp, 0).UTC().Format("2006-01-02")
	if err := l.rotate(date); err != nil {
		l.logger.Error("action log rotation failed", "error", err)
		return err
	}

	if _, err := l.f.Write(append(raw, '\n')); err != nil {
		l.logger.Error("action log write failed", "error", err)
		return errors.Wrap(err, errors.KindUnavailable, "failed to write action log entry")
	}
	return nil
}

// rotate opens the file for the given date if it is not current. Caller
// holds the mutex.
func (l *Logger) rotate(date string) error {
	if l.f != nil && l.curDate == date {
		return nil
	}
	if l.f != nil {
		l.f.Close()
		l.f = nil
	}

	path := filepath.Join(l.dir, "doorman-"+date+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to open action log file")
	}
	l.f = f
	l.curDate = date
	return nil
}

// Entries reads back every entry logged on the given date.
func (l *Logger) Entries(date string) ([]Entry, error) {
	path := filepath.Join(l.dir, "doorman-"+date+".log")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to read action log file")
	}

	var out []Entry
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "corrupt action log entry")
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the current file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		err := l.f.Close()
		l.f = nil
		return err
	}
	return nil
}
