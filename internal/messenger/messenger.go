// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package messenger delivers engine events (bans, breaker trips) to
// outbound channels. Delivery is best-effort and fully decoupled from
// admission: a failed send never changes a verdict.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/errors"
)

// Level constants
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Message is one outbound notification.
type Message struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Level     string         `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Messenger sends a message to one outbound channel.
type Messenger interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Webhook posts messages as JSON to an HTTP endpoint.
type Webhook struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhook creates a webhook messenger.
func NewWebhook(name, url string) *Webhook {
	return &Webhook{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Send(ctx context.Context, m Message) error {
	if w.url == "" {
		return errors.New(errors.KindConfiguration, "missing webhook url")
	}

	payload := map[string]any{
		"title":     m.Title,
		"text":      m.Body,
		"level":     m.Level,
		"timestamp": m.Timestamp.Unix(),
	}
	if len(m.Data) > 0 {
		payload["data"] = m.Data
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Errorf(errors.KindUnavailable, "webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}

// Email sends messages over SMTP.
type Email struct {
	name string
	host string
	port int
	user string
	pass string
	from string
	to   []string

	// sendMail is injectable for testing.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail creates an SMTP messenger.
func NewEmail(name, host string, port int, user, pass, from string, to []string) *Email {
	if port == 0 {
		port = 587
	}
	if from == "" {
		from = "doorman@localhost"
	}
	return &Email{
		name:     name,
		host:     host,
		port:     port,
		user:     user,
		pass:     pass,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

func (e *Email) Name() string { return e.name }

func (e *Email) Send(ctx context.Context, m Message) error {
	if e.host == "" || len(e.to) == 0 {
		return errors.New(errors.KindConfiguration, "missing smtp host or recipients")
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.user != "" {
		auth = smtp.PlainAuth("", e.user, e.pass, e.host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ","))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", m.Level, m.Title)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	b.WriteString("\r\n")

	return e.sendMail(addr, auth, e.from, e.to, []byte(b.String()))
}

// FromConfig builds messengers from the notification channel list.
// Unknown channel types are skipped with an error in the returned slice.
func FromConfig(cfg config.NotificationsConfig) ([]Messenger, []error) {
	var out []Messenger
	var errs []error

	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch strings.ToLower(ch.Type) {
		case "webhook":
			out = append(out, NewWebhook(ch.Name, ch.WebhookURL))
		case "email":
			out = append(out, NewEmail(ch.Name, ch.SMTPHost, ch.SMTPPort, ch.SMTPUser, ch.SMTPPass, ch.From, ch.To))
		default:
			errs = append(errs, errors.Errorf(errors.KindConfiguration, "unknown messenger type: %s", ch.Type))
		}
	}
	return out, errs
}
