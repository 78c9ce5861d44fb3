// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package messenger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/config"
)

type recordingMessenger struct {
	name string
	mu   sync.Mutex
	got  []Message
	err  error
}

func (r *recordingMessenger) Name() string { return r.name }

func (r *recordingMessenger) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
	return r.err
}

func TestDispatcherFanOut(t *testing.T) {
	d := NewDispatcher(nil)
	a := &recordingMessenger{name: "a"}
	b := &recordingMessenger{name: "b"}
	d.Attach(a)
	d.Attach(b)

	d.Send(context.Background(), Message{Title: "banned", Body: "1.2.3.4", Level: LevelWarning})

	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
	assert.Equal(t, "banned", a.got[0].Title)
	assert.False(t, a.got[0].Timestamp.IsZero())
}

func TestDispatcherSuppressesRepeats(t *testing.T) {
	d := NewDispatcher(nil)
	a := &recordingMessenger{name: "a"}
	d.Attach(a)

	d.Send(context.Background(), Message{Title: "breaker tripped"})
	d.Send(context.Background(), Message{Title: "breaker tripped"})
	d.Send(context.Background(), Message{Title: "other"})

	assert.Len(t, a.got, 2)
}

func TestDispatcherDetach(t *testing.T) {
	d := NewDispatcher(nil)
	d.Attach(&recordingMessenger{name: "a"})
	d.Attach(&recordingMessenger{name: "b"})

	assert.True(t, d.Detach("a"))
	assert.False(t, d.Detach("a"))
	require.Len(t, d.Messengers(), 1)
	assert.Equal(t, "b", d.Messengers()[0].Name())
}

func TestWebhookSend(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook("hook", srv.URL)
	err := w.Send(context.Background(), Message{Title: "banned", Body: "ip 1.2.3.4", Level: LevelCritical})
	require.NoError(t, err)
	assert.Contains(t, gotBody, "banned")
	assert.Contains(t, gotBody, "critical")
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook("hook", srv.URL)
	assert.Error(t, w.Send(context.Background(), Message{Title: "x"}))
}

func TestFromConfig(t *testing.T) {
	ms, errs := FromConfig(config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{
			{Name: "hook", Type: "webhook", Enabled: true, WebhookURL: "http://localhost/x"},
			{Name: "mail", Type: "email", Enabled: true, SMTPHost: "localhost", To: []string{"ops@example.com"}},
			{Name: "off", Type: "webhook", Enabled: false},
			{Name: "bad", Type: "carrier-pigeon", Enabled: true},
		},
	})

	require.Len(t, ms, 2)
	assert.Equal(t, "hook", ms[0].Name())
	assert.Equal(t, "mail", ms[1].Name())
	require.Len(t, errs, 1)
}
