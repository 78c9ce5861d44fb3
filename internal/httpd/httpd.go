// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpd adapts the admission engine to net/http: it builds the
// engine's request context from an inbound request and exposes a
// middleware that maps verdicts onto status codes.
package httpd

import (
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/kernel"
	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/verdict"
)

// SessionCookie names the cookie carrying the session identifier the
// engine tracks.
const SessionCookie = "doorman_session"

// FromRequest builds the engine's request context from an HTTP request.
// The client IP honors X-Forwarded-For only when trustProxy is set.
func FromRequest(r *http.Request, trustProxy bool) *request.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			// First hop is the original client.
			if i := strings.IndexByte(fwd, ','); i >= 0 {
				fwd = fwd[:i]
			}
			ip = strings.TrimSpace(fwd)
		}
	}

	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	headers := make(map[string]string, len(r.Header))
	for name, vals := range r.Header {
		if len(vals) > 0 {
			headers[textproto.CanonicalMIMEHeaderKey(name)] = vals[0]
		}
	}

	return &request.Context{
		IP:        ip,
		SessionID: cookies[SessionCookie],
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		Protocol:  r.Proto,
		Cookies:   cookies,
		Headers:   headers,
	}
}

// Middleware gates requests through the kernel.
type Middleware struct {
	kernel     *kernel.Kernel
	cookieName string
	trustProxy bool
	logger     *logging.Logger
}

// NewMiddleware creates the admission middleware. cookieName is the
// challenge cookie the cookie filter issues.
func NewMiddleware(k *kernel.Kernel, cookieName string, trustProxy bool, logger *logging.Logger) *Middleware {
	if logger == nil {
		logger = logging.Default().WithComponent("httpd")
	}
	return &Middleware{kernel: k, cookieName: cookieName, trustProxy: trustProxy, logger: logger}
}

// Handler wraps next with admission control. Mountable directly as a
// gorilla/mux middleware via router.Use(m.Handler).
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := FromRequest(r, m.trustProxy)

		// Every client gets a session identifier on first contact.
		minted := false
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
			minted = true
		}

		out, err := m.kernel.Run(r.Context(), req)
		if err != nil {
			if errors.GetKind(err) == errors.KindValidation {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			m.logger.Error("admission check failed", "ip", req.IP, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if minted {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    req.SessionID,
				Path:     "/",
				HttpOnly: true,
			})
		}
		if out.IssuedCookie != "" {
			http.SetCookie(w, &http.Cookie{
				Name:  m.cookieName,
				Value: out.IssuedCookie,
				Path:  "/",
			})
		}

		switch out.Verdict {
		case verdict.Deny:
			http.Error(w, "forbidden", http.StatusForbidden)
		case verdict.TemporarilyDeny:
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		case verdict.LimitSession:
			w.Header().Set("Retry-After", "30")
			http.Error(w,
				fmt.Sprintf("queue position %d", out.QueuePosition),
				http.StatusServiceUnavailable)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
