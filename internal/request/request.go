// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package request holds the immutable per-request context the engine
// evaluates. It carries everything the components and filters read so
// no global request state exists anywhere in the engine.
package request

import "net/textproto"

// Context describes one inbound request. Values are copied out of the
// transport layer before the engine runs; the engine never mutates it.
type Context struct {
	// IP is the client address in its original textual form.
	IP string
	// SessionID identifies the client's session, usually a cookie value
	// minted by the transport adapter.
	SessionID string
	UserAgent string
	Referer   string
	Protocol  string

	// Cookies maps cookie names to values.
	Cookies map[string]string
	// Headers maps canonical header names to their first value.
	Headers map[string]string
}

// Cookie returns the named cookie value, or empty.
func (c *Context) Cookie(name string) string {
	return c.Cookies[name]
}

// Header returns the named header value, case-insensitively.
func (c *Context) Header(name string) string {
	return c.Headers[textproto.CanonicalMIMEHeaderKey(name)]
}
