// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package component

import (
	"context"

	"grimm.is/doorman/internal/request"
	"grimm.is/doorman/internal/verdict"
)

// commonHeaders are sent by every mainstream browser. A request missing
// all of them was almost certainly not produced by one.
var commonHeaders = []string{
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
}

// Header checks header completeness. Only strict mode denies: a request
// carrying none of the common browser headers is rejected.
type Header struct {
	strict bool
}

// NewHeader creates the component.
func NewHeader(strict bool) *Header {
	return &Header{strict: strict}
}

func (c *Header) Name() string { return "header" }

func (c *Header) Check(_ context.Context, req *request.Context) Result {
	if !c.strict {
		return neutral
	}
	for _, h := range commonHeaders {
		if req.Header(h) != "" {
			return neutral
		}
	}
	return Result{Signal: SignalDeny, Reason: verdict.ReasonComponentHeader}
}
