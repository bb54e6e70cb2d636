// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds the HTTP response helpers shared by the Matrix
// client and the directory client. Every JSON body is read through a
// size limit so that a misbehaving server cannot exhaust memory.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/version"
)

// MaxResponseSize bounds JSON API response reads. The largest response
// the bot reads is an initial /sync, which stays far below this.
const MaxResponseSize int64 = 64 << 20

// maxErrorBody bounds how much of an error response ends up in an error
// message.
const maxErrorBody = 4 << 10

// DecodeResponse reads a JSON body (up to MaxResponseSize bytes) and
// decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorBody reads the start of an error response body for diagnostics.
// Read errors are ignored: a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return string(data)
}

// NewClient returns an http.Client with the given overall request
// timeout. A zero timeout means none, which is what /sync long-polling
// needs; the caller then bounds requests through the context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: userAgentTransport{base: http.DefaultTransport},
	}
}

// userAgentTransport stamps outgoing requests with the bot's user agent.
type userAgentTransport struct {
	base http.RoundTripper
}

func (transport userAgentTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if request.Header.Get("User-Agent") != "" {
		return transport.base.RoundTrip(request)
	}
	clone := request.Clone(request.Context())
	clone.Header.Set("User-Agent", version.UserAgent())
	return transport.base.RoundTrip(clone)
}
