// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state, timeline or account data event
// type ("m.room.member", "m.space.child", "m.direct"). Constants live in
// lib/schema.
//
// A named string rather than a struct: event types need no validation,
// the type only keeps event types and state keys from being swapped.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }
