// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the Matrix event types and content structs the
// invite bot reads and writes: membership, messages, power levels, join
// rules, space hierarchy relationships and the m.direct account data
// record.
//
// Content structs mirror the Matrix client-server wire format and are
// sent as-is through messaging.DirectSession.SendStateEvent. Event type
// constants are ref.EventType values so that they cannot be confused
// with state keys at call sites.
package schema
