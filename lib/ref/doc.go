// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifiers for
// the invite bot: user IDs, room IDs, room aliases, server names, event
// IDs and event types.
//
// Every value arriving from configuration or from a homeserver response
// is parsed into one of these types at the boundary. Once constructed a
// ref is immutable, and the zero value is never valid (use IsZero).
//
// JSON marshaling uses the canonical Matrix string form via
// encoding.TextMarshaler, so refs can be used directly as struct fields
// and map keys in wire types.
package ref
