// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workshop maps directory group memberships to workshop roles
// and workshop slugs to Matrix room aliases.
//
// Both halves are pure functions. [Classify] merges a user's raw
// directory groups into one [WorkshopGroup] per slug. [Naming] turns a
// slug into the alias of the workshop's space or general room; the
// mapping is deterministic, so every event and every process instance
// converges on the same rooms.
package workshop
