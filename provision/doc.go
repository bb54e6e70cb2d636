// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision reconciles workshop membership in the directory
// with workshop rooms on the homeserver.
//
// Two triggers drive it. A user joining the monitored room makes the
// [Engine] look up the user's workshops: owners get a direct message
// (inviting them to the existing space, or explaining how to create
// it) and crew members are invited to spaces that exist. An owner
// sending "!create <slug>" in a direct message makes the engine create
// the workshop space and its general room, nest them, and make the
// owner an admin of both.
//
// The homeserver is the only record of what exists. Every decision
// starts from an alias lookup ([Resolver]); an alias that is missing
// (M_NOT_FOUND) leads to creation, any other lookup failure aborts.
// Concurrent resolve-or-create calls for the same alias within the
// process are coalesced.
//
// [Router] turns /sync responses into trigger calls, each on its own
// goroutine behind a recover guard so that one failing event never
// stops the bot.
package provision
