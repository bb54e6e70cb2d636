// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the bot's Matrix client-server API client.
//
// [Client] holds the homeserver URL and HTTP transport. [DirectSession]
// adds an access token (kept in a secret.Buffer) and implements the
// operations the bot performs: /sync, alias resolution, room creation,
// invites, messages, state events, joined member lists and account
// data. [SynapseAdmin] wraps the same session for the Synapse admin API
// user lookup that links a Matrix account to its directory identity.
//
// Every non-2xx response becomes a *MatrixError carrying the errcode
// and HTTP status. [LookupAlias] turns alias resolution into a typed
// outcome so that "alias does not exist" is never confused with a
// transport or permission failure.
package messaging
