// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory is a client for the Keycloak admin REST API, the
// identity directory that records which workshops a user belongs to.
//
// The admin API needs a short-lived bearer token. [TokenHolder] owns it:
// it acquires tokens with the OAuth2 client credentials grant (or the
// password grant for the admin-cli client), hands out the current token
// to concurrent callers, and refreshes it on a fixed interval from
// [TokenHolder.Run]. A request made with an expired token fails with an
// [*APIError] like any other rejected request.
//
// [Client.UserGroups] lists a user's groups with their attributes; the
// workshop package turns those into workshop roles.
package directory
