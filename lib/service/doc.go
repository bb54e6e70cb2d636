// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the long-running scaffolding of the bot
// process:
//
//   - Sync loop: the initial Matrix /sync and the incremental
//     long-poll with backoff, delivering responses to a caller-provided
//     handler.
//   - HTTP server: a TCP listener with graceful shutdown, used for the
//     Prometheus and health endpoints.
//
// The bot composes these in its main() rather than subclassing a
// framework. The package provides building blocks, not a runtime.
package service
