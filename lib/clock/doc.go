// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations the bot depends on: the
// current time for event staleness checks, one-shot waits for sync
// backoff, and tickers for directory token refresh.
//
// Production code uses Real. Tests use Fake, whose time only moves when
// the test calls Advance or Set, so staleness windows and refresh
// intervals can be exercised without sleeping.
package clock
