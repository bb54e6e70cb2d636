// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the bot.
//
// Values are injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time.
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Name is the program name used in --version output and the HTTP
// User-Agent header.
const Name = "vow-invite-bot"

// Info returns a formatted version string for --version output.
func Info() string {
	return fmt.Sprintf("%s %s (%s, %s, %s)", Name, Version, GitCommit, BuildTime, runtime.Version())
}

// UserAgent returns the User-Agent header value for outgoing requests.
func UserAgent() string {
	return Name + "/" + Version
}
