// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint error handler for the bot binary.
package process

import (
	"fmt"
	"io"
	"os"
)

// exit is replaced in tests.
var exit = os.Exit

// Fatal writes "<program>: error: err" to stderr and exits with code 1.
// Use it in main for errors that occur before the structured logger is
// configured, such as an unreadable or invalid config file.
func Fatal(program string, err error) {
	report(os.Stderr, program, err)
	exit(1)
}

func report(writer io.Writer, program string, err error) {
	fmt.Fprintf(writer, "%s: error: %v\n", program, err)
}
