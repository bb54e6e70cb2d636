// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the invite bot's configuration.
//
// Configuration comes from a single YAML file named by the --config flag
// or, when the flag is absent, the VOW_BOT_CONFIG environment variable.
// There is no discovery and no layering of multiple files.
//
// Every scalar value may reference the environment with ${VAR} or
// ${VAR:-default}. Expansion happens on the parsed YAML nodes, not on
// the raw file text, so a secret containing YAML punctuation cannot
// change the document structure.
//
// [Config.Validate] reports every problem at once via errors.Join. A
// config that fails validation is fatal at startup.
package config
