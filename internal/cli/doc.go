// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the non-serve commands of
// rigrun-relay.
//
// # Usage
//
//	cmd, args, err := cli.Parse()
//	switch cmd {
//	case cli.CmdServe:
//	    // start the daemon
//	case cli.CmdStatus:
//	    err = cli.HandleStatus(args)
//	case cli.CmdConfig:
//	    err = cli.HandleConfig(args)
//	}
//
// Every command accepts --json and then prints a JSONResponse
// ({"success":..., "data":..., "error":..., "timestamp":...}) instead of
// styled text. Styled output uses lipgloss and turns colors off when stdout
// is not a terminal or NO_COLOR is set.
package cli
