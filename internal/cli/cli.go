// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing for rigrun-relay.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// stdout and stderr are where command output goes; tests swap them.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdStatus
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdServe:
		return "serve"
	case CmdStatus:
		return "status"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool
	JSON       bool   // Output in JSON format
	ConfigFile string // Explicit config file (skips discovery)

	// Serve overrides
	Host      string
	Port      int
	OllamaURL string

	// Command-specific
	Subcommand string
	ConfigKey  string
	ConfigVal  string
	Force      bool // config init: overwrite an existing file

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `rigrun-relay - streaming relay between a chat UI and a local Ollama server

Usage:
  rigrun-relay                        Start the relay (default)
  rigrun-relay serve                  Start the relay
  rigrun-relay status, s              Show relay and Ollama status
  rigrun-relay config [subcommand]    Configuration
  rigrun-relay version                Show version information
  rigrun-relay help                   Show this help

Config Subcommands:
  show (default)                      Print the effective configuration
  get <key>                           Print one value (dot notation)
  set <key> <value>                   Set a value and save the config file
  keys                                List every configuration key
  path                                Show the config file location
  init [--force]                      Write a default config file

Global Flags:
  --config <file>                     Use this config file (toml, json or yaml)
  --json                              Output in JSON format
  -q, --quiet                         Suppress non-essential output
  -v, --verbose                       Verbose logging

Serve Flags:
  --host <host>                       Listen host (overrides server.host)
  --port <port>                       Listen port (overrides server.port)
  --ollama <url>                      Ollama URL (overrides local.ollama_url)

Environment:
  OLLAMA_HOST                         Ollama address, as understood by ollama itself
  RIGRUN_RELAY_HOME                   Config directory (default ~/.rigrun-relay)
  RIGRUN_RELAY_AUTH_TOKEN             Token clients must present
  RIGRUN_RELAY_ALLOWED_ORIGINS        Comma separated browser origins

Examples:
  rigrun-relay --port 9000
  rigrun-relay config set server.auth_token s3cret
  rigrun-relay config get local.ollama_url
  rigrun-relay status --json

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Fprintf(stdout, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Fprintf(stdout, "rigrun-relay version %s\n", Version)
	fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(stdout, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(stdout, "  Go:         %s\n", runtime.Version())
}

// Parse parses os.Args.
func Parse() (Command, Args, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses command-line arguments and returns the command and args.
func ParseArgs(argv []string) (Command, Args, error) {
	remaining, parsedArgs, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdHelp, parsedArgs, err
	}

	if len(remaining) == 0 {
		return CmdServe, parsedArgs, nil
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "serve", "start":
		return CmdServe, parsedArgs, nil

	case "status", "s":
		return CmdStatus, parsedArgs, nil

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs, nil

	case "version", "--version":
		return CmdVersion, parsedArgs, nil

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs, nil

	default:
		return CmdHelp, parsedArgs, fmt.Errorf("unknown command: %s", cmd)
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args, error) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		name, value, hasValue := strings.Cut(arg, "=")
		takeValue := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("flag %s requires a value", name)
			}
			i++
			return args[i], nil
		}

		switch name {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--config", "-c":
			v, err := takeValue()
			if err != nil {
				return nil, parsedArgs, err
			}
			parsedArgs.ConfigFile = v
		case "--host":
			v, err := takeValue()
			if err != nil {
				return nil, parsedArgs, err
			}
			parsedArgs.Host = v
		case "--port", "-p":
			v, err := takeValue()
			if err != nil {
				return nil, parsedArgs, err
			}
			port, err := strconv.Atoi(v)
			if err != nil || port < 1 || port > 65535 {
				return nil, parsedArgs, fmt.Errorf("invalid port: %s", v)
			}
			parsedArgs.Port = port
		case "--ollama":
			v, err := takeValue()
			if err != nil {
				return nil, parsedArgs, err
			}
			parsedArgs.OllamaURL = v
		default:
			remaining = append(remaining, arg)
		}
	}

	return remaining, parsedArgs, nil
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	var positional []string
	for _, arg := range remaining {
		if arg == "--force" || arg == "-f" {
			args.Force = true
			continue
		}
		positional = append(positional, arg)
	}
	remaining = positional
	if len(remaining) == 0 {
		return
	}
	args.Subcommand = strings.ToLower(remaining[0])
	if len(remaining) > 1 {
		args.ConfigKey = remaining[1]
	}
	if len(remaining) > 2 {
		args.ConfigVal = strings.Join(remaining[2:], " ")
	}
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
	}
	PrintVersion()
	return nil
}

// commandName is the name used in JSON responses, e.g. "config get".
func commandName(cmd Command, args Args) string {
	if cmd != CmdConfig {
		return cmd.String()
	}
	sub := args.Subcommand
	if sub == "" {
		sub = "show"
	}
	return "config " + sub
}

// ReportError prints a failed command's error: as a JSON error response on
// stdout with --json, otherwise as text on stderr.
func ReportError(cmd Command, args Args, err error) {
	if args.JSON {
		if perr := NewJSONErrorResponse(commandName(cmd, args), err).Print(); perr == nil {
			return
		}
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}
