// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for rigrun-relay.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Set a value and save
//   keys                List every key
//   path                Show the configuration file path
//   init [--force]      Write the default configuration
//
// Examples:
//   rigrun-relay config set server.port 9000
//   rigrun-relay config set server.allowed_origins http://localhost,chrome-extension://*
//   rigrun-relay config get relay.idle_timeout_secs --json

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigrun-relay/internal/config"
)

// =============================================================================
// LOADING
// =============================================================================

// LoadConfig loads the configuration selected by args and returns it with the
// path it came from. The path is empty when only defaults and environment
// overrides apply.
func LoadConfig(args Args) (*config.Config, string, error) {
	if args.ConfigFile != "" {
		cfg, err := config.LoadFromPath(args.ConfigFile)
		return cfg, args.ConfigFile, err
	}
	path := config.FindConfigFile()
	cfg, err := config.Load()
	return cfg, path, err
}

// ApplyFlags applies serve flag overrides to cfg and revalidates it.
func ApplyFlags(cfg *config.Config, args Args) error {
	if args.Host != "" {
		cfg.Server.Host = args.Host
	}
	if args.Port != 0 {
		cfg.Server.Port = args.Port
	}
	if args.OllamaURL != "" {
		cfg.Local.OllamaURL = config.NormalizeOllamaHost(args.OllamaURL)
	}
	return cfg.Validate()
}

// writablePath returns the file "config set" and "config init" write to.
func writablePath(args Args) (string, error) {
	if args.ConfigFile != "" {
		return args.ConfigFile, nil
	}
	if path := config.FindConfigFile(); path != "" {
		return path, nil
	}
	return config.ConfigPathTOML()
}

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		return handleConfigShow(args)
	case "get":
		return handleConfigGet(args)
	case "set":
		return handleConfigSet(args)
	case "keys":
		return handleConfigKeys(args)
	case "path":
		return handleConfigPath(args)
	case "init":
		return handleConfigInit(args)
	default:
		return fmt.Errorf("unknown config subcommand: %s", args.Subcommand)
	}
}

func handleConfigShow(args Args) error {
	cfg, path, err := LoadConfig(args)
	if err != nil {
		return err
	}

	if args.JSON {
		// String() already redacts the token.
		return NewJSONResponse("config show", jsonRaw(cfg.String())).Print()
	}

	fmt.Fprintln(stdout, TitleStyle.Render("rigrun-relay Configuration"))
	if path == "" {
		path = "(defaults)"
	}
	fmt.Fprintln(stdout, RenderField("File", path))

	fmt.Fprintln(stdout, SectionStyle.Render("Ollama"))
	fmt.Fprintln(stdout, RenderField("URL", cfg.Local.OllamaURL))
	fmt.Fprintln(stdout, RenderField("Catalog", cfg.Local.CatalogURL))
	fmt.Fprintln(stdout, RenderField("Request timeout", fmt.Sprintf("%ds", cfg.Local.RequestTimeoutSecs)))

	fmt.Fprintln(stdout, SectionStyle.Render("Server"))
	fmt.Fprintln(stdout, RenderField("Listen", cfg.Addr()))
	fmt.Fprintln(stdout, RenderField("Auth token", maskSecret(cfg.Server.AuthToken)))
	fmt.Fprintln(stdout, RenderField("Origins", strings.Join(cfg.Server.AllowedOrigins, ", ")))
	fmt.Fprintln(stdout, RenderField("Rate limit", fmt.Sprintf("%d/min", cfg.Server.RateLimitPerMinute)))

	fmt.Fprintln(stdout, SectionStyle.Render("Relay"))
	idle := "disabled"
	if cfg.Relay.IdleTimeoutSecs > 0 {
		idle = fmt.Sprintf("%ds", cfg.Relay.IdleTimeoutSecs)
	}
	fmt.Fprintln(stdout, RenderField("Idle timeout", idle))
	fmt.Fprintln(stdout, RenderField("Warn threshold", fmt.Sprintf("%d", cfg.Relay.WarnThreshold)))

	fmt.Fprintln(stdout, SectionStyle.Render("Storage"))
	ledger := cfg.Storage.LedgerPath
	if cfg.Storage.Disabled {
		ledger = "disabled"
	}
	fmt.Fprintln(stdout, RenderField("Ledger", ledger))
	if cfg.Logging.File != "" {
		fmt.Fprintln(stdout, RenderField("Log file", cfg.Logging.File))
	}
	return nil
}

func handleConfigGet(args Args) error {
	if args.ConfigKey == "" {
		return errors.New("usage: config get <key>")
	}
	cfg, _, err := LoadConfig(args)
	if err != nil {
		return err
	}
	value, err := cfg.Get(args.ConfigKey)
	if err != nil {
		return err
	}
	if strings.EqualFold(args.ConfigKey, "server.auth_token") {
		value = maskSecret(fmt.Sprint(value))
	}

	if args.JSON {
		return NewJSONResponse("config get", ConfigValueData{Key: args.ConfigKey, Value: value}).Print()
	}
	if list, ok := value.([]string); ok {
		value = strings.Join(list, ",")
	}
	fmt.Fprintln(stdout, value)
	return nil
}

func handleConfigSet(args Args) error {
	if args.ConfigKey == "" {
		return errors.New("usage: config set <key> <value>")
	}
	path, err := writablePath(args)
	if err != nil {
		return err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" || ext == ".yaml" || ext == ".yml" {
		return fmt.Errorf("config set only edits TOML files; edit %s directly", path)
	}

	cfg, _, err := LoadConfig(args)
	if err != nil {
		return err
	}
	if err := cfg.Set(args.ConfigKey, args.ConfigVal); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config set", ConfigValueData{Key: args.ConfigKey, Value: args.ConfigVal}).Print()
	}
	if !args.Quiet {
		fmt.Fprintln(stdout, SuccessStyle.Render("Saved")+" "+args.ConfigKey+" to "+path)
	}
	return nil
}

func handleConfigKeys(args Args) error {
	keys := config.GetAllKeys()
	if args.JSON {
		return NewJSONResponse("config keys", keys).Print()
	}
	for _, k := range keys {
		fmt.Fprintln(stdout, k)
	}
	return nil
}

func handleConfigPath(args Args) error {
	path, err := writablePath(args)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if args.JSON {
		return NewJSONResponse("config path", ConfigPathData{Path: path, Exists: exists}).Print()
	}
	if !exists {
		fmt.Fprintln(stdout, path+" "+DimStyle.Render("(not created yet)"))
		return nil
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func handleConfigInit(args Args) error {
	path := args.ConfigFile
	if path == "" {
		var err error
		if path, err = config.ConfigPathTOML(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil && !args.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	if ledger, err := config.DefaultLedgerPath(); err == nil {
		cfg.Storage.LedgerPath = ledger
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config init", ConfigPathData{Path: path, Exists: true}).Print()
	}
	if !args.Quiet {
		fmt.Fprintln(stdout, SuccessStyle.Render("Created")+" "+path)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// maskSecret shows only the last four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// jsonRaw embeds an already-encoded JSON document in a response.
type jsonRaw string

func (j jsonRaw) MarshalJSON() ([]byte, error) { return []byte(j), nil }
