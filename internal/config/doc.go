// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the relay.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - LocalConfig: Ollama and model catalog endpoints
//   - ServerConfig: Listener, auth token and allowed origins
//   - Store: Live configuration with file watching
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_RELAY_*, OLLAMA_HOST)
//   - .env in the working directory, then ~/.rigrun-relay/.env
//   - ~/.rigrun-relay/config.toml
//   - ~/.rigrun-relay/config.json
//   - ~/.rigrun-relay/config.yaml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := config.NewStore(cfg, config.FindConfigFile())
//	go store.Watch(ctx)
//
//	client := ollama.NewClient().WithBaseURLFunc(store.BaseURL)
package config
