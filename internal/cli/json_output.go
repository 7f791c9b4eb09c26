// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output for scripting and monitoring.

package cli

import (
	"encoding/json"
	"time"
)

// JSONResponse is the response format of every command run with --json.
type JSONResponse struct {
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data any `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is when the response was generated (RFC 3339, UTC)
	Timestamp string `json:"timestamp"`

	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print outputs the JSON response to stdout.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// StatusData represents the data returned by the status command.
type StatusData struct {
	Relay  StatusRelayInfo  `json:"relay"`
	Ollama StatusOllamaInfo `json:"ollama"`
}

// StatusRelayInfo describes the relay listener.
type StatusRelayInfo struct {
	Addr           string `json:"addr"`
	Running        bool   `json:"running"`
	Version        string `json:"version,omitempty"`
	UptimeSeconds  int64  `json:"uptime_seconds,omitempty"`
	OpenChannels   int    `json:"open_channels"`
	TotalChannels  int64  `json:"total_channels"`
	Operations     int64  `json:"operations_recorded"`
	AuthConfigured bool   `json:"auth_configured"`
	Error          string `json:"error,omitempty"`
}

// StatusOllamaInfo describes the upstream Ollama server.
type StatusOllamaInfo struct {
	URL       string   `json:"url"`
	Running   bool     `json:"running"`
	Version   string   `json:"version,omitempty"`
	Installed int           `json:"installed_models"`
	Models    []StatusModel `json:"models"`
	Loaded    []string      `json:"loaded_models"`
	Error     string        `json:"error,omitempty"`
}

// StatusModel is one installed model.
type StatusModel struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

// ConfigValueData is returned by "config get".
type ConfigValueData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ConfigPathData is returned by "config path".
type ConfigPathData struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}
