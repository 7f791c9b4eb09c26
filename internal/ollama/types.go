// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string   `json:"role"`             // "user", "assistant", "system", "tool"
	Content string   `json:"content"`          // The message content
	Images  []string `json:"images,omitempty"` // Base64 images for multimodal models
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`    // Model name (e.g., "qwen2.5-coder:14b")
	Messages []Message `json:"messages"` // Conversation history
	Stream   bool      `json:"stream"`
	// KeepAlive is a pointer so an explicit 0 is sent (used to unload).
	KeepAlive *int `json:"keep_alive,omitempty"`
}

// PullRequest is the request body for /api/pull endpoint.
type PullRequest struct {
	Model  string `json:"model"`
	Name   string `json:"name,omitempty"` // Older servers read "name"
	Stream bool   `json:"stream"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// Metrics holds the timing and token counts Ollama reports on the final
// chat record. Durations are nanoseconds.
type Metrics struct {
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// IsZero reports whether no metric was reported.
func (m Metrics) IsZero() bool {
	return m == Metrics{}
}

// TokensPerSecond calculates the generation speed.
func (m Metrics) TokensPerSecond() float64 {
	if m.EvalDuration == 0 {
		return 0
	}
	seconds := float64(m.EvalDuration) / 1e9
	return float64(m.EvalCount) / seconds
}

// ChatChunk is one record of a streaming /api/chat response.
type ChatChunk struct {
	Model      string  `json:"model"`
	Message    Message `json:"message"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`
	// Error is set when the server reports a failure mid-stream.
	Error string `json:"error,omitempty"`
	Metrics
}

// PullChunk is one record of a streaming /api/pull response.
type PullChunk struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Finished reports whether this record ends the pull. Ollama marks the end
// with status "success"; an explicit done flag is honored too.
func (p *PullChunk) Finished() bool {
	return p.Done || p.Status == "success"
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is the non-streaming response from /api/chat.
type ChatResponse struct {
	Model      string  `json:"model"`
	Message    Message `json:"message"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`
	Metrics
}

// ModelInfo contains information about a model.
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// RunningModel is a model currently loaded in memory.
type RunningModel struct {
	Name      string       `json:"name"`
	Model     string       `json:"model"`
	Size      int64        `json:"size"`
	Digest    string       `json:"digest"`
	Details   ModelDetails `json:"details,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
	SizeVRAM  int64        `json:"size_vram"`
}

// ListRunningResponse is the response from /api/ps endpoint.
type ListRunningResponse struct {
	Models []RunningModel `json:"models"`
}

// VersionResponse is the response from /api/version endpoint.
type VersionResponse struct {
	Version string `json:"version"`
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// FormatSize formats the model size in human-readable form.
func (m *ModelInfo) FormatSize() string {
	return formatSize(m.Size)
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
