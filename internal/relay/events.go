// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"encoding/json"

	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

// Event is one message sent to the client over a channel.
type Event interface {
	// Terminal reports whether the event ends the operation.
	Terminal() bool
}

// Sink receives the events of one operation, in order.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// ErrorPayload is the {status, message} body of a failure event.
// Status 0 means no HTTP response was received.
type ErrorPayload struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// =============================================================================
// CHAT EVENTS
// =============================================================================

// DeltaEvent carries one fragment of generated text.
type DeltaEvent struct {
	Delta string `json:"delta"`
}

func (DeltaEvent) Terminal() bool { return false }

// CompletionEvent ends a successful chat with the full text.
type CompletionEvent struct {
	Done    bool           `json:"done"`
	Content string         `json:"content"`
	Metrics ollama.Metrics `json:"metrics"`
}

func (CompletionEvent) Terminal() bool { return true }

// ErrorEvent ends a failed chat.
type ErrorEvent struct {
	Error ErrorPayload `json:"error"`
}

func (ErrorEvent) Terminal() bool { return true }

// AbortedEvent ends a chat that the client stopped.
type AbortedEvent struct {
	Done    bool `json:"done"`
	Aborted bool `json:"aborted"`
}

func (AbortedEvent) Terminal() bool { return true }

// WarningEvent reports repeated unparseable records. The stream continues.
type WarningEvent struct {
	Warning string `json:"warning"`
}

func (WarningEvent) Terminal() bool { return false }

// =============================================================================
// PULL EVENTS
// =============================================================================

// StatusEvent reports pull progress.
type StatusEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

func (StatusEvent) Terminal() bool { return false }

// PullDoneEvent ends a successful pull.
type PullDoneEvent struct {
	Done bool `json:"done"`
}

func (PullDoneEvent) Terminal() bool { return true }

// PullErrorEvent ends a failed pull. Errors reported by the server inside
// the stream are sent as a bare string; request failures as ErrorPayload.
type PullErrorEvent struct {
	Message string
	Payload *ErrorPayload
}

func (PullErrorEvent) Terminal() bool { return true }

// MarshalJSON encodes the error in its string or object form.
func (e PullErrorEvent) MarshalJSON() ([]byte, error) {
	if e.Payload != nil {
		return json.Marshal(struct {
			Error ErrorPayload `json:"error"`
		}{*e.Payload})
	}
	return json.Marshal(struct {
		Error string `json:"error"`
	}{e.Message})
}

// CancelledEvent ends a pull that the client cancelled.
type CancelledEvent struct {
	Done      bool `json:"done"`
	Cancelled bool `json:"cancelled"`
}

func (CancelledEvent) Terminal() bool { return true }
