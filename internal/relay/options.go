// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ndjson"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

// Operation kinds, also used as channel names.
const (
	KindChat = "chat-stream"
	KindPull = "pull-stream"
)

// ChatKey returns the registry key of a chat on one connection.
func ChatKey(connID, model string) string {
	return KindChat + ":" + connID + ":" + model
}

// PullKey returns the registry key of a pull. Pulls are keyed by model only,
// so two channels pulling the same model contend for one slot.
func PullKey(model string) string {
	return KindPull + ":" + model
}

// Upstream opens the streaming calls. *ollama.Client satisfies it.
type Upstream interface {
	OpenChatStream(ctx context.Context, model string, messages []ollama.Message) (io.ReadCloser, error)
	OpenPullStream(ctx context.Context, model string) (io.ReadCloser, error)
}

// Outcome summarizes a finished operation.
type Outcome struct {
	ID         string
	Kind       string
	Model      string
	State      State
	Error      *ErrorPayload
	Metrics    ollama.Metrics
	Stats      Stats
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists outcomes. Failures are logged and otherwise ignored.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, o Outcome) error

// RecordOutcome calls f.
func (f RecorderFunc) RecordOutcome(ctx context.Context, o Outcome) error { return f(ctx, o) }

// Options configures an orchestrator.
type Options struct {
	Registry *cancel.Registry
	Upstream Upstream

	// Recorder is optional.
	Recorder Recorder

	// Logger defaults to log.Default().
	Logger *log.Logger

	// IdleTimeout expires a stream that delivers no bytes for this long.
	// Zero disables the check.
	IdleTimeout time.Duration

	// WarnThreshold is the number of consecutive unparseable records that
	// triggers a warning event. Zero uses ndjson.DefaultWarnThreshold.
	WarnThreshold int

	// ChunkSize is the body read size. Zero uses ndjson.DefaultChunkSize.
	ChunkSize int
}

func (o Options) withDefaults() Options {
	if o.Registry == nil {
		o.Registry = cancel.NewRegistry()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.WarnThreshold <= 0 {
		o.WarnThreshold = ndjson.DefaultWarnThreshold
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = ndjson.DefaultChunkSize
	}
	return o
}
