// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

func TestErrorPayloadFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   ErrorPayload
		report bool
	}{
		{"nil", nil, ErrorPayload{}, false},
		{"aborted", cancel.ErrAborted, ErrorPayload{}, false},
		{"wrapped aborted", fmt.Errorf("read body: %w", cancel.ErrAborted), ErrorPayload{}, false},
		{"context canceled", context.Canceled, ErrorPayload{}, false},
		{"client cancelled", &ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "request cancelled"}, ErrorPayload{}, false},
		{"idle timeout", cancel.ErrIdleTimeout, ErrorPayload{Status: 504, Message: MsgIdleTimeout}, true},
		{
			"idle timeout inside client error",
			&ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "request cancelled", Cause: cancel.ErrIdleTimeout},
			ErrorPayload{Status: 504, Message: MsgIdleTimeout},
			true,
		},
		{"transport", &ollama.ClientError{Type: ollama.ErrTypeTransport, Message: "failed to reach Ollama"}, ErrorPayload{Status: 0, Message: "failed to reach Ollama"}, true},
		{"http", &ollama.ClientError{Type: ollama.ErrTypeHTTP, Status: 503, Message: "Service Unavailable"}, ErrorPayload{Status: 503, Message: "Service Unavailable"}, true},
		{"no body", &ollama.ClientError{Type: ollama.ErrTypeNoBody, Status: 204}, ErrorPayload{Status: 204, Message: MsgNoBody}, true},
		{"server record", upstreamError("out of memory"), ErrorPayload{Status: 502, Message: "out of memory"}, true},
		{"decode", &ollama.ClientError{Type: ollama.ErrTypeDecode, Message: "failed to decode response"}, ErrorPayload{Status: 502, Message: "failed to decode response"}, true},
		{"client timeout", &ollama.ClientError{Type: ollama.ErrTypeTimeout, Message: "request timed out"}, ErrorPayload{Status: 504, Message: "request timed out"}, true},
		{"wrapped client cancelled", fmt.Errorf("open stream: %w", &ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "request cancelled"}), ErrorPayload{}, false},
		{"deadline", context.DeadlineExceeded, ErrorPayload{Status: 504, Message: "context deadline exceeded"}, true},
		{"plain", errors.New("connection reset"), ErrorPayload{Status: 0, Message: "connection reset"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ErrorPayloadFor(tt.err)
			assert.Equal(t, tt.report, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "chat-stream:c1:llama3", ChatKey("c1", "llama3"))
	assert.Equal(t, "pull-stream:llama3", PullKey("llama3"))
}
