// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"errors"
	"net/http"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

// Messages used in error payloads.
const (
	MsgNoBody        = "no response body received"
	MsgIdleTimeout   = "stream idle timeout"
	MsgEndedEarly    = "stream ended before completion"
	MsgInternalError = "internal error"
)

// ErrorPayloadFor maps err to the {status, message} sent to the client.
// It returns false when err is a cancellation, which is never reported as
// an error.
func ErrorPayloadFor(err error) (ErrorPayload, bool) {
	if err == nil {
		return ErrorPayload{}, false
	}

	// Idle expiry is checked first: it cancels the request context but is a
	// failure, not a user cancellation.
	if errors.Is(err, cancel.ErrIdleTimeout) {
		return ErrorPayload{Status: http.StatusGatewayTimeout, Message: MsgIdleTimeout}, true
	}

	if ollama.IsCancelled(err) || errors.Is(err, cancel.ErrAborted) {
		return ErrorPayload{}, false
	}
	if ollama.IsTimeout(err) {
		return ErrorPayload{Status: http.StatusGatewayTimeout, Message: err.Error()}, true
	}

	var ce *ollama.ClientError
	if errors.As(err, &ce) {
		switch ce.Type {
		case ollama.ErrTypeHTTP:
			return ErrorPayload{Status: ce.Status, Message: ce.Message}, true
		case ollama.ErrTypeNoBody:
			return ErrorPayload{Status: ce.Status, Message: MsgNoBody}, true
		case ollama.ErrTypeServer, ollama.ErrTypeDecode:
			status := ce.Status
			if status == 0 {
				status = http.StatusBadGateway
			}
			return ErrorPayload{Status: status, Message: ce.Message}, true
		default:
			return ErrorPayload{Status: 0, Message: ce.Error()}, true
		}
	}

	// Anything else is a network failure while reading the body.
	return ErrorPayload{Status: 0, Message: err.Error()}, true
}

// upstreamError wraps an error record found inside a stream.
func upstreamError(msg string) error {
	return &ollama.ClientError{Type: ollama.ErrTypeServer, Status: http.StatusBadGateway, Message: msg}
}
