// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	// ErrTypeTransport: the request could not be made or failed before headers.
	ErrTypeTransport
	// ErrTypeHTTP: headers arrived with a non-success status.
	ErrTypeHTTP
	// ErrTypeNoBody: success status but nothing to stream.
	ErrTypeNoBody
	// ErrTypeCancelled: the caller's context was cancelled.
	ErrTypeCancelled
	// ErrTypeTimeout: a deadline expired.
	ErrTypeTimeout
	// ErrTypeDecode: a response could not be decoded.
	ErrTypeDecode
	// ErrTypeServer: the server reported a failure inside a success response.
	ErrTypeServer
)

// String returns a short name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeTransport:
		return "transport"
	case ErrTypeHTTP:
		return "http"
	case ErrTypeNoBody:
		return "no_body"
	case ErrTypeCancelled:
		return "cancelled"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeDecode:
		return "decode"
	case ErrTypeServer:
		return "server"
	default:
		return "unknown"
	}
}

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type ErrorType
	// Status is the HTTP status code, or 0 when no response was received.
	Status  int
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

const msgNoBody = "no response body received"

// transportError classifies a failed http.Client.Do call.
func transportError(ctx context.Context, err error) *ClientError {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, context.DeadlineExceeded) {
			return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: cause}
		}
		return &ClientError{Type: ErrTypeCancelled, Message: "request cancelled", Cause: cause}
	}
	return &ClientError{Type: ErrTypeTransport, Message: "failed to reach Ollama", Cause: err}
}

// httpError builds the error for a non-success status. detail is the
// server's own error text, if it sent one.
func httpError(status int, reason, detail string) *ClientError {
	msg := reason
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", reason, detail)
	}
	return &ClientError{Type: ErrTypeHTTP, Status: status, Message: msg}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func errorType(err error) (ErrorType, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type, true
	}
	return ErrTypeUnknown, false
}

// IsCancelled checks if an error is a cancellation.
func IsCancelled(err error) bool {
	if t, ok := errorType(err); ok {
		return t == ErrTypeCancelled
	}
	return errors.Is(err, context.Canceled)
}

// IsTransport checks if an error happened before any response was received.
func IsTransport(err error) bool {
	t, _ := errorType(err)
	return t == ErrTypeTransport
}

// IsNotRunning checks if an error indicates Ollama is not reachable.
func IsNotRunning(err error) bool {
	return IsTransport(err)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	if t, ok := errorType(err); ok {
		return t == ErrTypeTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Status
	}
	return 0
}
