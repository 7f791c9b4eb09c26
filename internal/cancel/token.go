// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cancel

import (
	"context"
	"errors"
	"sync"
)

// Sentinel causes recorded on a signaled token.
var (
	// ErrAborted is the cause of a deliberate stop (user request, channel close,
	// or a newer operation taking over the key).
	ErrAborted = errors.New("operation aborted")

	// ErrIdleTimeout is the cause when the stream produced no bytes for too long.
	ErrIdleTimeout = errors.New("stream idle timeout")
)

// =============================================================================
// TOKEN
// =============================================================================

// Token is a cancellation handle that can be signaled exactly once.
// The first signal wins; later calls are no-ops.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
}

// NewToken creates a token derived from parent. Cancelling parent also
// signals the token, with the parent's cause.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the context that is done once the token is signaled.
// Attach it to the upstream HTTP request.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Abort signals the token with ErrAborted.
func (t *Token) Abort() {
	t.signal(ErrAborted)
}

// Expire signals the token with ErrIdleTimeout.
func (t *Token) Expire() {
	t.signal(ErrIdleTimeout)
}

func (t *Token) signal(cause error) {
	t.once.Do(func() {
		t.cancel(cause)
	})
}

// Signaled reports whether the token (or its parent) has been signaled.
func (t *Token) Signaled() bool {
	return t.ctx.Err() != nil
}

// Cause returns why the token was signaled, or nil while it is live.
func (t *Token) Cause() error {
	if t.ctx.Err() == nil {
		return nil
	}
	return context.Cause(t.ctx)
}

// Aborted reports whether the token was signaled as a deliberate stop.
// A cancelled parent context counts as a deliberate stop.
func (t *Token) Aborted() bool {
	cause := t.Cause()
	if cause == nil {
		return false
	}
	return !errors.Is(cause, ErrIdleTimeout)
}

// Release frees the context resources without recording a stop. It is safe
// to call after the operation has finished.
func (t *Token) Release() {
	t.signal(context.Canceled)
}
