// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cancel provides cancellation tokens and the keyed registry that
// tracks the live token for every in-flight relay operation.
//
// # Key Types
//
//   - Token: a one-shot cancellation signal backed by a context
//   - Registry: a mutex-guarded table mapping operation keys to tokens
//
// # Usage
//
//	reg := cancel.NewRegistry()
//	tok := cancel.NewToken(ctx)
//	reg.AbortAndClear(key) // last writer wins
//	reg.Set(key, tok)
//	defer reg.CompareAndClear(key, tok)
//
//	req, _ := http.NewRequestWithContext(tok.Context(), ...)
//
// Signaling a token is idempotent. Abort and Expire record distinct causes
// so callers can tell a deliberate stop from an idle timeout via
// context.Cause.
package cancel
