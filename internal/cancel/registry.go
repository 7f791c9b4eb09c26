// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cancel

import "sync"

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps operation keys to the live cancellation token for that key.
//
// Distinct keys never interfere. Two operations may race on the same key
// (a second pull of a model while the first is running), so every method
// takes the lock.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[string]*Token),
	}
}

// Set stores tok under key, replacing any existing entry without aborting it.
// Passing a nil token removes the entry.
func (r *Registry) Set(key string, tok *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tok == nil {
		delete(r.tokens, key)
		return
	}
	r.tokens[key] = tok
}

// Get returns the token registered under key.
func (r *Registry) Get(key string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[key]
	return tok, ok
}

// Has reports whether a token is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.tokens[key]
	return ok
}

// Clear removes the entry under key without signaling it.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, key)
}

// AbortAndClear signals the token under key and removes it.
// It is a no-op when no token is registered.
func (r *Registry) AbortAndClear(key string) {
	r.mu.Lock()
	tok, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()

	if ok {
		tok.Abort()
	}
}

// Replace aborts whatever is registered under key and stores tok in its
// place, as one step.
func (r *Registry) Replace(key string, tok *Token) {
	r.mu.Lock()
	prev, ok := r.tokens[key]
	r.tokens[key] = tok
	r.mu.Unlock()

	if ok && prev != tok {
		prev.Abort()
	}
}

// CompareAndClear removes the entry under key only if it is still tok.
// Returns true when the entry was removed.
func (r *Registry) CompareAndClear(key string, tok *Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.tokens[key]; ok && cur == tok {
		delete(r.tokens, key)
		return true
	}
	return false
}

// CompareAndAbort signals and removes the entry under key only if it is
// still tok.
func (r *Registry) CompareAndAbort(key string, tok *Token) bool {
	if !r.CompareAndClear(key, tok) {
		return false
	}
	tok.Abort()
	return true
}

// Len returns the number of registered tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tokens)
}
