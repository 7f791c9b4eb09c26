// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session binds client channels to relay operations.
//
// A channel carries exactly one operation. Its name selects the kind
// ("chat-stream" or "pull-stream"); the first start message creates the
// operation and later messages can only stop it. When the operation sends
// its terminal event the manager closes the channel. When the client goes
// away first, the operation is aborted.
//
// # Inbound messages
//
// Chat channel:
//
//	{"type": "chat-with-model", "payload": {"model": "...", "messages": [...]}}
//	{"type": "stop-generation"}
//
// Pull channel:
//
//	{"payload": "llama3.2"}
//	{"payload": "llama3.2", "cancel": true}
//
// # Usage
//
//	mgr := session.NewManager(session.Config{Registry: reg, Chat: chat, Pull: pull})
//	err := mgr.Serve(ctx, ch) // returns once the channel is finished
package session
