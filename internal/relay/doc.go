// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay turns streaming Ollama responses into ordered channel events.
//
// Two orchestrators share one shape: open the upstream call bound to the
// operation's cancellation token, feed the body through an ndjson
// assembler, translate each record into events and finish with exactly one
// terminal event. Every path, including panics, ends with the operation's
// token being released from the registry.
//
// # Chat events
//
//	{"delta": "..."}                               zero or more
//	{"done": true, "content": "...", "metrics": {}} success
//	{"error": {"status": 500, "message": "..."}}    failure
//	{"done": true, "aborted": true}                 cancelled
//	{"warning": "..."}                              non-terminal
//
// # Pull events
//
//	{"status": "...", "digest": "...", "total": 1, "completed": 0}
//	{"done": true}
//	{"error": "..."} or {"error": {"status": 502, "message": "..."}}
//	{"done": true, "cancelled": true}
//
// Both orchestrators drive a Machine through idle, requesting, streaming
// and one terminal state. Terminal states accept no further transitions.
package relay
