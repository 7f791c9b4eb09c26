// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the local Ollama server.
//
// The relay uses two streaming endpoints (/api/chat and /api/pull), which
// return newline-delimited JSON, plus a handful of one-shot calls. The
// streaming methods only open the call and hand back the body; decoding is
// done incrementally by the caller.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ClientError: typed failure (transport, HTTP status, missing body, cancelled)
//   - ChatChunk, PullChunk: one decoded record of a streaming response
//   - Metrics: timing and token counts carried by the final chat record
//
// # Usage
//
//	client := ollama.NewClient().WithBaseURLFunc(store.BaseURL)
//	body, err := client.OpenChatStream(tok.Context(), "qwen2.5:7b", messages)
//	if err != nil {
//	    var ce *ollama.ClientError
//	    errors.As(err, &ce) // ce.Type, ce.Status
//	}
//	defer body.Close()
//
// The base URL is resolved on every call, so configuration reloads take
// effect without rebuilding the client.
package ollama
