// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP and websocket front of the relay.
//
// Endpoints:
//   - GET  /channel/chat-stream        - websocket chat channel
//   - GET  /channel/pull-stream        - websocket pull channel
//   - GET  /api/models                 - installed models
//   - GET  /api/running                - models loaded in memory
//   - GET  /api/version                - Ollama version
//   - POST /api/unload                 - evict a model from memory
//   - GET  /api/catalog/model/{name}   - catalog page for a model (raw)
//   - GET  /api/catalog/search?q=      - catalog search results (raw)
//   - GET  /api/operations?limit=      - recent finished operations
//   - GET  /stats                      - session and ledger statistics
//   - GET  /health                     - health check (no auth)
//
// One-shot endpoints answer {"success":true,"data":...} or
// {"success":false,"error":{"status":...,"message":...}}.
//
// Middleware:
//   - Bearer or ?token= authentication with constant-time comparison
//   - Origin allowlist for websocket upgrades and CORS
//   - Per-IP rate limiting
//   - Security headers
//   - Request logging with request ids
//   - Panic recovery with stack trace logging
package server
