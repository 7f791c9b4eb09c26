// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the ledger schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema of the operation ledger.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- One row per finished operation
CREATE TABLE IF NOT EXISTS operations (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,            -- chat-stream, pull-stream
    model TEXT NOT NULL,
    outcome TEXT NOT NULL,         -- succeeded, failed, cancelled
    status INTEGER NOT NULL DEFAULT 0,
    message TEXT,                  -- error message for failed operations
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    eval_tokens INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,   -- Unix milliseconds
    finished_at INTEGER NOT NULL   -- Unix milliseconds
);

CREATE INDEX IF NOT EXISTS idx_operations_finished_at ON operations(finished_at);
CREATE INDEX IF NOT EXISTS idx_operations_kind_outcome ON operations(kind, outcome);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`
