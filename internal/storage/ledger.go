// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrInvalidRecord is returned by Record for a record missing its identity.
var ErrInvalidRecord = errors.New("invalid operation record")

// =============================================================================
// LEDGER TYPES
// =============================================================================

// OperationRecord is one finished operation.
type OperationRecord struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Model        string    `json:"model"`
	Outcome      string    `json:"outcome"`
	Status       int       `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	PromptTokens int       `json:"prompt_tokens,omitempty"`
	EvalTokens   int       `json:"eval_tokens,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// KindSummary aggregates the operations of one kind.
type KindSummary struct {
	Total        int64            `json:"total"`
	Outcomes     map[string]int64 `json:"outcomes"`
	PromptTokens int64            `json:"prompt_tokens"`
	EvalTokens   int64            `json:"eval_tokens"`
	AvgDuration  float64          `json:"avg_duration_ms"`
}

// Summary aggregates the whole ledger.
type Summary struct {
	Total int64                   `json:"total"`
	Kinds map[string]*KindSummary `json:"kinds"`
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger persists finished operations in SQLite.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the ledger at path. Use ":memory:" for a
// throwaway ledger.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path cannot be empty")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return err
	}
	_, err := l.db.Exec(InitMetadata)
	return err
}

// Path returns the database path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores rec. Recording the same ID twice keeps the latest.
func (l *Ledger) Record(ctx context.Context, rec OperationRecord) error {
	if rec.ID == "" || rec.Kind == "" || rec.Outcome == "" {
		return fmt.Errorf("%w: id, kind and outcome are required", ErrInvalidRecord)
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO operations
			(id, kind, model, outcome, status, message, prompt_tokens, eval_tokens, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Model, rec.Outcome, rec.Status, nullString(rec.Message),
		rec.PromptTokens, rec.EvalTokens, rec.DurationMs,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record operation %s: %w", rec.ID, err)
	}
	return nil
}

// Limits for Recent.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Recent returns up to n records, newest first. n <= 0 means
// DefaultRecentLimit.
func (l *Ledger) Recent(ctx context.Context, n int) ([]OperationRecord, error) {
	if n <= 0 {
		n = DefaultRecentLimit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, kind, model, outcome, status, message, prompt_tokens, eval_tokens, duration_ms, started_at, finished_at
		FROM operations
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	records := make([]OperationRecord, 0, n)
	for rows.Next() {
		var (
			rec                 OperationRecord
			message             sql.NullString
			startedMs, finishMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Model, &rec.Outcome, &rec.Status, &message,
			&rec.PromptTokens, &rec.EvalTokens, &rec.DurationMs, &startedMs, &finishMs); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		rec.Message = message.String
		rec.StartedAt = time.UnixMilli(startedMs)
		rec.FinishedAt = time.UnixMilli(finishMs)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Summary returns counts per kind and outcome plus token totals.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{Kinds: make(map[string]*KindSummary)}

	rows, err := l.db.QueryContext(ctx, `
		SELECT kind, outcome, COUNT(*), SUM(prompt_tokens), SUM(eval_tokens), SUM(duration_ms)
		FROM operations
		GROUP BY kind, outcome`)
	if err != nil {
		return sum, fmt.Errorf("failed to summarize operations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string]int64)
	for rows.Next() {
		var (
			kind, outcome              string
			count, prompt, eval, durMs int64
		)
		if err := rows.Scan(&kind, &outcome, &count, &prompt, &eval, &durMs); err != nil {
			return sum, fmt.Errorf("failed to scan summary: %w", err)
		}

		ks, ok := sum.Kinds[kind]
		if !ok {
			ks = &KindSummary{Outcomes: make(map[string]int64)}
			sum.Kinds[kind] = ks
		}
		ks.Total += count
		ks.Outcomes[outcome] += count
		ks.PromptTokens += prompt
		ks.EvalTokens += eval
		durations[kind] += durMs
		sum.Total += count
	}
	if err := rows.Err(); err != nil {
		return sum, err
	}

	for kind, ks := range sum.Kinds {
		if ks.Total > 0 {
			ks.AvgDuration = float64(durations[kind]) / float64(ks.Total)
		}
	}
	return sum, nil
}

// Prune deletes records finished before cutoff and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM operations WHERE finished_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
