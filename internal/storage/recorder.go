// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"

	"github.com/jeranaias/rigrun-relay/internal/relay"
)

// RecordOutcome stores a finished relay operation. It makes *Ledger a
// relay.Recorder.
func (l *Ledger) RecordOutcome(ctx context.Context, o relay.Outcome) error {
	return l.Record(ctx, FromOutcome(o))
}

// FromOutcome converts a relay outcome to a ledger record.
func FromOutcome(o relay.Outcome) OperationRecord {
	rec := OperationRecord{
		ID:           o.ID,
		Kind:         o.Kind,
		Model:        o.Model,
		Outcome:      o.State.String(),
		PromptTokens: o.Metrics.PromptEvalCount,
		EvalTokens:   o.Metrics.EvalCount,
		DurationMs:   o.FinishedAt.Sub(o.StartedAt).Milliseconds(),
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
	}
	if o.Error != nil {
		rec.Status = o.Error.Status
		rec.Message = o.Error.Message
	}
	return rec
}
