// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"encoding/json"
	"net/http"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ndjson"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

// PullOperation is one streaming model download.
type PullOperation struct {
	ID    string
	Key   string
	Token *cancel.Token
	Model string
}

// PullOrchestrator runs streaming pulls.
type PullOrchestrator struct {
	base
}

// NewPullOrchestrator creates a pull orchestrator.
func NewPullOrchestrator(opts Options) *PullOrchestrator {
	return &PullOrchestrator{base{opts: opts.withDefaults()}}
}

// Run streams one pull to sink and returns the final state. The token must
// already be registered under op.Key; Run unregisters and releases it.
func (o *PullOrchestrator) Run(op PullOperation, sink Sink) (final State) {
	r := o.start(KindPull, op.ID, op.Key, op.Model, op.Token, sink)
	defer func() { final = o.finish(r) }()
	defer o.recoverPanic(r, func(p ErrorPayload) { r.out.emit(PullErrorEvent{Payload: &p}) })

	o.stream(r, op)
	return
}

func (o *PullOrchestrator) stream(r *run, op PullOperation) {
	o.settle(r, StateRequesting)

	wd := o.watch(r)
	defer wd.Stop()

	body, err := o.opts.Upstream.OpenPullStream(r.token.Context(), op.Model)
	if err != nil {
		o.fail(r, err)
		return
	}
	defer body.Close()
	o.settle(r, StateStreaming)

	wd.Reset()
	rd := wd.Wrap(body)

	tracker := ndjson.NewFailureTracker(o.opts.WarnThreshold)

	for rec, err := range o.records(rd) {
		if err != nil {
			o.fail(r, err)
			return
		}
		if r.token.Signaled() {
			o.fail(r, r.token.Cause())
			return
		}

		var chunk ollama.PullChunk
		if err := json.Unmarshal([]byte(rec), &chunk); err != nil {
			o.parseFailed(r, tracker, rec, err)
			continue
		}
		tracker.Success()
		r.outcome.Stats.Records++

		if chunk.Error != "" {
			o.settle(r, StateFailed)
			r.outcome.Error = &ErrorPayload{Status: http.StatusBadGateway, Message: chunk.Error}
			r.out.emit(PullErrorEvent{Message: chunk.Error})
			return
		}
		if chunk.Status != "" {
			r.out.emit(StatusEvent{
				Status:    chunk.Status,
				Digest:    chunk.Digest,
				Total:     chunk.Total,
				Completed: chunk.Completed,
			})
		}
		if chunk.Finished() {
			o.settle(r, StateSucceeded)
			r.out.emit(PullDoneEvent{Done: true})
			return
		}
	}

	if r.token.Signaled() {
		o.fail(r, r.token.Cause())
		return
	}
	o.failWith(r, ErrorPayload{Status: http.StatusBadGateway, Message: MsgEndedEarly})
}

func (o *PullOrchestrator) fail(r *run, err error) {
	state, p := o.classify(r, err)
	if p == nil {
		o.settle(r, state)
		r.out.emit(CancelledEvent{Done: true, Cancelled: true})
		return
	}
	o.failWith(r, *p)
}

func (o *PullOrchestrator) failWith(r *run, p ErrorPayload) {
	o.settle(r, StateFailed)
	r.outcome.Error = &p
	r.out.emit(PullErrorEvent{Payload: &p})
}
