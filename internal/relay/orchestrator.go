// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ndjson"
	"github.com/jeranaias/rigrun-relay/internal/util"
)

// recordTimeout bounds how long a Recorder may take.
const recordTimeout = 5 * time.Second

// base holds what both orchestrators share.
type base struct {
	opts Options
}

// run is the state carried through one operation.
type run struct {
	id      string
	kind    string
	key     string
	model   string
	token   *cancel.Token
	machine *Machine
	out     *emitter
	outcome Outcome
}

func (b *base) start(kind, id, key, model string, tok *cancel.Token, sink Sink) *run {
	r := &run{
		id:      id,
		kind:    kind,
		key:     key,
		model:   model,
		token:   tok,
		machine: NewMachine(),
		outcome: Outcome{ID: id, Kind: kind, Model: model, StartedAt: time.Now()},
	}
	r.outcome.Stats.StartTime = r.outcome.StartedAt
	r.out = &emitter{sink: sink, logger: b.opts.Logger, opID: id, stats: &r.outcome.Stats}
	b.opts.Logger.Printf("OPERATION_START | op=%s kind=%s model=%s key=%s", id, kind, model, key)
	return r
}

// watch starts the idle watchdog for r, or returns nil when the idle
// timeout is disabled. It runs from before the request is sent, so a server
// that stalls before answering is caught too.
func (b *base) watch(r *run) *watchdog {
	return newWatchdog(b.opts.IdleTimeout, r.token.Expire)
}

// records iterates the stream records of body.
func (b *base) records(body io.Reader) iter.Seq2[string, error] {
	return ndjson.RecordsSize(body, b.opts.ChunkSize)
}

// settle moves the machine to a terminal state.
func (b *base) settle(r *run, state State) {
	if err := r.machine.Transition(state); err != nil {
		b.opts.Logger.Printf("STATE_ERROR | op=%s error=%v", r.id, err)
		r.machine.Finish(state)
	}
}

// parseFailed logs an unparseable record and emits a warning when the
// streak reaches the threshold.
func (b *base) parseFailed(r *run, tracker *ndjson.FailureTracker, rec string, err error) {
	r.outcome.Stats.ParseFailures++
	b.opts.Logger.Printf("RECORD_PARSE_FAILED | op=%s record=%q error=%v", r.id, util.TruncateRunes(rec, 120), err)
	if tracker.Failure() {
		r.out.emit(WarningEvent{Warning: fmt.Sprintf("%d consecutive stream records could not be parsed", tracker.Streak())})
	}
}

// classify decides how a failure ends the operation. A nil payload means
// the operation was cancelled.
func (b *base) classify(r *run, err error) (State, *ErrorPayload) {
	if r.token.Signaled() {
		if r.token.Aborted() {
			return StateCancelled, nil
		}
		return StateFailed, &ErrorPayload{Status: http.StatusGatewayTimeout, Message: MsgIdleTimeout}
	}
	p, ok := ErrorPayloadFor(err)
	if !ok {
		return StateCancelled, nil
	}
	return StateFailed, &p
}

// recoverPanic converts a panic into a failed outcome. Must be deferred.
func (b *base) recoverPanic(r *run, fail func(ErrorPayload)) {
	rec := recover()
	if rec == nil {
		return
	}
	b.opts.Logger.Printf("OPERATION_PANIC | op=%s kind=%s panic=%v\n%s", r.id, r.kind, rec, debug.Stack())
	p := ErrorPayload{Status: http.StatusInternalServerError, Message: fmt.Sprintf("%s: %v", MsgInternalError, rec)}
	r.outcome.Error = &p
	r.machine.Finish(StateFailed)
	if !r.out.finished() {
		fail(p)
	}
}

// finish unregisters the token, releases it and records the outcome.
func (b *base) finish(r *run) State {
	b.opts.Registry.CompareAndClear(r.key, r.token)
	r.token.Release()

	state := r.machine.State()
	if !state.Terminal() {
		// Unreachable unless an orchestrator returns without settling.
		state = r.machine.Finish(StateFailed)
	}

	r.outcome.State = state
	r.outcome.FinishedAt = time.Now()
	r.outcome.Stats.EndTime = r.outcome.FinishedAt

	if r.outcome.Error != nil {
		b.opts.Logger.Printf("OPERATION_END | op=%s kind=%s state=%s status=%d error=%q %s",
			r.id, r.kind, state, r.outcome.Error.Status, r.outcome.Error.Message, r.outcome.Stats.Format())
	} else {
		b.opts.Logger.Printf("OPERATION_END | op=%s kind=%s state=%s %s", r.id, r.kind, state, r.outcome.Stats.Format())
	}

	if b.opts.Recorder != nil {
		ctx, cancelFn := context.WithTimeout(context.Background(), recordTimeout)
		defer cancelFn()
		if err := b.opts.Recorder.RecordOutcome(ctx, r.outcome); err != nil {
			b.opts.Logger.Printf("RECORD_FAILED | op=%s error=%v", r.id, err)
		}
	}
	return state
}
