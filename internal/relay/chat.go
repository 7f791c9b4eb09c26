// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"encoding/json"
	"strings"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ndjson"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

// ChatOperation is one streaming chat request.
type ChatOperation struct {
	ID       string
	Key      string
	Token    *cancel.Token
	Model    string
	Messages []ollama.Message
}

// ChatOrchestrator runs streaming chats.
type ChatOrchestrator struct {
	base
}

// NewChatOrchestrator creates a chat orchestrator.
func NewChatOrchestrator(opts Options) *ChatOrchestrator {
	return &ChatOrchestrator{base{opts: opts.withDefaults()}}
}

// Run streams one chat to sink and returns the final state. The token must
// already be registered under op.Key; Run unregisters and releases it.
// Exactly one terminal event is emitted.
func (o *ChatOrchestrator) Run(op ChatOperation, sink Sink) (final State) {
	r := o.start(KindChat, op.ID, op.Key, op.Model, op.Token, sink)
	defer func() { final = o.finish(r) }()
	defer o.recoverPanic(r, func(p ErrorPayload) { r.out.emit(ErrorEvent{Error: p}) })

	o.stream(r, op)
	return
}

func (o *ChatOrchestrator) stream(r *run, op ChatOperation) {
	o.settle(r, StateRequesting)

	wd := o.watch(r)
	defer wd.Stop()

	body, err := o.opts.Upstream.OpenChatStream(r.token.Context(), op.Model, op.Messages)
	if err != nil {
		o.fail(r, err)
		return
	}
	defer body.Close()
	o.settle(r, StateStreaming)

	wd.Reset()
	rd := wd.Wrap(body)

	tracker := ndjson.NewFailureTracker(o.opts.WarnThreshold)
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	var content strings.Builder

	for rec, err := range o.records(rd) {
		if err != nil {
			o.fail(r, err)
			return
		}
		if r.token.Signaled() {
			o.fail(r, r.token.Cause())
			return
		}

		var chunk ollama.ChatChunk
		if err := json.Unmarshal([]byte(rec), &chunk); err != nil {
			o.parseFailed(r, tracker, rec, err)
			continue
		}
		tracker.Success()
		r.outcome.Stats.Records++

		if chunk.Error != "" {
			o.fail(r, upstreamError(chunk.Error))
			return
		}
		if delta := chunk.Message.Content; delta != "" {
			content.WriteString(delta)
			r.out.emit(DeltaEvent{Delta: delta})
		}
		if chunk.Done {
			o.succeed(r, content.String(), chunk.Metrics)
			return
		}
	}

	if r.token.Signaled() {
		o.fail(r, r.token.Cause())
		return
	}
	o.opts.Logger.Printf("CHAT_EOF_WITHOUT_DONE | op=%s model=%s chars=%d", r.id, r.model, content.Len())
	o.succeed(r, content.String(), ollama.Metrics{})
}

func (o *ChatOrchestrator) succeed(r *run, content string, metrics ollama.Metrics) {
	o.settle(r, StateSucceeded)
	r.outcome.Metrics = metrics
	if !metrics.IsZero() {
		o.opts.Logger.Printf("CHAT_METRICS | op=%s model=%s prompt_tokens=%d eval_tokens=%d tok_s=%.1f",
			r.id, r.model, metrics.PromptEvalCount, metrics.EvalCount, metrics.TokensPerSecond())
	}
	r.out.emit(CompletionEvent{Done: true, Content: content, Metrics: metrics})
}

func (o *ChatOrchestrator) fail(r *run, err error) {
	state, p := o.classify(r, err)
	o.settle(r, state)
	if p == nil {
		r.out.emit(AbortedEvent{Done: true, Aborted: true})
		return
	}
	r.outcome.Error = p
	r.out.emit(ErrorEvent{Error: *p})
}
