// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

const chatKey = "chat-stream:conn-1:llama3"

func runChat(t *testing.T, opts Options) ([]Event, State) {
	t.Helper()
	tok := register(opts.Registry, chatKey)
	sink := &recordingSink{}
	o := NewChatOrchestrator(opts)
	state := o.Run(ChatOperation{ID: "op-1", Key: chatKey, Token: tok, Model: "llama3"}, sink)
	return sink.Events(), state
}

func TestChat_Success(t *testing.T) {
	opts := testOptions(t, chatBody(lines(
		`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"total_duration":900,"eval_count":2,"eval_duration":400}`,
	)))

	events, state := runChat(t, opts)

	assert.Equal(t, StateSucceeded, state)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "Hel"},
		DeltaEvent{Delta: "lo"},
		CompletionEvent{Done: true, Content: "Hello", Metrics: ollama.Metrics{TotalDuration: 900, EvalCount: 2, EvalDuration: 400}},
	}, events)
	assert.False(t, opts.Registry.Has(chatKey), "token must be cleared")
}

func TestChat_CompletionContentIsConcatenatedDeltas(t *testing.T) {
	// Split at every byte, including inside multi-byte characters and lines.
	body := lines(
		`{"message":{"content":"héllo "}}`,
		`{"message":{"content":"wörld "}}`,
		`{"message":{"content":"日本語"}}`,
		`{"done":true,"eval_count":3}`,
	)
	opts := testOptions(t, chatBody(iotest.OneByteReader(body)))

	events, _ := runChat(t, opts)
	require.NotEmpty(t, events)

	var deltas strings.Builder
	for _, ev := range events[:len(events)-1] {
		d, ok := ev.(DeltaEvent)
		require.True(t, ok, "only deltas before the terminal event, got %T", ev)
		deltas.WriteString(d.Delta)
	}
	done, ok := events[len(events)-1].(CompletionEvent)
	require.True(t, ok)
	assert.Equal(t, "héllo wörld 日本語", done.Content)
	assert.Equal(t, deltas.String(), done.Content)
	assert.Equal(t, 3, done.Metrics.EvalCount)
}

func TestChat_StopsReadingAfterDone(t *testing.T) {
	opts := testOptions(t, chatBody(lines(
		`{"message":{"content":"a"}}`,
		`{"done":true}`,
		`{"message":{"content":"ignored"}}`,
	)))

	events, _ := runChat(t, opts)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "a"},
		CompletionEvent{Done: true, Content: "a"},
	}, events)
}

func TestChat_SkipsBadRecord(t *testing.T) {
	opts := testOptions(t, chatBody(lines(
		`{"message":{"content":"a"}}`,
		`{not json`,
		`{"message":{"content":"b"}}`,
		`{"done":true}`,
	)))

	events, state := runChat(t, opts)
	assert.Equal(t, StateSucceeded, state)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "a"},
		DeltaEvent{Delta: "b"},
		CompletionEvent{Done: true, Content: "ab"},
	}, events)
}

func TestChat_WarnsAfterConsecutiveBadRecords(t *testing.T) {
	records := []string{`{"message":{"content":"a"}}`}
	for i := 0; i < 7; i++ {
		records = append(records, "garbage")
	}
	records = append(records, `{"done":true}`)
	opts := testOptions(t, chatBody(lines(records...)))

	events, state := runChat(t, opts)
	assert.Equal(t, StateSucceeded, state)

	var warnings int
	for _, ev := range events {
		if _, ok := ev.(WarningEvent); ok {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings, "one warning per failure streak")
	assert.Equal(t, 1, terminalCount(events))
}

func TestChat_SingleTerminalEvent(t *testing.T) {
	tests := []struct {
		name string
		up   *fakeUpstream
		want Event
	}{
		{
			name: "http error",
			up:   chatFails(&ollama.ClientError{Type: ollama.ErrTypeHTTP, Status: 404, Message: "Not Found"}),
			want: ErrorEvent{Error: ErrorPayload{Status: 404, Message: "Not Found"}},
		},
		{
			name: "network error",
			up:   chatFails(&ollama.ClientError{Type: ollama.ErrTypeTransport, Message: "failed to reach Ollama", Cause: errors.New("connection refused")}),
			want: ErrorEvent{Error: ErrorPayload{Status: 0, Message: "failed to reach Ollama: connection refused"}},
		},
		{
			name: "missing body",
			up:   chatFails(&ollama.ClientError{Type: ollama.ErrTypeNoBody, Status: 200, Message: "no response body received"}),
			want: ErrorEvent{Error: ErrorPayload{Status: 200, Message: MsgNoBody}},
		},
		{
			name: "cancelled",
			up:   chatFails(&ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "request cancelled", Cause: cancel.ErrAborted}),
			want: AbortedEvent{Done: true, Aborted: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, tt.up)
			events, _ := runChat(t, opts)
			assert.Equal(t, []Event{tt.want}, events)
			assert.False(t, opts.Registry.Has(chatKey))
		})
	}
}

func TestChat_CancelDuringRead(t *testing.T) {
	reg := cancel.NewRegistry()
	tok := register(reg, chatKey)
	body := newStallBody(tok.Context(), `{"message":{"content":"partial"}}`+"\n")

	opts := testOptions(t, &fakeUpstream{chat: func(context.Context, string, []ollama.Message) (io.ReadCloser, error) {
		return body, nil
	}})
	opts.Registry = reg

	sink := &recordingSink{}
	sink.onEmit = func(ev Event) {
		if _, ok := ev.(DeltaEvent); ok {
			reg.AbortAndClear(chatKey)
			reg.AbortAndClear(chatKey) // idempotent
		}
	}

	state := NewChatOrchestrator(opts).Run(ChatOperation{ID: "op-1", Key: chatKey, Token: tok, Model: "llama3"}, sink)

	assert.Equal(t, StateCancelled, state)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "partial"},
		AbortedEvent{Done: true, Aborted: true},
	}, sink.Events())
}

func TestChat_CancelBeforeHeaders(t *testing.T) {
	reg := cancel.NewRegistry()
	tok := register(reg, chatKey)

	started := make(chan struct{})
	opts := testOptions(t, &fakeUpstream{chat: func(ctx context.Context, _ string, _ []ollama.Message) (io.ReadCloser, error) {
		close(started)
		<-ctx.Done()
		return nil, &ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "request cancelled", Cause: context.Cause(ctx)}
	}})
	opts.Registry = reg

	go func() {
		<-started
		reg.AbortAndClear(chatKey)
	}()

	sink := &recordingSink{}
	state := NewChatOrchestrator(opts).Run(ChatOperation{ID: "op-1", Key: chatKey, Token: tok, Model: "llama3"}, sink)

	assert.Equal(t, StateCancelled, state)
	assert.Equal(t, []Event{AbortedEvent{Done: true, Aborted: true}}, sink.Events())
}

func TestChat_UpstreamErrorRecord(t *testing.T) {
	opts := testOptions(t, chatBody(lines(
		`{"message":{"content":"a"}}`,
		`{"error":"model runner has unexpectedly stopped"}`,
		`{"message":{"content":"b"}}`,
	)))

	events, state := runChat(t, opts)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "a"},
		ErrorEvent{Error: ErrorPayload{Status: http.StatusBadGateway, Message: "model runner has unexpectedly stopped"}},
	}, events)
}

func TestChat_EOFWithoutDone(t *testing.T) {
	// Last record has no trailing newline and no done flag.
	opts := testOptions(t, chatBody(strings.NewReader(`{"message":{"content":"a"}}`+"\n"+`{"message":{"content":"b"}}`)))

	events, state := runChat(t, opts)
	assert.Equal(t, StateSucceeded, state)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "a"},
		DeltaEvent{Delta: "b"},
		CompletionEvent{Done: true, Content: "ab"},
	}, events)
}

func TestChat_ReadErrorIsNetworkError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	body := io.MultiReader(strings.NewReader(`{"message":{"content":"a"}}`+"\n"), iotest.ErrReader(boom))
	opts := testOptions(t, chatBody(body))

	events, state := runChat(t, opts)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "a"},
		ErrorEvent{Error: ErrorPayload{Status: 0, Message: "connection reset by peer"}},
	}, events)
}

func TestChat_IdleTimeout(t *testing.T) {
	reg := cancel.NewRegistry()
	tok := register(reg, chatKey)
	body := newStallBody(tok.Context(), `{"message":{"content":"a"}}`+"\n")

	opts := testOptions(t, &fakeUpstream{chat: func(context.Context, string, []ollama.Message) (io.ReadCloser, error) {
		return body, nil
	}})
	opts.Registry = reg
	opts.IdleTimeout = 30 * time.Millisecond

	sink := &recordingSink{}
	state := NewChatOrchestrator(opts).Run(ChatOperation{ID: "op-1", Key: chatKey, Token: tok, Model: "llama3"}, sink)

	assert.Equal(t, StateFailed, state)
	assert.Equal(t, []Event{
		DeltaEvent{Delta: "a"},
		ErrorEvent{Error: ErrorPayload{Status: http.StatusGatewayTimeout, Message: MsgIdleTimeout}},
	}, sink.Events())
}

func TestChat_IdleTimeoutBeforeHeaders(t *testing.T) {
	reg := cancel.NewRegistry()
	tok := register(reg, chatKey)

	// Server accepts the request but never answers, as during a slow model load.
	opts := testOptions(t, &fakeUpstream{chat: func(ctx context.Context, _ string, _ []ollama.Message) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, &ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "request cancelled", Cause: context.Cause(ctx)}
	}})
	opts.Registry = reg
	opts.IdleTimeout = 30 * time.Millisecond

	sink := &recordingSink{}
	state := NewChatOrchestrator(opts).Run(ChatOperation{ID: "op-1", Key: chatKey, Token: tok, Model: "llama3"}, sink)

	assert.Equal(t, StateFailed, state)
	assert.Equal(t, []Event{
		ErrorEvent{Error: ErrorPayload{Status: http.StatusGatewayTimeout, Message: MsgIdleTimeout}},
	}, sink.Events())
	assert.False(t, reg.Has(chatKey))
}

func TestChat_PanicBecomesError(t *testing.T) {
	opts := testOptions(t, &fakeUpstream{chat: func(context.Context, string, []ollama.Message) (io.ReadCloser, error) {
		panic("boom")
	}})

	events, state := runChat(t, opts)
	assert.Equal(t, StateFailed, state)
	require.Len(t, events, 1)
	ev, ok := events[0].(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, ev.Error.Status)
	assert.Contains(t, ev.Error.Message, "boom")
	assert.False(t, opts.Registry.Has(chatKey))
}

func TestChat_DoesNotClearNewerToken(t *testing.T) {
	reg := cancel.NewRegistry()
	old := register(reg, chatKey)
	var newer *cancel.Token

	opts := testOptions(t, &fakeUpstream{chat: func(ctx context.Context, _ string, _ []ollama.Message) (io.ReadCloser, error) {
		// A second start under the same key replaces this operation.
		newer = register(reg, chatKey)
		<-ctx.Done()
		return nil, &ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "request cancelled", Cause: context.Cause(ctx)}
	}})
	opts.Registry = reg

	sink := &recordingSink{}
	state := NewChatOrchestrator(opts).Run(ChatOperation{ID: "op-1", Key: chatKey, Token: old, Model: "llama3"}, sink)

	assert.Equal(t, StateCancelled, state)
	got, ok := reg.Get(chatKey)
	require.True(t, ok)
	assert.Same(t, newer, got)
	assert.False(t, newer.Signaled())
}

func TestChat_RecordsOutcome(t *testing.T) {
	rec := &memRecorder{}
	opts := testOptions(t, chatBody(lines(
		`{"message":{"content":"hi"}}`,
		`{"done":true,"prompt_eval_count":4,"eval_count":1}`,
	)))
	opts.Recorder = rec

	runChat(t, opts)

	require.Len(t, rec.outcomes, 1)
	o := rec.outcomes[0]
	assert.Equal(t, KindChat, o.Kind)
	assert.Equal(t, "llama3", o.Model)
	assert.Equal(t, StateSucceeded, o.State)
	assert.Nil(t, o.Error)
	assert.Equal(t, 4, o.Metrics.PromptEvalCount)
	assert.Equal(t, 2, o.Stats.Records)
	assert.False(t, o.FinishedAt.Before(o.StartedAt))
}

func TestChat_RecorderErrorIgnored(t *testing.T) {
	opts := testOptions(t, chatBody(lines(`{"done":true}`)))
	opts.Recorder = RecorderFunc(func(context.Context, Outcome) error { return errors.New("disk full") })

	events, state := runChat(t, opts)
	assert.Equal(t, StateSucceeded, state)
	assert.Equal(t, []Event{CompletionEvent{Done: true}}, events)
}
