// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

// fakeUpstream returns canned bodies or errors.
type fakeUpstream struct {
	chat func(ctx context.Context, model string, messages []ollama.Message) (io.ReadCloser, error)
	pull func(ctx context.Context, model string) (io.ReadCloser, error)
}

func (f *fakeUpstream) OpenChatStream(ctx context.Context, model string, messages []ollama.Message) (io.ReadCloser, error) {
	return f.chat(ctx, model, messages)
}

func (f *fakeUpstream) OpenPullStream(ctx context.Context, model string) (io.ReadCloser, error) {
	return f.pull(ctx, model)
}

func chatBody(body io.Reader) *fakeUpstream {
	return &fakeUpstream{chat: func(context.Context, string, []ollama.Message) (io.ReadCloser, error) {
		return io.NopCloser(body), nil
	}}
}

func chatFails(err error) *fakeUpstream {
	return &fakeUpstream{chat: func(context.Context, string, []ollama.Message) (io.ReadCloser, error) {
		return nil, err
	}}
}

func pullBody(body io.Reader) *fakeUpstream {
	return &fakeUpstream{pull: func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(body), nil
	}}
}

func pullFails(err error) *fakeUpstream {
	return &fakeUpstream{pull: func(context.Context, string) (io.ReadCloser, error) {
		return nil, err
	}}
}

func lines(records ...string) io.Reader {
	return strings.NewReader(strings.Join(records, "\n") + "\n")
}

// stallBody returns its prefix, then blocks until ctx is done.
type stallBody struct {
	ctx    context.Context
	prefix []byte
	// sent is closed once the prefix has been read.
	sent chan struct{}
	once sync.Once
}

func newStallBody(ctx context.Context, prefix string) *stallBody {
	return &stallBody{ctx: ctx, prefix: []byte(prefix), sent: make(chan struct{})}
}

func (s *stallBody) Read(p []byte) (int, error) {
	if len(s.prefix) > 0 {
		n := copy(p, s.prefix)
		s.prefix = s.prefix[n:]
		if len(s.prefix) == 0 {
			s.once.Do(func() { close(s.sent) })
		}
		return n, nil
	}
	<-s.ctx.Done()
	return 0, context.Cause(s.ctx)
}

func (s *stallBody) Close() error { return nil }

// recordingSink collects emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	onEmit func(Event)
}

func (s *recordingSink) Emit(ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	hook := s.onEmit
	s.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func terminalCount(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Terminal() {
			n++
		}
	}
	return n
}

// memRecorder keeps outcomes in memory.
type memRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (m *memRecorder) RecordOutcome(_ context.Context, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

func testOptions(t *testing.T, up Upstream) Options {
	t.Helper()
	return Options{
		Registry: cancel.NewRegistry(),
		Upstream: up,
		Logger:   log.New(io.Discard, "", 0),
	}
}

// register creates a token and stores it under key, as the session manager does.
func register(reg *cancel.Registry, key string) *cancel.Token {
	tok := cancel.NewToken(context.Background())
	reg.Replace(key, tok)
	return tok
}
