// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-relay/internal/cancel"
	"github.com/jeranaias/rigrun-relay/internal/relay"
)

// ErrUnknownChannel is returned by Serve for a channel name with no
// operation kind.
var ErrUnknownChannel = errors.New("unknown channel")

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Config holds the collaborators of a Manager.
type Config struct {
	Registry *cancel.Registry
	Chat     *relay.ChatOrchestrator
	Pull     *relay.PullOrchestrator

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Manager serves channels. It is safe for concurrent use; each Serve call
// runs on its own goroutine.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	channels map[string]ChannelInfo

	totalChannels   atomic.Int64
	totalOperations atomic.Int64
}

// ChannelInfo describes an open channel.
type ChannelInfo struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Model    string    `json:"model,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
}

// Stats is a snapshot of manager activity.
type Stats struct {
	OpenChannels     int           `json:"open_channels"`
	TotalChannels    int64         `json:"total_channels"`
	TotalOperations  int64         `json:"total_operations"`
	ActiveOperations int           `json:"active_operations"`
	Channels         []ChannelInfo `json:"channels"`
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Registry == nil {
		cfg.Registry = cancel.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Manager{
		cfg:      cfg,
		channels: make(map[string]ChannelInfo),
	}
}

// Stats returns a snapshot of open channels and counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	infos := make([]ChannelInfo, 0, len(m.channels))
	for _, info := range m.channels {
		infos = append(infos, info)
	}
	m.mu.Unlock()

	return Stats{
		OpenChannels:     len(infos),
		TotalChannels:    m.totalChannels.Load(),
		TotalOperations:  m.totalOperations.Load(),
		ActiveOperations: m.cfg.Registry.Len(),
		Channels:         infos,
	}
}

func (m *Manager) track(info ChannelInfo) {
	m.mu.Lock()
	m.channels[info.ID] = info
	m.mu.Unlock()
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.channels, id)
	m.mu.Unlock()
}

// =============================================================================
// SERVE
// =============================================================================

// operation is the one operation a channel may carry.
type operation struct {
	id    string
	key   string
	model string
	token *cancel.Token
	done  chan struct{}
}

// conn is the per-channel state used by Serve.
type conn struct {
	m    *Manager
	ch   Channel
	kind string
	ctx  context.Context
	op   *operation
}

// Serve runs ch until its operation finishes, the client disconnects, or ctx
// is done. It closes the channel before returning.
func (m *Manager) Serve(ctx context.Context, ch Channel) error {
	kind := ch.Name()
	if kind != relay.KindChat && kind != relay.KindPull {
		m.cfg.Logger.Printf("CHANNEL_REJECTED | conn=%s name=%q reason=unknown_channel", ch.ID(), kind)
		ch.Close()
		return ErrUnknownChannel
	}

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	m.totalChannels.Add(1)
	m.track(ChannelInfo{ID: ch.ID(), Kind: kind, OpenedAt: time.Now()})
	defer m.untrack(ch.ID())
	m.cfg.Logger.Printf("CHANNEL_OPEN | conn=%s kind=%s", ch.ID(), kind)

	c := &conn{m: m, ch: ch, kind: kind, ctx: ctx}

	msgs := make(chan []byte)
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		defer close(msgs)
		for {
			data, err := ch.Receive(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
					m.cfg.Logger.Printf("CHANNEL_READ_ERROR | conn=%s error=%v", ch.ID(), err)
				}
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		ch.Close()
		cancelFn()
		readers.Wait()
		m.cfg.Logger.Printf("CHANNEL_CLOSED | conn=%s kind=%s", ch.ID(), kind)
	}()

	for {
		// opDone stays nil, and blocks forever, until an operation starts.
		var opDone chan struct{}
		if c.op != nil {
			opDone = c.op.done
		}

		select {
		case data, ok := <-msgs:
			if !ok {
				if err := ctx.Err(); err != nil {
					c.abandon("shutdown")
					return err
				}
				c.abandon("client_disconnected")
				return nil
			}
			if c.handle(data) {
				return nil
			}

		case <-opDone:
			return nil

		case <-ctx.Done():
			c.abandon("shutdown")
			return ctx.Err()
		}
	}
}

// abandon aborts the running operation, if this channel still owns it, and
// waits for the orchestrator to finish.
func (c *conn) abandon(reason string) {
	if c.op == nil {
		return
	}
	select {
	case <-c.op.done:
		return
	default:
	}
	if c.m.cfg.Registry.CompareAndAbort(c.op.key, c.op.token) {
		c.m.cfg.Logger.Printf("OPERATION_ABANDONED | conn=%s op=%s reason=%s", c.ch.ID(), c.op.id, reason)
	}
	<-c.op.done
}

// handle processes one inbound message. It returns true when the channel
// should be closed without waiting for an operation.
func (c *conn) handle(data []byte) bool {
	in, err := ParseInbound(data)
	if err != nil {
		c.m.cfg.Logger.Printf("MESSAGE_IGNORED | conn=%s reason=malformed error=%v", c.ch.ID(), err)
		return false
	}

	switch c.kind {
	case relay.KindChat:
		return c.handleChat(in)
	default:
		return c.handlePull(in)
	}
}

func (c *conn) handleChat(in Inbound) bool {
	switch in.Type {
	case TypeStopGeneration:
		if c.op == nil {
			c.m.cfg.Logger.Printf("MESSAGE_IGNORED | conn=%s type=%s reason=no_operation", c.ch.ID(), in.Type)
			return false
		}
		c.m.cfg.Registry.AbortAndClear(c.op.key)
		return false

	case TypeChatWithModel:
		if c.op != nil {
			c.m.cfg.Logger.Printf("MESSAGE_IGNORED | conn=%s type=%s reason=operation_started", c.ch.ID(), in.Type)
			return false
		}
		p, err := in.ChatPayload()
		if err == nil && p.Model == "" {
			err = errors.New("model is required")
		}
		if err != nil {
			c.reject(relay.ErrorEvent{Error: relay.ErrorPayload{Status: http.StatusBadRequest, Message: err.Error()}})
			return true
		}

		op := c.begin(relay.ChatKey(c.ch.ID(), p.Model), p.Model)
		go func() {
			defer close(op.done)
			c.m.cfg.Chat.Run(relay.ChatOperation{
				ID:       op.id,
				Key:      op.key,
				Token:    op.token,
				Model:    op.model,
				Messages: p.Messages,
			}, c.sink())
		}()
		return false

	default:
		c.m.cfg.Logger.Printf("MESSAGE_IGNORED | conn=%s type=%q reason=unknown_type", c.ch.ID(), in.Type)
		return false
	}
}

func (c *conn) handlePull(in Inbound) bool {
	model, err := in.PullModel()
	if err == nil && model == "" {
		err = errors.New("model is required")
	}

	if in.Cancel {
		switch {
		case err == nil:
			c.m.cfg.Registry.AbortAndClear(relay.PullKey(model))
		case c.op != nil:
			c.m.cfg.Registry.AbortAndClear(c.op.key)
		default:
			c.m.cfg.Logger.Printf("MESSAGE_IGNORED | conn=%s reason=cancel_without_model", c.ch.ID())
		}
		return false
	}

	if c.op != nil {
		c.m.cfg.Logger.Printf("MESSAGE_IGNORED | conn=%s reason=operation_started", c.ch.ID())
		return false
	}
	if err != nil {
		c.reject(relay.PullErrorEvent{Payload: &relay.ErrorPayload{Status: http.StatusBadRequest, Message: err.Error()}})
		return true
	}

	op := c.begin(relay.PullKey(model), model)
	go func() {
		defer close(op.done)
		c.m.cfg.Pull.Run(relay.PullOperation{
			ID:    op.id,
			Key:   op.key,
			Token: op.token,
			Model: op.model,
		}, c.sink())
	}()
	return false
}

// begin registers a fresh token under key, aborting any previous holder.
func (c *conn) begin(key, model string) *operation {
	op := &operation{
		id:    uuid.New().String(),
		key:   key,
		model: model,
		token: cancel.NewToken(c.ctx),
		done:  make(chan struct{}),
	}
	c.m.cfg.Registry.Replace(key, op.token)
	c.op = op
	c.m.totalOperations.Add(1)

	c.m.mu.Lock()
	if info, ok := c.m.channels[c.ch.ID()]; ok {
		info.Model = model
		c.m.channels[c.ch.ID()] = info
	}
	c.m.mu.Unlock()
	return op
}

func (c *conn) sink() relay.Sink {
	return relay.SinkFunc(func(ev relay.Event) error {
		return c.ch.Send(ev)
	})
}

func (c *conn) reject(ev relay.Event) {
	c.m.cfg.Logger.Printf("MESSAGE_REJECTED | conn=%s event=%T", c.ch.ID(), ev)
	if err := c.ch.Send(ev); err != nil {
		c.m.cfg.Logger.Printf("EMIT_FAILED | conn=%s error=%v", c.ch.ID(), err)
	}
}
