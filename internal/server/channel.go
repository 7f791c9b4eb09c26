// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/rigrun-relay/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent, pongs included.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; chat history travels in one frame.
	maxMessageSize = 8 * 1024 * 1024
)

// ============================================================================
// WEBSOCKET CHANNEL
// ============================================================================

// wsChannel adapts a websocket connection to session.Channel.
type wsChannel struct {
	name string
	id   string
	conn *websocket.Conn

	// writeMu serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ session.Channel = (*wsChannel)(nil)

// newChannel wraps conn and starts its keepalive pinger.
func newChannel(name string, conn *websocket.Conn) *wsChannel {
	c := &wsChannel{
		name: name,
		id:   uuid.New().String(),
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop()
	return c
}

func (c *wsChannel) Name() string { return c.name }
func (c *wsChannel) ID() string   { return c.id }

// Receive returns the next text or binary frame. It does not watch ctx;
// the session unblocks it by closing the channel.
func (c *wsChannel) Receive(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil, session.ErrClosed
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		// Any inbound frame proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return data, nil
	}
}

// Send writes v as one JSON text frame.
func (c *wsChannel) Send(v any) error {
	if c.closed.Load() {
		return session.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Close sends a normal close frame and closes the connection.
func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// ============================================================================
// ORIGIN CHECK
// ============================================================================

// OriginAllowed reports whether a browser origin may open a channel.
//
// Matching rules per allowed entry:
//   - "*" allows every origin
//   - "scheme://*" allows every origin of that scheme ("chrome-extension://*")
//   - "scheme://*.example.com" allows subdomains of example.com on any port
//   - an entry without a port matches that scheme and host on any port
//   - anything else must match exactly
//
// A "*" anywhere else never matches. Requests without an Origin header come
// from non-browser clients and are allowed; the auth token guards those.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}

	o, err := url.Parse(origin)
	if err != nil || o.Scheme == "" {
		return false
	}

	for _, a := range allowed {
		a = strings.TrimRight(strings.TrimSpace(a), "/")
		switch {
		case a == "":
			continue
		case a == "*":
			return true
		case strings.Contains(a, "*"):
			if wildcardOriginMatch(a, o) {
				return true
			}
		case strings.EqualFold(a, origin):
			return true
		default:
			au, err := url.Parse(a)
			if err != nil || au.Port() != "" {
				continue
			}
			if strings.EqualFold(au.Scheme, o.Scheme) && strings.EqualFold(au.Hostname(), o.Hostname()) {
				return true
			}
		}
	}
	return false
}

// wildcardOriginMatch matches o against "scheme://*" or "scheme://*.domain".
// Matching is on whole host labels, never on a raw string prefix.
func wildcardOriginMatch(pattern string, o *url.URL) bool {
	scheme, host, ok := strings.Cut(pattern, "://")
	if !ok || !strings.EqualFold(scheme, o.Scheme) {
		return false
	}
	if host == "*" {
		return true
	}
	suffix, ok := strings.CutPrefix(host, "*.")
	if !ok || suffix == "" || strings.ContainsAny(suffix, "*:/") {
		return false
	}
	hostname := strings.ToLower(o.Hostname())
	return strings.HasSuffix(hostname, "."+strings.ToLower(suffix))
}
