// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-relay/internal/session"
)

func TestOriginAllowed(t *testing.T) {
	defaults := []string{"http://localhost", "http://127.0.0.1", "chrome-extension://*", "moz-extension://*"}

	tests := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"", defaults, true},
		{"http://localhost", defaults, true},
		{"http://localhost:5173", defaults, true},
		{"http://127.0.0.1:8080", defaults, true},
		{"HTTP://LOCALHOST:1", defaults, true},
		{"https://localhost", defaults, false},
		{"chrome-extension://abcdefghijklmnop", defaults, true},
		{"moz-extension://1234-5678", defaults, true},
		{"https://evil.example", defaults, false},
		{"http://localhost.evil.example", defaults, false},
		{"https://app.example:8443", []string{"https://app.example:8443"}, true},
		{"https://app.example:9443", []string{"https://app.example:8443"}, false},
		{"https://app.example", []string{"https://app.example/"}, true},
		{"https://anything", []string{"*"}, true},
		{"https://anything", nil, false},
		{"https://example.com.evil.org", []string{"https://example.com*"}, false},
		{"https://example.com", []string{"https://example.com*"}, false},
		{"https://chrome-extension.evil", []string{"chrome-extension://*"}, false},
		{"http://app.example.com", []string{"https://*"}, false},
		{"https://app.example.com", []string{"https://*"}, true},
		{"https://app.example.com:8443", []string{"https://*.example.com"}, true},
		{"https://a.b.example.com", []string{"https://*.example.com"}, true},
		{"https://example.com", []string{"https://*.example.com"}, false},
		{"https://evilexample.com", []string{"https://*.example.com"}, false},
		{"https://app.example.com.evil.org", []string{"https://*.example.com"}, false},
		{"http://app.example.com", []string{"https://*.example.com"}, false},
		{"null", defaults, false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.origin, tt.allowed))
		})
	}
}

// channelPair upgrades one connection and returns both ends.
func channelPair(t *testing.T) (*wsChannel, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *wsChannel, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- newChannel("chat-stream", conn)
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case ch := <-serverSide:
		t.Cleanup(func() { ch.Close() })
		return ch, client
	case <-time.After(5 * time.Second):
		t.Fatal("upgrade timed out")
		return nil, nil
	}
}

func TestWSChannel_SendReceive(t *testing.T) {
	ch, client := channelPair(t)
	assert.Equal(t, "chat-stream", ch.Name())
	assert.NotEmpty(t, ch.ID())

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop-generation"}`)))
	data, err := ch.Receive(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stop-generation"}`, string(data))

	require.NoError(t, ch.Send(map[string]string{"delta": "hi"}))
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, got, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"delta":"hi"}`, string(got))
}

func TestWSChannel_PeerCloseIsEOF(t *testing.T) {
	ch, client := channelPair(t)

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))

	_, err := ch.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestWSChannel_Close(t *testing.T) {
	ch, client := channelPair(t)

	errc := make(chan error, 1)
	go func() {
		_, err := ch.Receive(context.Background())
		errc <- err
	}()

	require.NoError(t, ch.Close())
	assert.NoError(t, ch.Close(), "Close is idempotent")

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, session.ErrClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not unblock")
	}

	assert.ErrorIs(t, ch.Send(map[string]bool{"done": true}), session.ErrClosed)

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
