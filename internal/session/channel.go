// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-relay/internal/ollama"
)

// Message types on the chat channel.
const (
	TypeChatWithModel  = "chat-with-model"
	TypeStopGeneration = "stop-generation"
)

// ErrClosed is returned by a Channel after it has been closed.
var ErrClosed = errors.New("channel closed")

// Channel is a duplex message pipe to one client.
type Channel interface {
	// Name is the declared channel name, which selects the operation kind.
	Name() string
	// ID identifies the underlying connection.
	ID() string
	// Receive blocks for the next inbound message. It returns an error once
	// the client disconnects or the channel is closed.
	Receive(ctx context.Context) ([]byte, error)
	// Send delivers one outbound message.
	Send(v any) error
	// Close tears the channel down. Safe to call more than once.
	Close() error
}

// Inbound is the envelope of every client message.
type Inbound struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Cancel  bool            `json:"cancel,omitempty"`
}

// ParseInbound decodes a client message.
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode message: %w", err)
	}
	return in, nil
}

// ChatPayload is the payload of a chat start message.
type ChatPayload struct {
	Model    string           `json:"model"`
	Messages []ollama.Message `json:"messages"`
}

// ChatPayload decodes the chat start payload.
func (in Inbound) ChatPayload() (ChatPayload, error) {
	var p ChatPayload
	if len(in.Payload) == 0 {
		return p, errors.New("missing payload")
	}
	if err := json.Unmarshal(in.Payload, &p); err != nil {
		return p, fmt.Errorf("decode chat payload: %w", err)
	}
	p.Model = strings.TrimSpace(p.Model)
	return p, nil
}

// PullModel decodes the model name of a pull message. The payload is
// normally a bare string; {"model": ...} and {"name": ...} are accepted too.
func (in Inbound) PullModel() (string, error) {
	if len(in.Payload) == 0 {
		return "", errors.New("missing payload")
	}
	var name string
	if err := json.Unmarshal(in.Payload, &name); err == nil {
		return strings.TrimSpace(name), nil
	}
	var obj struct {
		Model string `json:"model"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(in.Payload, &obj); err != nil {
		return "", fmt.Errorf("decode pull payload: %w", err)
	}
	if obj.Model != "" {
		return strings.TrimSpace(obj.Model), nil
	}
	return strings.TrimSpace(obj.Name), nil
}
