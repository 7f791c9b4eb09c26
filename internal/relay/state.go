// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle stage of one operation.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateSucceeded
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is a sink state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ErrInvalidTransition is returned for a transition the machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed targets for each non-terminal state.
var transitions = map[State][]State{
	StateIdle:       {StateRequesting},
	StateRequesting: {StateStreaming, StateFailed, StateCancelled},
	StateStreaming:  {StateSucceeded, StateFailed, StateCancelled},
}

// Machine tracks an operation's state. Safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next, or returns ErrInvalidTransition and leaves the
// state unchanged.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
}

// Finish moves to a terminal state from wherever the machine is. Used when
// an operation ends early (for example before the request was issued).
// It is a no-op once the machine is already terminal.
func (m *Machine) Finish(terminal State) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() || !terminal.Terminal() {
		return m.state
	}
	m.state = terminal
	return m.state
}
