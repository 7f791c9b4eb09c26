// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import "log"

// emitter forwards events to a Sink and enforces a single terminal event.
type emitter struct {
	sink     Sink
	logger   *log.Logger
	opID     string
	stats    *Stats
	terminal Event
}

func (e *emitter) emit(ev Event) {
	if e.terminal != nil {
		e.logger.Printf("EVENT_DROPPED | op=%s event=%T reason=after_terminal", e.opID, ev)
		return
	}
	if ev.Terminal() {
		e.terminal = ev
	} else {
		e.stats.Events++
		e.stats.RecordFirstEvent()
	}
	if err := e.sink.Emit(ev); err != nil {
		e.logger.Printf("EMIT_FAILED | op=%s event=%T error=%v", e.opID, ev, err)
	}
}

// finished reports whether a terminal event has been sent.
func (e *emitter) finished() bool {
	return e.terminal != nil
}
