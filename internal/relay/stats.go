// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"fmt"
	"time"
)

// Stats holds relay-side measurements for one operation.
type Stats struct {
	StartTime      time.Time
	FirstEventTime time.Time
	EndTime        time.Time

	Records       int // records parsed
	Events        int // non-terminal events emitted
	ParseFailures int
}

// RecordFirstEvent marks when the first progress event was sent.
func (s *Stats) RecordFirstEvent() {
	if s.FirstEventTime.IsZero() {
		s.FirstEventTime = time.Now()
	}
}

// TTFE returns the time from start to the first progress event.
func (s *Stats) TTFE() time.Duration {
	if s.FirstEventTime.IsZero() {
		return 0
	}
	return s.FirstEventTime.Sub(s.StartTime)
}

// Duration returns the wall time of the operation.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Format returns a compact one-line summary for logs.
func (s *Stats) Format() string {
	return fmt.Sprintf("records=%d events=%d parse_failures=%d ttfe=%s duration=%s",
		s.Records, s.Events, s.ParseFailures,
		s.TTFE().Round(time.Millisecond), s.Duration().Round(time.Millisecond))
}
