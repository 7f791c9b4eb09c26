// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"io"
	"time"
)

// watchdog calls onIdle when an operation makes no progress for d: first
// while the request waits for response headers, then between body reads.
// A nil watchdog is disabled; all methods are no-ops.
type watchdog struct {
	d     time.Duration
	timer *time.Timer
}

func newWatchdog(d time.Duration, onIdle func()) *watchdog {
	if d <= 0 {
		return nil
	}
	return &watchdog{d: d, timer: time.AfterFunc(d, onIdle)}
}

// Reset restarts the idle period.
func (w *watchdog) Reset() {
	if w != nil {
		w.timer.Reset(w.d)
	}
}

func (w *watchdog) Stop() {
	if w != nil {
		w.timer.Stop()
	}
}

// Wrap returns r with every read that yields bytes resetting the watchdog.
func (w *watchdog) Wrap(r io.Reader) io.Reader {
	if w == nil {
		return r
	}
	return &idleReader{r: r, w: w}
}

type idleReader struct {
	r io.Reader
	w *watchdog
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.w.Reset()
	}
	return n, err
}
