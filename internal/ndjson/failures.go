// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ndjson

// DefaultWarnThreshold is the number of consecutive unparseable records
// after which a stream is reported as possibly corrupted.
const DefaultWarnThreshold = 5

// FailureTracker counts consecutive parse failures on one stream.
type FailureTracker struct {
	threshold int
	streak    int
	total     int
}

// NewFailureTracker creates a tracker. A threshold <= 0 uses
// DefaultWarnThreshold.
func NewFailureTracker(threshold int) *FailureTracker {
	if threshold <= 0 {
		threshold = DefaultWarnThreshold
	}
	return &FailureTracker{threshold: threshold}
}

// Success resets the streak.
func (f *FailureTracker) Success() {
	f.streak = 0
}

// Failure records a bad record. It returns true exactly once per streak,
// when the streak reaches the threshold.
func (f *FailureTracker) Failure() bool {
	f.streak++
	f.total++
	return f.streak == f.threshold
}

// Streak returns the current number of consecutive failures.
func (f *FailureTracker) Streak() int {
	return f.streak
}

// Total returns the number of failures seen on the stream.
func (f *FailureTracker) Total() int {
	return f.total
}
