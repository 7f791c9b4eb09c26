// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ndjson turns a chunked, newline-delimited byte stream into
// complete text records.
//
// Upstream bodies arrive in arbitrarily sized chunks that do not line up
// with record boundaries, and may split a multi-byte character. The
// Assembler carries the unterminated tail forward and decodes UTF-8 with a
// streaming decoder, so the records it yields are identical no matter how
// the bytes were chunked.
//
// # Usage
//
//	for rec, err := range ndjson.Records(resp.Body) {
//	    if err != nil {
//	        return err
//	    }
//	    handle(rec)
//	}
//
// FailureTracker counts consecutive records that failed to parse so the
// caller can surface a warning when a stream looks corrupted.
package ndjson
