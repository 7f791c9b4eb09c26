// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ndjson

import (
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultChunkSize is the read size used by Records.
const DefaultChunkSize = 32 * 1024

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler is an incremental record decoder. It is not safe for concurrent
// use; each stream owns one.
type Assembler struct {
	dec     transform.Transformer
	pending []byte // undecoded bytes of an incomplete UTF-8 sequence
	carry   string // decoded text after the last newline
	scratch []byte
}

// NewAssembler creates an Assembler with an empty carry.
func NewAssembler() *Assembler {
	dec := unicode.UTF8.NewDecoder()
	dec.Reset()
	return &Assembler{dec: dec}
}

// Push feeds one raw chunk and returns the records it completed, in order.
// A chunk without a newline returns no records and grows the carry.
func (a *Assembler) Push(chunk []byte) []string {
	text := a.decode(chunk, false)
	if text == "" {
		return nil
	}
	return a.split(a.carry + text)
}

// Flush ends the stream. Any incomplete UTF-8 tail is decoded as a
// replacement character and a non-empty carry is returned as the final
// record. The assembler is empty afterwards.
func (a *Assembler) Flush() []string {
	text := a.carry + a.decode(nil, true)
	a.carry = ""

	records := a.split(text)
	if last := strings.TrimSpace(a.carry); last != "" {
		records = append(records, last)
	}
	a.carry = ""
	return records
}

// Carry returns the text held back waiting for a newline.
func (a *Assembler) Carry() string {
	return a.carry
}

// split cuts text on newlines. The last segment becomes the new carry.
func (a *Assembler) split(text string) []string {
	var records []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			break
		}
		if rec := strings.TrimSpace(text[:i]); rec != "" {
			records = append(records, rec)
		}
		text = text[i+1:]
	}
	a.carry = text
	return records
}

// decode runs chunk through the streaming UTF-8 decoder. Bytes of a
// character that continues in the next chunk stay in pending.
func (a *Assembler) decode(chunk []byte, atEOF bool) string {
	if len(a.pending) == 0 && len(chunk) == 0 && !atEOF {
		return ""
	}

	src := make([]byte, 0, len(a.pending)+len(chunk))
	src = append(src, a.pending...)
	src = append(src, chunk...)
	a.pending = a.pending[:0]

	// An invalid byte expands to a 3-byte replacement character.
	if need := 3*len(src) + utf8.UTFMax; cap(a.scratch) < need {
		a.scratch = make([]byte, need)
	}

	var out strings.Builder
	out.Grow(len(src))
	for {
		dst := a.scratch[:cap(a.scratch)]
		nDst, nSrc, err := a.dec.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
			return out.String()
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				a.scratch = make([]byte, 2*cap(a.scratch))
			}
		case transform.ErrShortSrc:
			a.pending = append(a.pending, src...)
			return out.String()
		default:
			out.Write(src)
			return out.String()
		}
	}
}

// =============================================================================
// RECORD ITERATOR
// =============================================================================

// Records lazily reads r in chunks and yields each complete record. A read
// error other than io.EOF is yielded once as ("", err) and ends the
// sequence. At EOF the final unterminated record, if any, is yielded.
func Records(r io.Reader) iter.Seq2[string, error] {
	return RecordsSize(r, DefaultChunkSize)
}

// RecordsSize is Records with an explicit read size.
func RecordsSize(r io.Reader, size int) iter.Seq2[string, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func(string, error) bool) {
		asm := NewAssembler()
		buf := make([]byte, size)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, rec := range asm.Push(buf[:n]) {
					if !yield(rec, nil) {
						return
					}
				}
			}
			if err == io.EOF {
				for _, rec := range asm.Flush() {
					if !yield(rec, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}
