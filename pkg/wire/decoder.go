// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"bytes"
	"strings"
)

// =============================================================================
// FRAME DECODER
// =============================================================================

// FrameDecoder reassembles protocol frames from arbitrarily fragmented
// stream input.
//
// # Description
//
// The transport delivers bytes with no alignment guarantees: a single read
// may contain half a frame, exactly one frame, or several frames plus the
// beginning of the next. FrameDecoder buffers fragments and emits each
// complete frame (the text between blank-line delimiters) exactly once, in
// order. The emitted frames are identical regardless of how the input was
// fragmented.
//
// # Inputs
//
//   - Feed: the next fragment exactly as read from the transport. May be
//     empty.
//   - Flush: called once when the stream ends, to surface a trailing frame
//     that was never terminated by a blank line.
//
// # Outputs
//
//   - Feed returns zero or more complete raw frames, delimiter excluded.
//   - Flush returns the buffered remainder and true, or "" and false when
//     the buffer holds nothing but whitespace.
//
// # Limitations
//
//   - Not safe for concurrent use. Each stream gets its own decoder.
//   - The buffer grows with the largest in-flight frame; callers that
//     stream multi-megabyte frames should enforce size limits upstream.
type FrameDecoder interface {
	// Feed appends a fragment and returns any frames it completed.
	Feed(fragment string) []string

	// Flush drains the unterminated remainder at end of stream.
	Flush() (string, bool)
}

// frameDecoder is the default FrameDecoder implementation.
type frameDecoder struct {
	buf []byte
}

// Compile-time check that frameDecoder implements FrameDecoder.
var _ FrameDecoder = (*frameDecoder)(nil)

// NewFrameDecoder creates a decoder for one stream.
func NewFrameDecoder() FrameDecoder {
	return &frameDecoder{
		buf: make([]byte, 0, 512),
	}
}

// Feed appends the fragment to the internal buffer and scans for frame
// delimiters. Both "\n\n" and "\r\n\r\n" are accepted; when both appear,
// the earlier one wins so frames are never merged.
func (d *frameDecoder) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	d.buf = append(d.buf, fragment...)

	var frames []string
	for {
		raw, rest, ok := cutFrame(d.buf)
		if !ok {
			break
		}
		d.buf = rest
		if strings.TrimSpace(raw) == "" {
			// Consecutive delimiters produce empty frames; drop them.
			continue
		}
		frames = append(frames, raw)
	}
	return frames
}

// Flush returns whatever is left in the buffer. A stream that closes
// abruptly mid-frame still yields its final partial frame this way.
func (d *frameDecoder) Flush() (string, bool) {
	raw := string(d.buf)
	d.buf = d.buf[:0]
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	return raw, true
}

// cutFrame splits buf around the earliest frame delimiter. It returns the
// frame text, the remaining buffer, and whether a delimiter was found.
func cutFrame(buf []byte) (frame string, rest []byte, ok bool) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return string(buf[:crlf]), buf[crlf+4:], true
	case lf >= 0:
		return string(buf[:lf]), buf[lf+2:], true
	default:
		return "", buf, false
	}
}
