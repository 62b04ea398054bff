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
	"context"
	"fmt"
	"io"
)

// defaultReadSize is the transport read granularity. Frames are usually
// small; 4 KiB keeps syscall overhead low without hoarding memory.
const defaultReadSize = 4096

// =============================================================================
// STREAM READER
// =============================================================================

// FrameCallback receives each routed event in arrival order. Returning an
// error stops the stream and propagates out of Read.
type FrameCallback func(event Event) error

// StreamReader drives a byte stream through the decoder and router,
// delivering typed events to a callback.
//
// Thread Safety:
//
//	A StreamReader may be shared, but a single Read call owns its stream;
//	do not call Read concurrently with the same io.Reader.
//
// The stream is considered complete when:
//   - EOF is reached (any buffered partial frame is flushed first)
//   - A terminal event (completed/error) is delivered
//   - Context is cancelled
//   - Callback returns an error
type StreamReader interface {
	Read(ctx context.Context, stream io.Reader, callback FrameCallback) error
}

// frameStreamReader is the default StreamReader implementation.
type frameStreamReader struct {
	router   EventRouter
	readSize int
}

// Compile-time check that frameStreamReader implements StreamReader.
var _ StreamReader = (*frameStreamReader)(nil)

// NewStreamReader creates a StreamReader. A nil router gets a default one.
func NewStreamReader(router EventRouter) StreamReader {
	if router == nil {
		router = NewEventRouter(nil)
	}
	return &frameStreamReader{
		router:   router,
		readSize: defaultReadSize,
	}
}

// Read implements StreamReader.
//
// Cancellation is cooperative: the context is checked between reads. A
// Read blocked on the transport unblocks when the caller closes the
// response body, which the HTTP client does on context cancellation.
func (r *frameStreamReader) Read(ctx context.Context, stream io.Reader, callback FrameCallback) error {
	decoder := NewFrameDecoder()
	buf := make([]byte, r.readSize)
	index := 0

	deliver := func(rawFrame string) (terminal bool, err error) {
		event := r.router.Route(rawFrame)
		if event == nil {
			return false, nil
		}
		event.Index = index
		index++
		if err := callback(*event); err != nil {
			return false, err
		}
		return event.IsTerminal(), nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := stream.Read(buf)
		if n > 0 {
			for _, rawFrame := range decoder.Feed(string(buf[:n])) {
				terminal, err := deliver(rawFrame)
				if err != nil {
					return err
				}
				if terminal {
					return nil
				}
			}
		}

		if readErr == io.EOF {
			// Abrupt close: surface whatever partial frame is buffered so
			// the consumer can finish with the text it already has.
			if rawFrame, ok := decoder.Flush(); ok {
				if _, err := deliver(rawFrame); err != nil {
					return err
				}
			}
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}
