// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package answer

import (
	"context"
	"sync"
)

// =============================================================================
// CANCELLER
// =============================================================================

// Canceller binds a user-visible stop action to one in-flight request.
//
// Stop ordering matters: the aggregator's aborted flag is set before the
// transport context is cancelled, so any continuation still in flight from
// the read loop is dropped instead of committing after the stop. The
// caller then receives the partial text with StopMarker appended, never an
// exception.
//
// Cancel is idempotent: a second call on an already-stopped or
// already-terminal request is a no-op, not an error.
type Canceller struct {
	mu        sync.Mutex
	aggregate Aggregator
	cancel    context.CancelFunc
	cancelled bool
}

// NewCanceller wires a stop action to an aggregator and the CancelFunc of
// the request's context.
func NewCanceller(aggregate Aggregator, cancel context.CancelFunc) *Canceller {
	return &Canceller{
		aggregate: aggregate,
		cancel:    cancel,
	}
}

// Cancel stops the in-flight request. Returns true when this call
// performed the stop, false when the request was already stopped or had
// reached a terminal state.
func (c *Canceller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return false
	}
	c.cancelled = true

	// Flag first, teardown second.
	applied := c.aggregate.MarkAborted()
	c.cancel()
	return applied
}

// Cancelled reports whether Cancel has been called.
func (c *Canceller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
