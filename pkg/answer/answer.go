// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package answer accumulates one streamed advisor response into a single
// logical answer.
//
// The aggregator consumes routed wire events in arrival order and maintains
// the in-progress answer: appended text deltas, the latest citation and
// slot state, and diagnostics. It owns the answer exclusively until exactly
// one terminal transition (Completed, Aborted or Failed) hands the finished
// aggregate to the caller.
//
// Cancellation is cooperative. A Canceller marks the aggregate aborted
// before tearing down the transport read; the aggregator checks that flag
// before committing any further event, so a stale chunk or completion can
// never overwrite a user-initiated stop.
package answer

import (
	"fmt"

	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle state of an aggregate answer.
type Status string

const (
	// StatusIdle means no event has been applied yet.
	StatusIdle Status = "idle"

	// StatusStreaming means at least one event arrived and the stream is
	// still open.
	StatusStreaming Status = "streaming"

	// StatusCompleted is terminal: the answer finished, possibly with
	// partial text if the stream closed abruptly.
	StatusCompleted Status = "completed"

	// StatusAborted is terminal: the user stopped the stream. The partial
	// text carries StopMarker.
	StatusAborted Status = "aborted"

	// StatusFailed is terminal: the server reported an error event, or the
	// transport failed before any frame arrived.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether s is one of the three final states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// StopMarker is appended to the partial text of an aborted answer so the
// transcript clearly shows where the user stopped generation.
const StopMarker = "\n\n[stopped by user]"

// =============================================================================
// AGGREGATE ANSWER
// =============================================================================

// AggregateAnswer is the single mutable accumulation of one in-flight
// answer: its text, citations, diagnostics and slot state.
//
// One instance exists per request, owned exclusively by that request until
// the terminal transition. After that it is immutable and becomes the
// conversation's canonical record of the exchange.
type AggregateAnswer struct {
	// Id is a locally generated UUID for this answer.
	Id string `json:"id"`

	// SessionID and TraceID are adopted from the stream as soon as any
	// payload carries them.
	SessionID string `json:"session_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`

	// Text is the answer body. During streaming it reflects the deltas
	// applied so far; on completion the server's final answer string is
	// authoritative and overrides the client-side concatenation.
	Text string `json:"text"`

	// ContentHash is the hex SHA-256 of the accumulated text, computed
	// incrementally as deltas arrive. Empty until the terminal transition.
	ContentHash string `json:"content_hash,omitempty"`

	// Truncated is set when the accumulator ran out of capacity and later
	// deltas were dropped. Only possible with the fixed-size secure
	// accumulator.
	Truncated bool `json:"truncated,omitempty"`

	Citations       []wire.Citation      `json:"citations,omitempty"`
	Diagnostics     *wire.Diagnostics    `json:"diagnostics,omitempty"`
	Slots           map[string]string    `json:"slots,omitempty"`
	MissingSlots    []string             `json:"missing_slots,omitempty"`
	SlotPrompts     map[string]string    `json:"slot_prompts,omitempty"`
	SlotErrors      map[string]string    `json:"slot_errors,omitempty"`
	SlotSuggestions []string             `json:"slot_suggestions,omitempty"`
	Attachments     []wire.AttachmentRef `json:"attachments,omitempty"`

	Status Status `json:"status"`

	// ErrorMessage and ErrorCode are set when Status is StatusFailed.
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`

	// Event accounting and timing (Unix milliseconds).
	TotalEvents  int   `json:"total_events"`
	TotalChunks  int   `json:"total_chunks"`
	StartedAt    int64 `json:"started_at"`
	FirstChunkAt int64 `json:"first_chunk_at,omitempty"`
	CompletedAt  int64 `json:"completed_at,omitempty"`
}

// clone returns a deep copy safe to hand outside the aggregator's lock.
func (a *AggregateAnswer) clone() AggregateAnswer {
	out := *a

	out.Citations = append([]wire.Citation(nil), a.Citations...)
	out.MissingSlots = append([]string(nil), a.MissingSlots...)
	out.SlotSuggestions = append([]string(nil), a.SlotSuggestions...)
	out.Attachments = append([]wire.AttachmentRef(nil), a.Attachments...)

	if a.Diagnostics != nil {
		diagnostics := *a.Diagnostics
		out.Diagnostics = &diagnostics
	}
	out.Slots = cloneStringMap(a.Slots)
	out.SlotPrompts = cloneStringMap(a.SlotPrompts)
	out.SlotErrors = cloneStringMap(a.SlotErrors)

	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome is the typed result of one request, produced exactly once at the
// terminal transition. No raw transport error crosses the aggregator
// boundary; failures arrive here already classified.
type Outcome struct {
	// Status is one of the terminal states.
	Status Status

	// Answer is the final aggregate, including partial text for aborted
	// and abruptly closed streams.
	Answer AggregateAnswer

	// Err is non-nil only when Status is StatusFailed. For a server error
	// event it is a *ServerError.
	Err error
}

// ServerError is a failure reported by the advisor inside the stream or as
// a non-success HTTP response.
type ServerError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Message)
}
