// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire implements the client side of the Lumi advisor event-stream
// protocol: splitting an incrementally delivered byte stream into frames,
// classifying each frame by event name, and deserializing its payload.
//
// The protocol is an SSE-style stream. Each frame is separated by a blank
// line and carries a header line ("event: <name>") plus one or more body
// lines ("data: <json-fragment>") that are newline-joined before parsing:
//
//	event: chunk
//	data: {"delta":"Hel","session_id":"sess-1"}
//
//	event: completed
//	data: {"answer":"Hello.","session_id":"sess-1"}
//
// Recognized event names are "chunk", "citations", "completed" and "error".
// Anything else is routed with KindUnknown so callers can skip it without
// aborting the stream.
package wire

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

// EventKind classifies a decoded frame by its wire event name.
type EventKind string

const (
	// KindChunk carries an incremental answer text delta.
	KindChunk EventKind = "chunk"

	// KindCitations carries citation metadata and slot state. It may arrive
	// multiple times during one stream; each arrival is authoritative for
	// the fields it carries.
	KindCitations EventKind = "citations"

	// KindCompleted carries the final answer payload and terminates the
	// stream.
	KindCompleted EventKind = "completed"

	// KindError reports a server-side failure and terminates the stream.
	KindError EventKind = "error"

	// KindUnknown marks a frame whose event name is not part of the
	// protocol. Consumers skip these.
	KindUnknown EventKind = "unknown"
)

// kindForName maps a wire event name to its EventKind.
func kindForName(name string) EventKind {
	switch name {
	case "chunk":
		return KindChunk
	case "citations":
		return KindCitations
	case "completed":
		return KindCompleted
	case "error":
		return KindError
	default:
		return KindUnknown
	}
}

// =============================================================================
// PAYLOAD TYPES
// =============================================================================

// Citation is one retrieved source reference attached to an answer.
//
// Citations are immutable once received. The server's ordering is
// preserved; the client never re-sorts them.
type Citation struct {
	ChunkID        string   `json:"chunk_id"`
	DocID          string   `json:"doc_id"`
	Snippet        string   `json:"snippet"`
	Score          float64  `json:"score"`
	SourceName     string   `json:"source_name,omitempty"`
	URL            string   `json:"url,omitempty"`
	Domain         string   `json:"domain,omitempty"`
	StartChar      int      `json:"start_char,omitempty"`
	EndChar        int      `json:"end_char,omitempty"`
	LastVerifiedAt string   `json:"last_verified_at,omitempty"`
	Highlights     []string `json:"highlights,omitempty"`
}

// Diagnostics carries per-request timing and confidence telemetry emitted
// alongside citations.
type Diagnostics struct {
	RetrievalMs      float64 `json:"retrieval_ms,omitempty"`
	RerankMs         float64 `json:"rerank_ms,omitempty"`
	GenerationMs     float64 `json:"generation_ms,omitempty"`
	EndToEndMs       float64 `json:"end_to_end_ms,omitempty"`
	LowConfidence    bool    `json:"low_confidence,omitempty"`
	CitationCoverage float64 `json:"citation_coverage,omitempty"`
	ReviewSuggested  bool    `json:"review_suggested,omitempty"`
	ReviewReason     string  `json:"review_reason,omitempty"`
}

// AttachmentRef identifies an uploaded file referenced by an answer.
type AttachmentRef struct {
	UploadID  string `json:"upload_id"`
	Filename  string `json:"filename,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// ChunkPayload is the body of a "chunk" event.
type ChunkPayload struct {
	Delta     string `json:"delta"`
	SessionID string `json:"session_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AnswerPayload is the body of a "citations" or "completed" event.
//
// Every field except SessionID/TraceID is a pointer: the aggregator
// replaces a field wholesale when the key is present in the payload and
// retains the prior value when it is absent. A present-but-empty list is a
// deliberate replacement with nothing, which is different from an absent
// key.
type AnswerPayload struct {
	Answer          *string            `json:"answer,omitempty"`
	SessionID       string             `json:"session_id,omitempty"`
	TraceID         string             `json:"trace_id,omitempty"`
	Citations       *[]Citation        `json:"citations,omitempty"`
	Diagnostics     *Diagnostics       `json:"diagnostics,omitempty"`
	Slots           *map[string]string `json:"slots,omitempty"`
	MissingSlots    *[]string          `json:"missing_slots,omitempty"`
	SlotPrompts     *map[string]string `json:"slot_prompts,omitempty"`
	SlotErrors      *map[string]string `json:"slot_errors,omitempty"`
	SlotSuggestions *[]string          `json:"slot_suggestions,omitempty"`
	Attachments     *[]AttachmentRef   `json:"attachments,omitempty"`
}

// ErrorPayload is the body of an "error" event.
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// =============================================================================
// EVENT
// =============================================================================

// Event is one routed frame, ready for the aggregator.
//
// Exactly one of Chunk, Answer or Err is set, matching Kind. A nil payload
// with a recognized Kind means the frame body was malformed; the event is
// still delivered so the consumer can account for it, but it carries no
// data (degraded-frame policy: garbled payloads never abort the stream).
type Event struct {
	// Id is a locally generated UUID for logging and deduplication.
	Id string `json:"id"`

	// Kind classifies the event; Name preserves the raw wire name.
	Kind EventKind `json:"kind"`
	Name string    `json:"name"`

	// Index is the 0-based arrival position within the stream, assigned by
	// the stream reader. Chunk application order MUST follow Index order.
	Index int `json:"index"`

	// CreatedAt is when the client routed the frame (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	Chunk  *ChunkPayload  `json:"chunk,omitempty"`
	Answer *AnswerPayload `json:"answer,omitempty"`
	Err    *ErrorPayload  `json:"error,omitempty"`
}

// IsTerminal reports whether this event ends the stream ("completed" or
// "error"). The stream reader stops consuming after delivering a terminal
// event.
func (e *Event) IsTerminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindError
}

// newEvent creates an Event with identity metadata populated.
func newEvent(kind EventKind, name string) *Event {
	return &Event{
		Id:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
	}
}
