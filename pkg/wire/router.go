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
	"encoding/json"
	"log/slog"
	"strings"
)

// =============================================================================
// EVENT ROUTER
// =============================================================================

// EventRouter turns one raw frame into a typed Event.
//
// # Description
//
// A frame is a set of header lines. The router extracts the event name
// from the "event:" line, joins all "data:" lines with newlines into the
// payload body, and deserializes the body according to the event kind.
//
// Malformed payloads are tolerated: if the body is not valid JSON for the
// expected shape, the Event is still returned with a nil payload and the
// problem is logged. A bad frame must never kill a live stream.
//
// # Outputs
//
//   - A typed *Event, or nil when the frame carries no event name (such
//     frames, including comment-only keep-alives, are silently ignored).
type EventRouter interface {
	// Route parses one raw frame. Returns nil for frames without an event
	// name.
	Route(rawFrame string) *Event
}

// eventRouter is the default EventRouter implementation.
type eventRouter struct {
	logger *slog.Logger
}

// Compile-time check that eventRouter implements EventRouter.
var _ EventRouter = (*eventRouter)(nil)

// NewEventRouter creates a router. A nil logger falls back to
// slog.Default().
func NewEventRouter(logger *slog.Logger) EventRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventRouter{logger: logger}
}

// Route implements EventRouter.
func (r *eventRouter) Route(rawFrame string) *Event {
	name, body := splitFrame(rawFrame)
	if name == "" {
		return nil
	}

	event := newEvent(kindForName(name), name)
	if event.Kind == KindUnknown {
		r.logger.Debug("skipping unknown stream event", "event", name)
		return event
	}

	r.decodePayload(event, body)
	return event
}

// decodePayload deserializes body into the payload slot matching the event
// kind. On failure the slot stays nil and the event is delivered anyway.
func (r *eventRouter) decodePayload(event *Event, body string) {
	if body == "" {
		r.logger.Warn("stream event has empty payload", "event", event.Name)
		return
	}

	var err error
	switch event.Kind {
	case KindChunk:
		payload := &ChunkPayload{}
		if err = json.Unmarshal([]byte(body), payload); err == nil {
			event.Chunk = payload
		}
	case KindCitations, KindCompleted:
		payload := &AnswerPayload{}
		if err = json.Unmarshal([]byte(body), payload); err == nil {
			event.Answer = payload
		}
	case KindError:
		payload := &ErrorPayload{}
		if err = json.Unmarshal([]byte(body), payload); err == nil {
			event.Err = payload
		}
	}

	if err != nil {
		r.logger.Warn("stream event payload is malformed",
			"event", event.Name,
			"error", err,
			"payload_bytes", len(body))
	}
}

// splitFrame extracts the event name and the newline-joined data body from
// one raw frame. Lines that are neither "event:" nor "data:" headers
// (comments, retry hints, unknown fields) are ignored.
func splitFrame(rawFrame string) (name string, body string) {
	var dataLines []string

	for _, line := range strings.Split(rawFrame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			// A single leading space is delimiter formatting, not data.
			data = strings.TrimPrefix(data, " ")
			dataLines = append(dataLines, data)
		}
	}

	return name, strings.Join(dataLines, "\n")
}
