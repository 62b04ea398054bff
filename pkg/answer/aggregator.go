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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator drives the answer state machine:
//
//	Idle → Streaming → {Completed | Aborted | Failed}
//
// # Description
//
// Events are applied strictly in arrival order by the stream's read
// goroutine. Chunk deltas append to the text; citations events replace the
// fields they carry; a completed event finalizes the text (the server's
// full answer string, when present, overrides the client-side
// concatenation); an error event fails the request while preserving
// partial text for review.
//
// Exactly one terminal transition happens per request, and the OnTerminal
// callback fires at most once, no matter how the stream ends. Once the
// aborted flag is set or a terminal state is reached, every further event
// is dropped before any state change, so a stale completion can never
// overwrite a user-initiated stop.
//
// # Thread Safety
//
// All methods are safe for concurrent use. HandleEvent is expected to be
// called from a single reader goroutine; Snapshot, MarkAborted and Done
// may be called from anywhere.
type Aggregator interface {
	// HandleEvent applies one routed event. Matches wire.FrameCallback so
	// it can be passed directly to a StreamReader.
	HandleEvent(event wire.Event) error

	// FinishStream settles the request after the read loop returns.
	// streamErr is whatever the reader returned: nil for a clean end,
	// a context error for cancellation, or a transport failure. Returns
	// the terminal outcome, computing it if no terminal event arrived.
	FinishStream(streamErr error) Outcome

	// MarkAborted sets the aborted flag ahead of transport teardown.
	// Returns false when the request is already stopping or terminal.
	MarkAborted() bool

	// Snapshot returns a copy of the current aggregate, including the
	// text accumulated so far.
	Snapshot() AggregateAnswer

	// Status returns the current lifecycle state.
	Status() Status

	// Outcome returns the terminal outcome, if one has been produced.
	Outcome() (Outcome, bool)

	// Done is closed at the terminal transition.
	Done() <-chan struct{}
}

// Config configures an Aggregator.
type Config struct {
	// Logger for event accounting. Nil falls back to slog.Default().
	Logger *slog.Logger

	// Accumulator overrides the text sink, mainly for tests. Nil selects
	// the best accumulator for the system (see NewTokenAccumulator).
	Accumulator TokenAccumulator

	// OnDelta, when set, receives each appended text delta. Called from
	// the reader goroutine, outside the aggregator's lock.
	OnDelta func(delta string)

	// OnTerminal, when set, receives the terminal outcome. Fires at most
	// once.
	OnTerminal func(outcome Outcome)
}

// aggregator is the default Aggregator implementation.
type aggregator struct {
	logger      *slog.Logger
	accumulator TokenAccumulator
	onDelta     func(string)
	onTerminal  func(Outcome)

	mu       sync.Mutex
	answer   AggregateAnswer
	aborted  bool
	outcome  *Outcome
	done     chan struct{}
	warnedOF bool
}

// Compile-time check that aggregator implements Aggregator.
var _ Aggregator = (*aggregator)(nil)

// NewAggregator creates an aggregator for one request.
func NewAggregator(cfg Config) Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	accumulator := cfg.Accumulator
	if accumulator == nil {
		accumulator = NewTokenAccumulator(logger)
	}

	return &aggregator{
		logger:      logger,
		accumulator: accumulator,
		onDelta:     cfg.OnDelta,
		onTerminal:  cfg.OnTerminal,
		answer: AggregateAnswer{
			Id:        uuid.New().String(),
			Status:    StatusIdle,
			StartedAt: time.Now().UnixMilli(),
		},
		done: make(chan struct{}),
	}
}

// =============================================================================
// Event Application
// =============================================================================

// HandleEvent implements Aggregator.
func (g *aggregator) HandleEvent(event wire.Event) error {
	g.mu.Lock()

	// Stale continuation guard: once stopped, commit nothing.
	if g.aborted || g.answer.Status.IsTerminal() {
		g.mu.Unlock()
		g.logger.Debug("dropping stream event after stop",
			"event", event.Name, "index", event.Index)
		return nil
	}

	g.answer.TotalEvents++
	if g.answer.Status == StatusIdle {
		g.answer.Status = StatusStreaming
	}

	var delta string
	var fired *Outcome

	switch event.Kind {
	case wire.KindChunk:
		delta = g.applyChunkLocked(event.Chunk)

	case wire.KindCitations:
		g.applyAnswerFieldsLocked(event.Answer)

	case wire.KindCompleted:
		g.applyAnswerFieldsLocked(event.Answer)
		g.finalizeTextLocked(event.Answer)
		fired = g.transitionLocked(StatusCompleted, nil)

	case wire.KindError:
		serverErr := serverErrorFrom(event.Err)
		g.answer.ErrorMessage = serverErr.Message
		g.answer.ErrorCode = serverErr.Code
		g.finalizeTextLocked(nil)
		fired = g.transitionLocked(StatusFailed, serverErr)

	default:
		// Unknown kinds are counted and skipped.
	}

	g.mu.Unlock()

	// Callbacks run outside the lock; events arrive from one goroutine,
	// so delta order is preserved.
	if delta != "" && g.onDelta != nil {
		g.onDelta(delta)
	}
	if fired != nil && g.onTerminal != nil {
		g.onTerminal(*fired)
	}
	return nil
}

// applyChunkLocked appends a chunk delta and returns it when it was
// actually committed. Caller holds g.mu.
func (g *aggregator) applyChunkLocked(payload *wire.ChunkPayload) string {
	if payload == nil {
		// Malformed chunk: tolerated, prior state retained.
		return ""
	}

	g.answer.TotalChunks++
	g.adoptIdsLocked(payload.SessionID, payload.TraceID)

	if payload.Delta == "" {
		return ""
	}

	if err := g.accumulator.Write(payload.Delta); err != nil {
		g.answer.Truncated = true
		if !g.warnedOF {
			g.warnedOF = true
			g.logger.Warn("answer text truncated",
				"answer_id", g.answer.Id, "error", err)
		}
		return ""
	}

	if g.answer.FirstChunkAt == 0 {
		g.answer.FirstChunkAt = time.Now().UnixMilli()
	}
	return payload.Delta
}

// applyAnswerFieldsLocked replaces each aggregate field the payload
// carries. Absent fields keep their prior value; a present-but-empty field
// is a deliberate replacement. Caller holds g.mu.
func (g *aggregator) applyAnswerFieldsLocked(payload *wire.AnswerPayload) {
	if payload == nil {
		return
	}

	g.adoptIdsLocked(payload.SessionID, payload.TraceID)

	if payload.Citations != nil {
		g.answer.Citations = *payload.Citations
	}
	if payload.Diagnostics != nil {
		diagnostics := *payload.Diagnostics
		g.answer.Diagnostics = &diagnostics
	}
	if payload.Slots != nil {
		g.answer.Slots = *payload.Slots
	}
	if payload.MissingSlots != nil {
		g.answer.MissingSlots = *payload.MissingSlots
	}
	if payload.SlotPrompts != nil {
		g.answer.SlotPrompts = *payload.SlotPrompts
	}
	if payload.SlotErrors != nil {
		g.answer.SlotErrors = *payload.SlotErrors
	}
	if payload.SlotSuggestions != nil {
		g.answer.SlotSuggestions = *payload.SlotSuggestions
	}
	if payload.Attachments != nil {
		g.answer.Attachments = *payload.Attachments
	}
}

// adoptIdsLocked picks up session/trace ids the first time any payload
// carries them (and follows server-side changes). Caller holds g.mu.
func (g *aggregator) adoptIdsLocked(sessionID, traceID string) {
	if sessionID != "" {
		g.answer.SessionID = sessionID
	}
	if traceID != "" {
		g.answer.TraceID = traceID
	}
}

// finalizeTextLocked settles the answer text from the accumulator, letting
// the server's final answer string win over the concatenated deltas when
// present (guards against any dropped or duplicated chunk). Caller holds
// g.mu.
func (g *aggregator) finalizeTextLocked(payload *wire.AnswerPayload) {
	text, contentHash, err := g.accumulator.Finalize()
	if err != nil {
		g.logger.Warn("accumulator finalize failed",
			"answer_id", g.answer.Id, "error", err)
	}

	if payload != nil && payload.Answer != nil {
		if final := *payload.Answer; final != text {
			text = final
			contentHash = hashText(final)
		}
	}

	g.answer.Text = text
	g.answer.ContentHash = contentHash
}

// =============================================================================
// Terminal Settlement
// =============================================================================

// FinishStream implements Aggregator.
func (g *aggregator) FinishStream(streamErr error) Outcome {
	g.mu.Lock()

	// A terminal event already settled the request.
	if g.outcome != nil {
		outcome := *g.outcome
		g.mu.Unlock()
		return outcome
	}

	var fired *Outcome
	switch {
	case g.aborted || errors.Is(streamErr, context.Canceled):
		// User stop: partial text plus a visible marker, not an error.
		text, _, _ := g.accumulator.Finalize()
		g.answer.Text = text + StopMarker
		g.answer.ContentHash = hashText(g.answer.Text)
		fired = g.transitionLocked(StatusAborted, nil)

	case streamErr != nil && g.answer.TotalEvents == 0:
		// Transport failed before any frame: a plain failure, no partial.
		g.accumulator.Destroy()
		g.answer.ErrorMessage = streamErr.Error()
		fired = g.transitionLocked(StatusFailed,
			fmt.Errorf("stream transport: %w", streamErr))

	default:
		// Stream ended without completed/error: keep the partial answer
		// rather than losing it.
		if streamErr != nil {
			g.logger.Warn("stream ended abnormally, keeping partial answer",
				"answer_id", g.answer.Id, "error", streamErr)
		}
		g.finalizeTextLocked(nil)
		fired = g.transitionLocked(StatusCompleted, nil)
	}

	outcome := *fired
	g.mu.Unlock()

	if g.onTerminal != nil {
		g.onTerminal(outcome)
	}
	return outcome
}

// transitionLocked performs the terminal transition exactly once. Caller
// holds g.mu. Returns nil if a terminal state was already reached.
func (g *aggregator) transitionLocked(status Status, err error) *Outcome {
	if g.answer.Status.IsTerminal() {
		return nil
	}

	g.answer.Status = status
	g.answer.CompletedAt = time.Now().UnixMilli()

	outcome := &Outcome{
		Status: status,
		Answer: g.answer.clone(),
		Err:    err,
	}
	g.outcome = outcome
	close(g.done)

	g.logger.Debug("answer reached terminal state",
		"answer_id", g.answer.Id,
		"status", status,
		"session_id", g.answer.SessionID,
		"events", g.answer.TotalEvents,
		"chunks", g.answer.TotalChunks,
		"text_length", len(g.answer.Text))

	return outcome
}

// MarkAborted implements Aggregator.
func (g *aggregator) MarkAborted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.aborted || g.answer.Status.IsTerminal() {
		return false
	}
	g.aborted = true
	return true
}

// =============================================================================
// Observation
// =============================================================================

// Snapshot implements Aggregator.
func (g *aggregator) Snapshot() AggregateAnswer {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := g.answer.clone()
	if !g.answer.Status.IsTerminal() {
		snapshot.Text = g.accumulator.Snapshot()
	}
	return snapshot
}

// Status implements Aggregator.
func (g *aggregator) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.answer.Status
}

// Outcome implements Aggregator.
func (g *aggregator) Outcome() (Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outcome == nil {
		return Outcome{}, false
	}
	return *g.outcome, true
}

// Done implements Aggregator.
func (g *aggregator) Done() <-chan struct{} {
	return g.done
}

// =============================================================================
// Helpers
// =============================================================================

// serverErrorFrom builds a ServerError from an error payload, tolerating a
// malformed body.
func serverErrorFrom(payload *wire.ErrorPayload) *ServerError {
	if payload == nil {
		return &ServerError{Message: "unknown stream error"}
	}
	message := payload.Message
	if message == "" {
		message = "unknown stream error"
	}
	return &ServerError{Code: payload.Code, Message: message}
}

// hashText is the content hash used when the finalized text differs from
// the accumulated deltas.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
