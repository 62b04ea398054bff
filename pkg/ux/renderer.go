// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides user experience components for the Lumi CLI.
//
// This file contains stream renderers that display one streaming answer to
// various outputs (terminal, buffer, etc.).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse frames, read HTTP bodies, or
//	aggregate answer state; pkg/wire and pkg/answer own those concerns.
//	A renderer is fed the aggregator's delta callback and its terminal
//	outcome and turns them into terminal output.
//
// Renderer Types:
//
//   - TerminalStreamRenderer: Interactive terminal with spinners and colors
//   - BufferStreamRenderer: In-memory buffer for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/LumiAdvisor/pkg/answer"
)

// =============================================================================
// Render Result
// =============================================================================

// RenderResult captures what one renderer displayed for one request.
//
// The authoritative answer state lives in answer.AggregateAnswer; this
// result only records display-side accounting (what was printed, when the
// first delta landed, how the request ended).
type RenderResult struct {
	// Id is a locally generated UUID for this render pass.
	Id string

	// CreatedAt is when the renderer was constructed (Unix ms).
	CreatedAt int64

	// Text is the answer text as finally displayed. After a completed
	// outcome this equals the server's authoritative answer string.
	Text string

	// Status is the terminal status of the request, empty until the
	// outcome arrives.
	Status answer.Status

	// SessionID is adopted from the outcome.
	SessionID string

	// Error holds the failure message for failed requests.
	Error string

	// DeltaCount is the number of non-empty deltas rendered.
	DeltaCount int

	// CitationCount is the number of citations the outcome carried.
	CitationCount int

	// FirstDeltaAt and CompletedAt are Unix ms timestamps.
	FirstDeltaAt int64
	CompletedAt  int64
}

// Duration returns the wall time from construction to completion.
func (r *RenderResult) Duration() time.Duration {
	if r.CompletedAt == 0 || r.CreatedAt == 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.CreatedAt) * time.Millisecond
}

// TimeToFirstDelta returns the latency until the first rendered delta.
func (r *RenderResult) TimeToFirstDelta() time.Duration {
	if r.FirstDeltaAt == 0 || r.CreatedAt == 0 {
		return 0
	}
	return time.Duration(r.FirstDeltaAt-r.CreatedAt) * time.Millisecond
}

// =============================================================================
// Stream Renderer Interface
// =============================================================================

// StreamRenderer renders one streaming answer to an output destination.
//
// Lifecycle:
//
//  1. Create renderer with New*StreamRenderer()
//  2. Call OnStatus while waiting for the first chunk
//  3. Feed OnDelta from the aggregator's delta callback
//  4. Call OnOutcome with the terminal outcome (always, however it ended)
//  5. Call Finalize() when done (safe under defer, even on panic)
//
// Thread Safety:
//
//	Implementations must be safe for concurrent calls. Deltas arrive from
//	the stream's read goroutine while status updates may come from the
//	command goroutine.
//
// Example:
//
//	renderer := NewTerminalStreamRenderer(os.Stdout, GetPersonality().Level)
//	defer renderer.Finalize()
//
//	renderer.OnStatus(ctx, "Thinking...")
//	agg := answer.NewAggregator(answer.Config{
//	    OnDelta: func(d string) { renderer.OnDelta(ctx, d) },
//	})
//	err := reader.Read(ctx, body, agg.HandleEvent)
//	renderer.OnOutcome(ctx, agg.FinishStream(err))
type StreamRenderer interface {
	// OnStatus renders a status update (e.g., "Thinking...").
	//
	// In interactive mode, starts or updates a spinner that runs until
	// the first delta arrives. In machine mode, prints "STATUS: message".
	OnStatus(ctx context.Context, message string)

	// OnDelta renders one appended text delta.
	//
	// In interactive mode, prints immediately for the streaming effect.
	// In machine mode, buffers until the outcome. Deltas must arrive in
	// order; the aggregator guarantees that.
	OnDelta(ctx context.Context, delta string)

	// OnOutcome renders the terminal outcome of the request: the
	// authoritative final text when it differs from the streamed deltas,
	// the stop marker for aborted requests, the error for failed ones,
	// and the citations/diagnostics footer.
	//
	// Must be called exactly once, after the read loop has settled.
	OnOutcome(ctx context.Context, outcome answer.Outcome)

	// Finalize performs cleanup (stop spinners, flush output).
	//
	// MUST be called when streaming ends, even if abnormally.
	// Safe to call multiple times; subsequent calls are no-ops.
	Finalize()

	// Result returns the display-side accounting for this request.
	Result() *RenderResult
}

// =============================================================================
// Terminal Stream Renderer
// =============================================================================

// terminalStreamRenderer renders a streaming answer to an interactive
// terminal.
//
// Features:
//   - Spinner for status updates (stops automatically at the first delta)
//   - Real-time delta streaming
//   - Authoritative-answer reconciliation: when the completed payload's
//     answer differs from the concatenated deltas, the final text is
//     reprinted so the displayed answer always matches the server's
//   - Citations and diagnostics footer after the outcome
//
// Thread Safety:
//
//	All methods are protected by a mutex. Safe for concurrent calls.
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *RenderResult
	mu          sync.Mutex

	displayed strings.Builder
	hasDelta  bool
	settled   bool
	finalized bool
}

// NewTerminalStreamRenderer creates a renderer for interactive terminal output.
//
// Parameters:
//   - w: The output writer. If nil, defaults to os.Stdout.
//   - personality: Controls output styling. Use GetPersonality().Level for
//     the user's configured personality, or hardcode for specific behavior.
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
		result: &RenderResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
	}
}

// OnStatus renders a status update message.
//
// Interactive modes start or update a spinner; machine mode prints
// "STATUS: {message}" immediately.
func (r *terminalStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.settled {
		return
	}

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "STATUS: %s\n", message)
		return
	}

	// Start or update spinner
	if r.spinner == nil {
		r.spinner = NewSpinner(message)
		r.spinner.Start()
	} else {
		r.spinner.UpdateMessage(message)
	}
}

// OnDelta renders one appended text delta.
//
// The first delta stops the status spinner. Interactive modes print the
// delta immediately; machine mode buffers until the outcome so the ANSWER
// line always carries the authoritative final text.
func (r *terminalStreamRenderer) OnDelta(ctx context.Context, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.settled || delta == "" {
		return
	}

	if !r.hasDelta {
		r.hasDelta = true
		r.result.FirstDeltaAt = time.Now().UnixMilli()

		// Stop spinner when the answer starts
		if r.spinner != nil {
			r.spinner.Stop()
			r.spinner = nil
			if r.personality != PersonalityMachine {
				fmt.Fprintln(r.writer) // New line after spinner
			}
		}
	}

	r.displayed.WriteString(delta)
	r.result.DeltaCount++

	if r.personality == PersonalityMachine {
		// Buffer until the outcome in machine mode
		return
	}

	fmt.Fprint(r.writer, delta)
}

// OnOutcome renders the terminal outcome of the request.
//
// Settles the display exactly once: later OnDelta/OnStatus calls are
// ignored, which keeps a late continuation racing a cancel from writing
// after the stop marker.
func (r *terminalStreamRenderer) OnOutcome(ctx context.Context, outcome answer.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.settled {
		return
	}
	r.settled = true

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	aggregate := outcome.Answer
	r.result.Status = outcome.Status
	r.result.SessionID = aggregate.SessionID
	r.result.Text = aggregate.Text
	r.result.CitationCount = len(aggregate.Citations)
	r.result.CompletedAt = time.Now().UnixMilli()
	if outcome.Err != nil {
		r.result.Error = outcome.Err.Error()
	}

	if r.personality == PersonalityMachine {
		r.outcomeMachineLocked(outcome)
		return
	}

	r.outcomeInteractiveLocked(outcome)
}

// outcomeMachineLocked prints the outcome in KEY: value format. Caller
// holds r.mu.
func (r *terminalStreamRenderer) outcomeMachineLocked(outcome answer.Outcome) {
	aggregate := outcome.Answer

	switch outcome.Status {
	case answer.StatusFailed:
		if aggregate.ErrorCode != "" {
			fmt.Fprintf(r.writer, "ERROR: %s code=%s\n", aggregate.ErrorMessage, aggregate.ErrorCode)
		} else {
			fmt.Fprintf(r.writer, "ERROR: %s\n", r.result.Error)
		}
		return

	case answer.StatusAborted:
		if aggregate.Text != "" {
			fmt.Fprintf(r.writer, "ANSWER: %s\n", aggregate.Text)
		}
		if aggregate.SessionID != "" {
			fmt.Fprintf(r.writer, "SESSION: %s\n", aggregate.SessionID)
		}
		fmt.Fprintln(r.writer, "STOPPED")
		return
	}

	if aggregate.Text != "" {
		fmt.Fprintf(r.writer, "ANSWER: %s\n", aggregate.Text)
	}
	for _, c := range aggregate.Citations {
		fmt.Fprintf(r.writer, "CITATION: %s score=%.4f doc=%s\n", citationLabel(c), c.Score, c.DocID)
	}
	if aggregate.SessionID != "" {
		fmt.Fprintf(r.writer, "SESSION: %s\n", aggregate.SessionID)
	}
	fmt.Fprintln(r.writer, "DONE")
}

// outcomeInteractiveLocked prints the outcome for full/minimal modes.
// Caller holds r.mu.
func (r *terminalStreamRenderer) outcomeInteractiveLocked(outcome answer.Outcome) {
	aggregate := outcome.Answer

	switch outcome.Status {
	case answer.StatusFailed:
		fmt.Fprintf(r.writer, "\n%s %s\n",
			IconError.Render(),
			Styles.Error.Render(fmt.Sprintf("Stream error: %s", r.result.Error)))
		return

	case answer.StatusAborted:
		// The aggregate text already carries the stop marker; the deltas on
		// screen do not, so print just the marker line.
		marker := strings.TrimPrefix(answer.StopMarker, "\n\n")
		fmt.Fprintf(r.writer, "\n\n%s\n", Styles.Muted.Render(marker))
		return
	}

	streamed := r.displayed.String()
	switch {
	case aggregate.Text == streamed:
		// Streamed text was already authoritative; just end the line.
		if streamed != "" && !strings.HasSuffix(streamed, "\n") {
			fmt.Fprintln(r.writer)
		}
	case !r.hasDelta:
		// No streaming happened (answer arrived whole).
		if r.personality != PersonalityMachine {
			fmt.Fprintln(r.writer)
		}
		fmt.Fprintln(r.writer, aggregate.Text)
	default:
		// The server's final answer string wins over the concatenation.
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, Styles.Muted.Render("(answer revised by server)"))
		fmt.Fprintln(r.writer, aggregate.Text)
	}

	r.citationsFooterLocked(aggregate)
	r.diagnosticsFooterLocked(aggregate)
}

// citationsFooterLocked prints the citations beneath a completed answer.
// Caller holds r.mu.
func (r *terminalStreamRenderer) citationsFooterLocked(aggregate answer.AggregateAnswer) {
	if len(aggregate.Citations) == 0 {
		return
	}

	fmt.Fprintln(r.writer)
	if r.personality == PersonalityMinimal {
		fmt.Fprintln(r.writer, "Citations:")
		for i, c := range aggregate.Citations {
			fmt.Fprintf(r.writer, "  %d. %s\n", i+1, citationLabel(c))
		}
		return
	}

	var content strings.Builder
	for i, c := range aggregate.Citations {
		scoreInfo := ""
		if c.Score != 0 {
			scoreInfo = Styles.Muted.Render(fmt.Sprintf(" (%.2f)", c.Score))
		}
		content.WriteString(fmt.Sprintf("%d. %s%s", i+1, citationLabel(c), scoreInfo))
		if i < len(aggregate.Citations)-1 {
			content.WriteString("\n")
		}
	}
	boxStyle := Styles.InfoBox.Width(72)
	titleLine := Styles.Subtitle.Render("Citations")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
}

// diagnosticsFooterLocked prints a one-line telemetry summary and the low
// confidence warning when the server flagged the answer. Caller holds r.mu.
func (r *terminalStreamRenderer) diagnosticsFooterLocked(aggregate answer.AggregateAnswer) {
	d := aggregate.Diagnostics
	if d == nil {
		return
	}

	if d.EndToEndMs > 0 && r.personality != PersonalityMinimal {
		fmt.Fprintln(r.writer, Styles.Muted.Render(fmt.Sprintf("answered in %.0fms", d.EndToEndMs)))
	}

	if d.LowConfidence || d.ReviewSuggested {
		reason := d.ReviewReason
		if reason == "" {
			reason = "low confidence answer, please verify independently"
		}
		fmt.Fprintf(r.writer, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(reason))
	}
}

// Finalize performs cleanup and marks the renderer as complete.
//
// Safe to call multiple times; subsequent calls are no-ops. Stops any
// running spinner so an early return never leaves the terminal animating.
func (r *terminalStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.result.Text == "" {
		r.result.Text = r.displayed.String()
	}
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns the accumulated RenderResult.
//
// Returns a copy; modifications do not affect the renderer's internal
// state. May be called mid-stream for partial accounting.
func (r *terminalStreamRenderer) Result() *RenderResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	if result.Text == "" {
		result.Text = r.displayed.String()
	}
	return &result
}

// =============================================================================
// Buffer Stream Renderer (for testing)
// =============================================================================

// RenderEventKind labels one captured event in a BufferStreamRenderer.
type RenderEventKind string

const (
	RenderEventStatus  RenderEventKind = "status"
	RenderEventDelta   RenderEventKind = "delta"
	RenderEventOutcome RenderEventKind = "outcome"
)

// RenderEvent is one captured renderer call, in arrival order.
type RenderEvent struct {
	Kind   RenderEventKind
	Text   string
	Status answer.Status
}

// bufferStreamRenderer captures renderer calls without producing output.
//
// Ideal for unit tests that verify ordering and aggregation without
// inspecting terminal escape codes.
type bufferStreamRenderer struct {
	result    *RenderResult
	events    []RenderEvent
	mu        sync.Mutex
	settled   bool
	finalized bool

	displayed strings.Builder
}

// NewBufferStreamRenderer creates a renderer that buffers events to memory.
//
// Example:
//
//	renderer := NewBufferStreamRenderer()
//	defer renderer.Finalize()
//
//	renderer.OnDelta(ctx, "Hello")
//	renderer.OnDelta(ctx, " world")
//
//	result := renderer.Result()
//	if result.Text != "Hello world" {
//	    t.Error("unexpected text")
//	}
func NewBufferStreamRenderer() StreamRenderer {
	return &bufferStreamRenderer{
		result: &RenderResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
		events: make([]RenderEvent, 0),
	}
}

// OnStatus captures a status event to the buffer.
func (r *bufferStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.settled {
		return
	}

	r.events = append(r.events, RenderEvent{Kind: RenderEventStatus, Text: message})
}

// OnDelta captures a delta event to the buffer.
func (r *bufferStreamRenderer) OnDelta(ctx context.Context, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.settled || delta == "" {
		return
	}

	if r.result.FirstDeltaAt == 0 {
		r.result.FirstDeltaAt = time.Now().UnixMilli()
	}

	r.displayed.WriteString(delta)
	r.result.DeltaCount++
	r.events = append(r.events, RenderEvent{Kind: RenderEventDelta, Text: delta})
}

// OnOutcome captures the terminal outcome to the buffer.
func (r *bufferStreamRenderer) OnOutcome(ctx context.Context, outcome answer.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.settled {
		return
	}
	r.settled = true

	aggregate := outcome.Answer
	r.result.Status = outcome.Status
	r.result.SessionID = aggregate.SessionID
	r.result.Text = aggregate.Text
	r.result.CitationCount = len(aggregate.Citations)
	r.result.CompletedAt = time.Now().UnixMilli()
	if outcome.Err != nil {
		r.result.Error = outcome.Err.Error()
	}

	r.events = append(r.events, RenderEvent{
		Kind:   RenderEventOutcome,
		Text:   aggregate.Text,
		Status: outcome.Status,
	})
}

// Finalize marks the buffer renderer as complete.
func (r *bufferStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	if r.result.Text == "" {
		r.result.Text = r.displayed.String()
	}
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns a copy of the accumulated RenderResult.
func (r *bufferStreamRenderer) Result() *RenderResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	if result.Text == "" {
		result.Text = r.displayed.String()
	}
	return &result
}

// Events returns all captured events for testing inspection.
//
// This method is specific to bufferStreamRenderer and not part of the
// StreamRenderer interface. Cast the renderer to access it.
func (r *bufferStreamRenderer) Events() []RenderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]RenderEvent, len(r.events))
	copy(events, r.events)
	return events
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ StreamRenderer = (*terminalStreamRenderer)(nil)
var _ StreamRenderer = (*bufferStreamRenderer)(nil)
