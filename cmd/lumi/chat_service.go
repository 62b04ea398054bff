// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/answer"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// =============================================================================
// Interface
// =============================================================================

// ChatService streams one advising turn at a time.
//
// # Description
//
// ChatService owns the session id and the slot machine across turns. Each
// SendMessage call submits the question, consumes the event stream, renders
// it, and folds the terminal outcome back into the session state (session
// id adoption, slot updates).
//
// # Thread Safety
//
// SendMessage must not be called concurrently with itself. Stop and
// GetSessionID are safe from other goroutines; that is how Ctrl+C reaches
// an in-flight stream.
type ChatService interface {
	// SendMessage sends a user question and streams the answer. The
	// attachment ids ride along on the request. Returns the terminal
	// outcome; err is non-nil only for failures before the stream
	// settled into an outcome.
	SendMessage(ctx context.Context, message string, attachments []string) (answer.Outcome, error)

	// Stop aborts the in-flight stream, if any. Returns true when this
	// call performed the stop.
	Stop() bool

	// GetSessionID returns the current session identifier, empty before
	// the first completed turn of a new session.
	GetSessionID() string

	// Machine returns the slot machine tracking the student profile.
	Machine() *slots.Machine

	// UpdateSlots saves a profile edit: local validation gate,
	// optimistic apply, server save, rollback on failure. Validation
	// failures come back as errSlotValidation with the details parked
	// on the machine for the panel to show.
	UpdateSlots(ctx context.Context, diff slots.Diff) error

	// ResumeSession loads an existing session: adopts its id, replaces
	// the local slot values, and returns the stored transcript for
	// replay.
	ResumeSession(ctx context.Context, sessionID string) (*advisor.Session, []advisor.Message, error)

	// Close releases resources. Idempotent.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// AdvisorChatServiceConfig configures an advisorChatService. Client and
// Machine are required.
type AdvisorChatServiceConfig struct {
	Client         *advisor.Client
	Machine        *slots.Machine
	Language       string              // answer language: "en", "zh", "" for auto
	TopK           int                 // retrieval depth, 0 keeps the server default
	KCite          int                 // citations per answer, 0 keeps the server default
	ExplainLikeNew bool                // expand jargon for first-time applicants
	Writer         io.Writer           // stream output, defaults to os.Stdout
	Personality    ux.PersonalityLevel // output styling
	Logger         *slog.Logger        // defaults to slog.Default()

	// NewRenderer overrides renderer construction, mainly for tests.
	NewRenderer func() ux.StreamRenderer
}

// =============================================================================
// Implementation
// =============================================================================

// advisorChatService implements ChatService against the advisor REST API.
type advisorChatService struct {
	client         *advisor.Client
	machine        *slots.Machine
	language       string
	topK           int
	kCite          int
	explainLikeNew bool
	logger         *slog.Logger
	newRenderer    func() ux.StreamRenderer

	mu        sync.Mutex
	sessionID string
	canceller *answer.Canceller
	closed    bool
}

// NewAdvisorChatService creates a chat service from config, applying
// defaults for the optional fields.
func NewAdvisorChatService(cfg AdvisorChatServiceConfig) ChatService {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	personality := cfg.Personality
	if personality == "" {
		personality = ux.GetPersonality().Level
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newRenderer := cfg.NewRenderer
	if newRenderer == nil {
		newRenderer = func() ux.StreamRenderer {
			return ux.NewTerminalStreamRenderer(writer, personality)
		}
	}

	return &advisorChatService{
		client:         cfg.Client,
		machine:        cfg.Machine,
		language:       cfg.Language,
		topK:           cfg.TopK,
		kCite:          cfg.KCite,
		explainLikeNew: cfg.ExplainLikeNew,
		logger:         logger,
		newRenderer:    newRenderer,
	}
}

// SendMessage implements ChatService.
//
// # Description
//
// Submits the question, reads the event stream frame by frame into the
// aggregator, and renders deltas as they arrive. The aggregator settles
// the request into exactly one terminal outcome; transport failures,
// mid-stream error events, and user stops all come back as outcomes, not
// panics or raw errors.
func (s *advisorChatService) SendMessage(ctx context.Context, message string, attachments []string) (answer.Outcome, error) {
	requestID := uuid.New().String()
	currentSessionID := s.GetSessionID()

	s.logger.Debug("sending advising question",
		"request_id", requestID,
		"session_id", currentSessionID,
		"message_length", len(message),
		"attachments", len(attachments),
	)

	renderer := s.newRenderer()
	defer renderer.Finalize()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	aggregate := answer.NewAggregator(answer.Config{
		Logger: s.logger,
		OnDelta: func(delta string) {
			renderer.OnDelta(reqCtx, delta)
		},
	})

	// Arm the stop path before any network call so a Ctrl+C during
	// connection setup still lands.
	s.armCanceller(answer.NewCanceller(aggregate, cancel))
	defer s.disarmCanceller()

	renderer.OnStatus(reqCtx, "Looking that up...")

	body, err := s.client.Query(reqCtx, s.buildQuery(message, currentSessionID, attachments))
	if err != nil {
		outcome := aggregate.FinishStream(err)
		renderer.OnOutcome(ctx, outcome)
		return outcome, fmt.Errorf("query advisor: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			s.logger.Error("failed to close response body", "request_id", requestID, "error", err)
		}
	}(body)

	reader := wire.NewStreamReader(wire.NewEventRouter(s.logger))
	readErr := reader.Read(reqCtx, body, aggregate.HandleEvent)

	outcome := aggregate.FinishStream(readErr)
	renderer.OnOutcome(ctx, outcome)

	s.adoptSessionID(requestID, outcome.Answer.SessionID)
	s.applySlotUpdate(outcome.Answer)

	s.logger.Debug("advising turn settled",
		"request_id", requestID,
		"session_id", outcome.Answer.SessionID,
		"status", string(outcome.Status),
		"chunks", outcome.Answer.TotalChunks,
		"citations", len(outcome.Answer.Citations),
	)

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return outcome, fmt.Errorf("read stream: %w", readErr)
	}
	return outcome, nil
}

// buildQuery assembles the streaming request body for one turn.
func (s *advisorChatService) buildQuery(message, sessionID string, attachments []string) advisor.QueryRequest {
	return advisor.QueryRequest{
		Question:       message,
		Language:       s.language,
		SessionID:      sessionID,
		TopK:           s.topK,
		KCite:          s.kCite,
		Attachments:    attachments,
		ExplainLikeNew: s.explainLikeNew,
	}
}

// armCanceller publishes the in-flight request's stop handle.
func (s *advisorChatService) armCanceller(c *answer.Canceller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceller = c
}

// disarmCanceller clears the stop handle after the turn settles.
func (s *advisorChatService) disarmCanceller() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceller = nil
}

// Stop aborts the in-flight stream, if any.
func (s *advisorChatService) Stop() bool {
	s.mu.Lock()
	c := s.canceller
	s.mu.Unlock()

	if c == nil {
		return false
	}
	return c.Cancel()
}

// adoptSessionID stores the server-assigned session id if changed.
// Empty ids are ignored; the advisor only omits the id on failures.
func (s *advisorChatService) adoptSessionID(requestID, newSessionID string) {
	if newSessionID == "" {
		return
	}

	s.mu.Lock()
	oldSessionID := s.sessionID
	s.sessionID = newSessionID
	s.mu.Unlock()

	if oldSessionID != newSessionID {
		s.logger.Info("session id adopted from stream",
			"request_id", requestID,
			"old_session_id", oldSessionID,
			"new_session_id", newSessionID,
		)
	}
}

// applySlotUpdate folds the aggregate's slot fields into the machine.
// Nil maps mean the server never sent that field this turn; nothing is
// replaced with emptiness by accident.
func (s *advisorChatService) applySlotUpdate(agg answer.AggregateAnswer) {
	if s.machine == nil {
		return
	}

	var update slots.ServerUpdate
	if agg.Slots != nil {
		update.Slots = &agg.Slots
	}
	if agg.SlotPrompts != nil {
		update.SlotPrompts = &agg.SlotPrompts
	}
	if agg.SlotErrors != nil {
		update.SlotErrors = &agg.SlotErrors
	}
	if agg.SlotSuggestions != nil {
		update.SlotSuggestions = &agg.SlotSuggestions
	}
	s.machine.ApplyServer(update)
}

// GetSessionID returns the current session id.
func (s *advisorChatService) GetSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Machine returns the slot machine shared with the REPL.
func (s *advisorChatService) Machine() *slots.Machine {
	return s.machine
}

// errSlotValidation signals that a profile edit failed local validation.
// The per-slot messages are parked on the machine so the panel can show
// them next to the offending fields.
var errSlotValidation = errors.New("profile values failed validation")

// UpdateSlots implements ChatService.
//
// The edit is applied locally before the network call so the panel
// reflects it immediately; a failed save rolls the values back to the
// pre-edit snapshot.
func (s *advisorChatService) UpdateSlots(ctx context.Context, diff slots.Diff) error {
	if diff.Empty() {
		return nil
	}
	if s.machine == nil {
		return errors.New("no profile in this session")
	}
	sessionID := s.GetSessionID()
	if sessionID == "" {
		return errors.New("no session yet; ask a question first")
	}

	baseline := s.machine.Values()
	if errs := s.machine.Catalog().ValidateChanged(baseline, diff.Apply(baseline)); len(errs) > 0 {
		s.machine.SetLocalErrors(errs)
		return errSlotValidation
	}

	s.machine.ApplyDiff(diff)
	session, err := s.client.UpdateSlots(ctx, sessionID, diff)
	if err != nil {
		s.machine.Replace(baseline)
		return fmt.Errorf("save profile: %w", err)
	}
	if session != nil && session.Slots != nil {
		update := slots.ServerUpdate{Slots: &session.Slots}
		if session.SlotErrors != nil {
			update.SlotErrors = &session.SlotErrors
		}
		s.machine.ApplyServer(update)
	}
	s.logger.Debug("profile updated",
		slog.String("session_id", sessionID),
		slog.Int("changed", len(diff.Values)),
		slog.Int("reset", len(diff.Resets)))
	return nil
}

// ResumeSession implements ChatService.
//
// A deleted or expired session surfaces as advisor.ErrSessionNotFound;
// the caller resets to a fresh session instead of failing the command.
func (s *advisorChatService) ResumeSession(ctx context.Context, sessionID string) (*advisor.Session, []advisor.Message, error) {
	session, err := s.client.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.client.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load transcript: %w", err)
	}

	s.mu.Lock()
	s.sessionID = session.SessionID
	s.mu.Unlock()

	if s.machine != nil {
		s.machine.Replace(session.Slots)
	}

	s.logger.Info("session resumed",
		"session_id", session.SessionID,
		"messages", len(messages),
		"slots", len(session.Slots),
	)
	return session, messages, nil
}

// Close releases resources. Idempotent.
func (s *advisorChatService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.canceller != nil {
		s.canceller.Cancel()
		s.canceller = nil
	}
	return nil
}
