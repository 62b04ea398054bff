// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisorsim

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

var queryTracer = otel.Tracer("lumi.advisorsim")

// handleQuery runs the streaming query endpoint: resolve the session,
// apply the request's slot diff, plan an answer, and play it as SSE frames
// in protocol order (chunks, citations, completed) with an error frame cut
// in when the script says so.
func (s *Server) handleQuery(c *gin.Context) {
	ctx, span := queryTracer.Start(c.Request.Context(), "HandleQuery")
	defer span.End()

	if !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		fail(c, http.StatusNotAcceptable, "Set Accept: text/event-stream to query the advisor")
		return
	}

	var req advisor.QueryRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		fail(c, http.StatusBadRequest, "Question is required")
		return
	}

	session, ok := s.resolveSession(req)
	if !ok {
		fail(c, http.StatusNotFound, detailSessionNotFound)
		return
	}
	span.SetAttributes(attribute.String("session_id", session.SessionID))

	// The request's slot diff lands before the answer is planned, so the
	// composer sees this turn's values.
	if len(req.Slots) > 0 || len(req.ResetSlots) > 0 {
		session, _ = s.store.applySlotDiff(session.SessionID,
			slots.Diff{Values: req.Slots, Resets: req.ResetSlots}, s.catalog)
	}

	plan := s.planTurn(req, session)
	if len(plan.extracted) > 0 {
		session, _ = s.store.applySlotDiff(session.SessionID,
			slots.Diff{Values: plan.extracted}, s.catalog)
	}

	refs := s.attachmentRefs(req.Attachments)
	traceID := streamTraceID(ctx)

	writer, err := newEventWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fail(c, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	s.metrics.streamStarted()
	started := time.Now()
	status := streamCompleted
	defer func() {
		s.metrics.streamFinished(status, time.Since(started).Seconds())
		span.SetAttributes(
			attribute.String("stream.status", status),
			attribute.Int("stream.chunks", len(plan.chunks)),
		)
	}()

	emit := func(name string, payload any) bool {
		if err := writer.writeEvent(name, payload); err != nil {
			s.logger.Warn("stream write failed, client likely gone",
				"session_id", session.SessionID, "error", err)
			status = streamDisconnected
			return false
		}
		s.metrics.recordFrame(name)
		return true
	}

	limiter := rate.NewLimiter(s.streamLimit(), 1)
	for i, delta := range plan.chunks {
		if err := limiter.Wait(ctx); err != nil {
			status = streamDisconnected
			return
		}

		payload := wire.ChunkPayload{Delta: delta}
		if i == 0 {
			payload.SessionID = session.SessionID
			payload.TraceID = traceID
		}
		if !emit(string(wire.KindChunk), payload) {
			return
		}

		if plan.failAfter > 0 && i+1 == plan.failAfter {
			emit(string(wire.KindError), wire.ErrorPayload{
				Message: plan.failMessage,
				Code:    plan.failCode,
			})
			status = streamErrored
			span.SetStatus(codes.Error, plan.failMessage)
			s.persistTurn(session.SessionID, req, refs, nil)
			return
		}
	}

	if !emit(string(wire.KindCitations), s.citationsPayload(session, plan, refs)) {
		return
	}
	if !emit(string(wire.KindCompleted), wire.AnswerPayload{
		Answer:    &plan.text,
		SessionID: session.SessionID,
		TraceID:   traceID,
	}) {
		return
	}

	s.persistTurn(session.SessionID, req, refs, &plan)
}

// resolveSession loads the referenced session or starts a fresh one when
// the request names none.
func (s *Server) resolveSession(req advisor.QueryRequest) (advisor.Session, bool) {
	if req.SessionID != "" {
		return s.store.getSession(req.SessionID)
	}
	return s.store.createSession("", req.Language), true
}

// citationsPayload assembles the citations frame: retrieval results,
// diagnostics, and the authoritative slot state after this turn. Lists are
// sent non-nil so an emptied field reads as a deliberate replacement.
func (s *Server) citationsPayload(session advisor.Session, plan turnPlan, refs []wire.AttachmentRef) wire.AnswerPayload {
	current, ok := s.store.getSession(session.SessionID)
	if !ok {
		current = session
	}

	values := current.Slots
	if values == nil {
		values = map[string]string{}
	}
	missing := s.catalog.Missing(values)
	if missing == nil {
		missing = []string{}
	}
	prompts := map[string]string{}
	for _, name := range missing {
		prompts[name] = s.catalog.Prompt(name, current.Language)
	}

	payload := wire.AnswerPayload{
		Citations:    &plan.citations,
		Diagnostics:  &plan.diagnostics,
		Slots:        &values,
		MissingSlots: &missing,
		SlotPrompts:  &prompts,
	}
	if len(current.SlotErrors) > 0 {
		errs := current.SlotErrors
		payload.SlotErrors = &errs
	}
	if len(plan.suggestions) > 0 {
		suggestions := plan.suggestions
		payload.SlotSuggestions = &suggestions
	}
	if len(refs) > 0 {
		attached := refs
		payload.Attachments = &attached
	}
	return payload
}

// persistTurn appends this exchange to the transcript. plan nil means the
// stream errored before an answer settled; the user's question is still
// recorded, matching an advisor that accepted the turn but failed to
// answer it.
func (s *Server) persistTurn(sessionID string, req advisor.QueryRequest, refs []wire.AttachmentRef, plan *turnPlan) {
	s.store.adoptTitle(sessionID, req.Question)

	now := time.Now().UTC()
	messages := []advisor.Message{{
		ID:          "msg-" + uuid.New().String(),
		Role:        "user",
		Content:     req.Question,
		Language:    req.Language,
		CreatedAt:   now,
		Attachments: refs,
	}}
	if plan != nil {
		diagnostics := plan.diagnostics
		messages = append(messages, advisor.Message{
			ID:            "msg-" + uuid.New().String(),
			Role:          "assistant",
			Content:       plan.text,
			Language:      req.Language,
			CreatedAt:     now,
			Citations:     plan.citations,
			Diagnostics:   &diagnostics,
			LowConfidence: diagnostics.LowConfidence,
		})
	}
	s.store.appendMessages(sessionID, messages...)
}

// attachmentRefs resolves upload ids against stored receipts. Unknown ids
// are dropped with a warning; a dev server restart wipes uploads, and a
// stale reference must not sink the whole question.
func (s *Server) attachmentRefs(uploadIDs []string) []wire.AttachmentRef {
	var refs []wire.AttachmentRef
	for _, id := range uploadIDs {
		receipt, ok := s.store.getUpload(id)
		if !ok {
			s.logger.Warn("query referenced unknown upload", "upload_id", id)
			continue
		}
		refs = append(refs, wire.AttachmentRef{
			UploadID:  receipt.UploadID,
			Filename:  receipt.Filename,
			MimeType:  receipt.MimeType,
			SizeBytes: receipt.SizeBytes,
		})
	}
	return refs
}

// streamLimit converts the configured chunks-per-second into a limiter
// rate, with zero meaning unthrottled.
func (s *Server) streamLimit() rate.Limit {
	if s.cfg.StreamRate <= 0 {
		return rate.Inf
	}
	return rate.Limit(s.cfg.StreamRate)
}

// streamTraceID prefers the live span's trace id so SSE frames correlate
// with exported spans, falling back to a generated id when tracing is off.
func streamTraceID(ctx context.Context) string {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return "trace-" + uuid.New().String()
}
