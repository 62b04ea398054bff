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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
)

// detailSessionNotFound is the exact phrase the client maps to
// ErrSessionNotFound.
const detailSessionNotFound = "Session not found"

func (s *Server) handleCreateSession(c *gin.Context) {
	var req advisor.CreateSessionRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	session := s.store.createSession(req.Title, req.Language)
	s.logger.Debug("session created", "session_id", session.SessionID, "language", session.Language)
	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.store.listSessions()})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, ok := s.store.getSession(c.Param("sessionId"))
	if !ok {
		fail(c, http.StatusNotFound, detailSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handlePatchSession(c *gin.Context) {
	var patch advisor.SessionPatch
	if err := c.BindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, ok := s.store.patchSession(c.Param("sessionId"), patch)
	if !ok {
		fail(c, http.StatusNotFound, detailSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("sessionId")
	if !s.store.deleteSession(id) {
		fail(c, http.StatusNotFound, detailSessionNotFound)
		return
	}
	s.logger.Debug("session deleted", "session_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
}

func (s *Server) handleUpdateSlots(c *gin.Context) {
	var diff slots.Diff
	if err := c.BindJSON(&diff); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, ok := s.store.applySlotDiff(c.Param("sessionId"), diff, s.catalog)
	if !ok {
		fail(c, http.StatusNotFound, detailSessionNotFound)
		return
	}

	s.logger.Debug("session slots updated",
		"session_id", session.SessionID,
		"changed", len(diff.Values),
		"resets", len(diff.Resets),
		"rejected", len(session.SlotErrors),
	)
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleListMessages(c *gin.Context) {
	id := c.Param("sessionId")
	messages, ok := s.store.messages(id)
	if !ok {
		fail(c, http.StatusNotFound, detailSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": messages})
}

// handleSlotCatalog serves the slot definitions, with prompts swapped to
// the requested language. The zh prompt stays present either way, so
// clients that do their own language resolution lose nothing.
func (s *Server) handleSlotCatalog(c *gin.Context) {
	lang := strings.ToLower(c.Query("lang"))

	defs := s.catalog.Definitions()
	if strings.HasPrefix(lang, "zh") {
		for i := range defs {
			if defs[i].PromptZh != "" {
				defs[i].Prompt = defs[i].PromptZh
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"slots": defs})
}
