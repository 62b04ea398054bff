// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
)

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession starts a new conversation on the advisor.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	body, err := marshalBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/session", nil, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var session Session
	if err := c.doJSON(httpReq, &session); err != nil {
		return nil, err
	}

	c.logger.Debug("session created",
		"session_id", session.SessionID,
		"language", session.Language,
	)
	return &session, nil
}

// GetSession fetches one session. A 404 maps to ErrSessionNotFound so
// callers can reset local selection instead of reporting a raw failure.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/session/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := c.doJSON(httpReq, &session); err != nil {
		return nil, sessionError(sessionID, err)
	}
	return &session, nil
}

// ListSessions returns all of the caller's sessions, most recently updated
// first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/session", nil, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.doJSON(httpReq, &payload); err != nil {
		return nil, err
	}
	return payload.Sessions, nil
}

// PatchSession applies a sparse metadata update (title, pinned, archived).
func (c *Client) PatchSession(ctx context.Context, sessionID string, patch SessionPatch) (*Session, error) {
	body, err := marshalBody(patch)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPatch, "/v1/session/"+url.PathEscape(sessionID), nil, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var session Session
	if err := c.doJSON(httpReq, &session); err != nil {
		return nil, sessionError(sessionID, err)
	}
	return &session, nil
}

// PatchSessionOptimistic applies the patch to the local session copy
// immediately, then confirms it with the advisor. On failure the local
// copy is restored from the pre-patch snapshot, so callers can render the
// speculative state without leaking it past a rejected call.
func (c *Client) PatchSessionOptimistic(ctx context.Context, local *Session, patch SessionPatch) (*Session, error) {
	snapshot := *local
	applyPatch(local, patch)

	updated, err := c.PatchSession(ctx, local.SessionID, patch)
	if err != nil {
		*local = snapshot
		return nil, err
	}

	*local = *updated
	return updated, nil
}

// DeleteSession removes a session and its transcript.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	httpReq, err := c.newRequest(ctx, http.MethodDelete, "/v1/session/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return err
	}
	if err := c.doJSON(httpReq, nil); err != nil {
		return sessionError(sessionID, err)
	}
	return nil
}

// UpdateSlots sends a sparse slot diff: changed values plus the names of
// slots to reset. The advisor answers with the updated session state.
func (c *Client) UpdateSlots(ctx context.Context, sessionID string, diff slots.Diff) (*Session, error) {
	body, err := marshalBody(diff)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPatch, "/v1/session/"+url.PathEscape(sessionID)+"/slots", nil, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var session Session
	if err := c.doJSON(httpReq, &session); err != nil {
		return nil, sessionError(sessionID, err)
	}

	c.logger.Debug("session slots updated",
		"session_id", sessionID,
		"changed", len(diff.Values),
		"resets", len(diff.Resets),
	)
	return &session, nil
}

// ListMessages reloads the transcript for a session.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/session/"+url.PathEscape(sessionID)+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		SessionID string    `json:"session_id"`
		Messages  []Message `json:"messages"`
	}
	if err := c.doJSON(httpReq, &payload); err != nil {
		return nil, sessionError(sessionID, err)
	}
	return payload.Messages, nil
}

// SlotCatalog fetches the advisor's slot definitions, optionally scoped to
// a language, and returns them as a ready catalog.
func (c *Client) SlotCatalog(ctx context.Context, language string) (*slots.Catalog, error) {
	var query url.Values
	if language != "" {
		query = url.Values{"lang": []string{language}}
	}

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/slots", query, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Slots []slots.SlotDefinition `json:"slots"`
	}
	if err := c.doJSON(httpReq, &payload); err != nil {
		return nil, err
	}
	return slots.NewCatalog(payload.Slots), nil
}

// sessionError converts a 404 from any session endpoint into
// ErrSessionNotFound, keeping the session id in the message.
func sessionError(sessionID string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
	}
	return err
}

func applyPatch(session *Session, patch SessionPatch) {
	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.Pinned != nil {
		session.Pinned = *patch.Pinned
	}
	if patch.Archived != nil {
		session.Archived = *patch.Archived
	}
}
