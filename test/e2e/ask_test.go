// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package e2e

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/answer"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/services/advisorsim"
)

func TestAskFlow_CompletesWithCitations(t *testing.T) {
	client := startAdvisor(t, advisorsim.Config{})

	var deltas []string
	outcome := ask(t, client, advisor.QueryRequest{
		Question: "Which universities in Canada take autumn applicants?",
		Language: "en",
		KCite:    3,
	}, answer.Config{
		OnDelta: func(delta string) { deltas = append(deltas, delta) },
	})

	require.Equal(t, answer.StatusCompleted, outcome.Status)
	require.NoError(t, outcome.Err)

	got := outcome.Answer
	assert.NotEmpty(t, got.Text)
	assert.Equal(t, got.Text, strings.Join(deltas, ""),
		"rendered deltas must add up to the settled answer")
	assert.Len(t, got.Citations, 3)
	require.NotNil(t, got.Diagnostics)
	assert.True(t, strings.HasPrefix(got.SessionID, "sess-"),
		"server-adopted session id expected, got %q", got.SessionID)

	// A follow-up on the adopted session lands in the same transcript.
	second := ask(t, client, advisor.QueryRequest{
		Question:  "And what about scholarships?",
		SessionID: got.SessionID,
	}, answer.Config{})
	require.Equal(t, answer.StatusCompleted, second.Status)
	assert.Equal(t, got.SessionID, second.Answer.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	messages, err := client.ListMessages(ctx, got.SessionID)
	require.NoError(t, err)
	assert.Len(t, messages, 4, "two turns, a question and an answer each")

	session, err := client.GetSession(ctx, got.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Title, "first question should become the title")
}

func TestAskFlow_SlotCoachingLoop(t *testing.T) {
	client := startAdvisor(t, advisorsim.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	session, err := client.CreateSession(ctx, advisor.CreateSessionRequest{Language: "en"})
	require.NoError(t, err)

	outcome := ask(t, client, advisor.QueryRequest{
		Question:  "Help me plan my applications",
		SessionID: session.SessionID,
		Slots:     map[string]string{"student_name": "Amara"},
	}, answer.Config{})
	require.Equal(t, answer.StatusCompleted, outcome.Status)

	missing := outcome.Answer.MissingSlots
	assert.Contains(t, missing, "target_country")
	assert.NotContains(t, missing, "student_name",
		"a slot provided with the question is no longer missing")
	assert.NotEmpty(t, outcome.Answer.SlotPrompts["target_country"],
		"each missing slot should come with a coaching prompt")

	// Filling the slot out of band shrinks the gap on the next turn.
	updated, err := client.UpdateSlots(ctx, session.SessionID, slots.Diff{
		Values: map[string]string{"target_country": "Canada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Canada", updated.Slots["target_country"])

	next := ask(t, client, advisor.QueryRequest{
		Question:  "So where should I apply?",
		SessionID: session.SessionID,
	}, answer.Config{})
	require.Equal(t, answer.StatusCompleted, next.Status)
	assert.NotContains(t, next.Answer.MissingSlots, "target_country")
	assert.Contains(t, next.Answer.Text, "For Canada")

	catalog, err := client.SlotCatalog(ctx, "en")
	require.NoError(t, err)
	assert.NotZero(t, catalog.Len())
	assert.NotEmpty(t, catalog.Prompt("target_country", "en"))
}

func TestAskFlow_StaleSession(t *testing.T) {
	client := startAdvisor(t, advisorsim.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := client.GetSession(ctx, "sess-deleted-elsewhere")
	require.ErrorIs(t, err, advisor.ErrSessionNotFound)

	// The query endpoint reports the same condition as a plain API error;
	// the aggregator never even starts.
	_, err = client.Query(ctx, advisor.QueryRequest{
		Question:  "hello",
		SessionID: "sess-deleted-elsewhere",
	})
	var apiErr *advisor.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestVerifyServer_MinimumVersion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	t.Run("current server passes", func(t *testing.T) {
		client := startAdvisor(t, advisorsim.Config{})
		health, err := client.VerifyServer(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ok", health.Status)
	})

	t.Run("outdated server is rejected", func(t *testing.T) {
		client := startAdvisor(t, advisorsim.Config{Version: "0.0.1"})
		health, err := client.VerifyServer(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "older than minimum supported")
		require.NotNil(t, health, "health payload still comes back for display")
		assert.Equal(t, "0.0.1", health.Version)
	})
}
