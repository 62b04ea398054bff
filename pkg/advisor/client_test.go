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
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// mockHTTPClient records every request and replays canned responses in
// order, so tests can assert on both what was sent and how the client
// handled what came back.
type mockHTTPClient struct {
	responses []*http.Response
	err       error
	requests  []*http.Request
	bodies    []string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return jsonResponse(http.StatusOK, "{}"), nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func jsonResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(mock *mockHTTPClient) *Client {
	return NewClient(Config{
		BaseURL:    "http://advisor.test",
		APIKey:     "test-key",
		HTTPClient: mock,
	})
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestClient_CreateSession_SendsBodyAndAuth(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"session_id":"s-1","language":"zh"}`),
	}}
	client := newTestClient(mock)

	session, err := client.CreateSession(context.Background(), CreateSessionRequest{
		Title:    "Canada plans",
		Language: "zh",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.SessionID != "s-1" {
		t.Errorf("expected session s-1, got %q", session.SessionID)
	}

	req := mock.requests[0]
	if req.Method != http.MethodPost || req.URL.Path != "/v1/session" {
		t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", got)
	}
	if !strings.Contains(mock.bodies[0], `"title":"Canada plans"`) {
		t.Errorf("expected title in body, got %s", mock.bodies[0])
	}
}

func TestClient_GetSession_MapsNotFound(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusNotFound, `{"detail":"Session not found"}`),
	}}
	client := newTestClient(mock)

	_, err := client.GetSession(context.Background(), "gone")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestClient_ListSessions_UnwrapsEnvelope(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK,
			`{"sessions":[{"session_id":"s-1"},{"session_id":"s-2"}]}`),
	}}
	client := newTestClient(mock)

	sessions, err := client.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 || sessions[1].SessionID != "s-2" {
		t.Errorf("unexpected sessions: %+v", sessions)
	}
}

func TestClient_UpdateSlots_SendsSparseDiff(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"session_id":"s-1","slots":{"gpa":"3.8"}}`),
	}}
	client := newTestClient(mock)

	diff := slots.Diff{
		Values: map[string]string{"gpa": "3.8"},
		Resets: []string{"budget"},
	}
	session, err := client.UpdateSlots(context.Background(), "s-1", diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Slots["gpa"] != "3.8" {
		t.Errorf("expected updated slots echoed, got %v", session.Slots)
	}

	req := mock.requests[0]
	if req.Method != http.MethodPatch || req.URL.Path != "/v1/session/s-1/slots" {
		t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
	}
	body := mock.bodies[0]
	if !strings.Contains(body, `"slots":{"gpa":"3.8"}`) {
		t.Errorf("expected value diff in body, got %s", body)
	}
	if !strings.Contains(body, `"reset_slots":["budget"]`) {
		t.Errorf("expected reset list in body, got %s", body)
	}
}

func TestClient_PatchSessionOptimistic_RollsBackOnFailure(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusInternalServerError, `{"detail":"boom"}`),
	}}
	client := newTestClient(mock)

	local := Session{SessionID: "s-1", Title: "Old title", Pinned: false}
	pinned := true
	_, err := client.PatchSessionOptimistic(context.Background(), &local, SessionPatch{Pinned: &pinned})
	if err == nil {
		t.Fatal("expected patch failure")
	}
	if local.Pinned {
		t.Error("expected optimistic pin to roll back on failure")
	}
	if local.Title != "Old title" {
		t.Errorf("expected title untouched, got %q", local.Title)
	}
}

func TestClient_PatchSessionOptimistic_AdoptsServerState(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"session_id":"s-1","title":"Renamed","pinned":true}`),
	}}
	client := newTestClient(mock)

	local := Session{SessionID: "s-1", Title: "Old title"}
	title := "Renamed"
	updated, err := client.PatchSessionOptimistic(context.Background(), &local, SessionPatch{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local.Title != "Renamed" || updated.Title != "Renamed" {
		t.Errorf("expected server state adopted, got local=%q updated=%q",
			local.Title, updated.Title)
	}
}

func TestClient_SlotCatalog_BuildsCatalog(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK,
			`{"slots":[{"name":"student_name","required":true},{"name":"gpa","value_type":"number"}]}`),
	}}
	client := newTestClient(mock)

	catalog, err := client.SlotCatalog(context.Background(), "zh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if catalog.Len() != 2 {
		t.Errorf("expected 2 definitions, got %d", catalog.Len())
	}
	if got := mock.requests[0].URL.RawQuery; got != "lang=zh" {
		t.Errorf("expected language scope, got query %q", got)
	}
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestClient_Query_SetsStreamingHeaders(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK, "event: completed\ndata: {}\n\n"),
	}}
	client := newTestClient(mock)

	stream, err := client.Query(context.Background(), QueryRequest{
		Question:  "How do I apply?",
		SessionID: "s-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	req := mock.requests[0]
	if req.URL.Path != "/v1/query" || req.URL.Query().Get("stream") != "true" {
		t.Errorf("unexpected query target: %s", req.URL.String())
	}
	if got := req.Header.Get("Accept"); got != "text/event-stream" {
		t.Errorf("expected event-stream accept header, got %q", got)
	}

	raw, _ := io.ReadAll(stream)
	if !strings.Contains(string(raw), "event: completed") {
		t.Errorf("expected raw stream passthrough, got %q", raw)
	}
}

func TestClient_Query_NonSuccessIsTypedError(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusTooManyRequests, `{"detail":"rate limited"}`),
	}}
	client := newTestClient(mock)

	_, err := client.Query(context.Background(), QueryRequest{Question: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "rate limited" {
		t.Errorf("unexpected error payload: %+v", apiErr)
	}
}

func TestClient_Query_WrapsTransportFailure(t *testing.T) {
	mock := &mockHTTPClient{err: errors.New("connection refused")}
	client := newTestClient(mock)

	_, err := client.Query(context.Background(), QueryRequest{Question: "hi"})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

// =============================================================================
// UPLOAD TESTS
// =============================================================================

func TestClient_Upload_BuildsMultipartRequest(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK,
			`{"upload_id":"u-1","filename":"notes.md","mime_type":"text/markdown","size_bytes":5,"sha256":"abc"}`),
	}}
	client := newTestClient(mock)

	receipt, err := client.Upload(context.Background(), UploadRequest{
		Filename:      "notes.md",
		MimeType:      "text/markdown",
		Purpose:       "rag",
		RetentionDays: 7,
		Content:       strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.UploadID != "u-1" {
		t.Errorf("expected upload id u-1, got %q", receipt.UploadID)
	}

	req := mock.requests[0]
	query := req.URL.Query()
	if query.Get("purpose") != "rag" || query.Get("retention_days") != "7" {
		t.Errorf("unexpected query: %s", req.URL.RawQuery)
	}

	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("expected multipart content type, got %q (%v)",
			req.Header.Get("Content-Type"), err)
	}

	reader := multipart.NewReader(strings.NewReader(mock.bodies[0]), params["boundary"])
	part, err := reader.NextPart()
	if err != nil {
		t.Fatalf("failed to read part: %v", err)
	}
	if part.FormName() != "file" || part.FileName() != "notes.md" {
		t.Errorf("unexpected part: name=%q filename=%q", part.FormName(), part.FileName())
	}
	if got := part.Header.Get("Content-Type"); got != "text/markdown" {
		t.Errorf("expected part mime type, got %q", got)
	}
	content, _ := io.ReadAll(part)
	if string(content) != "hello" {
		t.Errorf("unexpected part content: %q", content)
	}
}

func TestUploadReceipt_VerifySHA256(t *testing.T) {
	receipt := UploadReceipt{UploadID: "u-1", SHA256: "ABCDEF"}

	if err := receipt.VerifySHA256("abcdef"); err != nil {
		t.Errorf("expected case-insensitive match, got %v", err)
	}
	if err := receipt.VerifySHA256("012345"); err == nil {
		t.Error("expected mismatch error")
	}
}

func TestClient_IngestUpload_EnqueuesJob(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusAccepted,
			`{"job_id":"j-1","job_type":"ingest_upload","status":"queued","attempts":0,"max_attempts":3}`),
	}}
	client := newTestClient(mock)

	job, err := client.IngestUpload(context.Background(), IngestUploadRequest{UploadID: "u-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.JobID != "j-1" || job.Status != JobStatusQueued {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.Terminal() {
		t.Error("queued job should not be terminal")
	}

	if got := mock.requests[0].URL.Query().Get("async"); got != "true" {
		t.Errorf("expected async enqueue, got query %q", mock.requests[0].URL.RawQuery)
	}
}

// =============================================================================
// HEALTH TESTS
// =============================================================================

func TestClient_VerifyServer_AcceptsSupportedVersion(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"status":"ok","version":"0.2.1"}`),
	}}
	client := newTestClient(mock)

	health, err := client.VerifyServer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if health.Version != "0.2.1" {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestClient_VerifyServer_RejectsOutdatedVersion(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"status":"ok","version":"0.0.9"}`),
	}}
	client := newTestClient(mock)

	_, err := client.VerifyServer(context.Background())
	if err == nil {
		t.Fatal("expected version gate to reject 0.0.9")
	}
	if !strings.Contains(err.Error(), "older than minimum supported") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClient_VerifyServer_ToleratesUnparseableVersion(t *testing.T) {
	mock := &mockHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"status":"ok","version":"dev"}`),
	}}
	client := newTestClient(mock)

	if _, err := client.VerifyServer(context.Background()); err != nil {
		t.Errorf("expected dev version to pass with a warning, got %v", err)
	}
}
