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
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// =============================================================================
// Test Setup
// =============================================================================

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return New(cfg)
}

// do runs one request through the router. body may be nil, a raw []byte,
// or a value to JSON-encode.
func do(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case io.Reader:
		reader = b
	default:
		encoded, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if reader != nil && headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out),
		"decode response body: %s", w.Body.String())
	return out
}

func createSession(t *testing.T, s *Server, title, language string) advisor.Session {
	t.Helper()
	w := do(t, s, http.MethodPost, "/v1/session",
		advisor.CreateSessionRequest{Title: title, Language: language}, nil)
	require.Equal(t, http.StatusCreated, w.Code, "create session: %s", w.Body.String())
	return decodeJSON[advisor.Session](t, w)
}

type sseEvent struct {
	Event string
	Data  string
}

func parseSSEEvents(t *testing.T, body string) []sseEvent {
	t.Helper()

	var events []sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))

	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			current.Event = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			current.Data = strings.TrimPrefix(line, "data: ")
		} else if line == "" && current.Event != "" {
			events = append(events, current)
			current = sseEvent{}
		}
	}
	if current.Event != "" {
		events = append(events, current)
	}
	return events
}

func streamQuery(t *testing.T, s *Server, req advisor.QueryRequest) []sseEvent {
	t.Helper()
	w := do(t, s, http.MethodPost, "/v1/query?stream=true", req,
		map[string]string{"Accept": "text/event-stream"})
	require.Equal(t, http.StatusOK, w.Code, "query: %s", w.Body.String())
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	return parseSSEEvents(t, w.Body.String())
}

func multipartFile(t *testing.T, filename, mimeType string, content []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func uploadFile(t *testing.T, s *Server, filename, mimeType string, content []byte) advisor.UploadReceipt {
	t.Helper()
	body, contentType := multipartFile(t, filename, mimeType, content)
	w := do(t, s, http.MethodPost, "/v1/upload?purpose=rag", body,
		map[string]string{"Content-Type": contentType})
	require.Equal(t, http.StatusCreated, w.Code, "upload: %s", w.Body.String())
	return decodeJSON[advisor.UploadReceipt](t, w)
}

// =============================================================================
// Health
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Config{Version: "0.3.7"})

	w := do(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := decodeJSON[advisor.Health](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "0.3.7", health.Version)
}

// =============================================================================
// Sessions
// =============================================================================

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, Config{})

	created := createSession(t, s, "Visa questions", "en")
	assert.True(t, strings.HasPrefix(created.SessionID, "sess-"),
		"session id should carry the sess- prefix, got %q", created.SessionID)
	assert.Equal(t, "Visa questions", created.Title)
	assert.Equal(t, "en", created.Language)
	assert.Greater(t, created.RemainingTTLSeconds, int64(0))

	w := do(t, s, http.MethodGet, "/v1/session/"+created.SessionID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fetched := decodeJSON[advisor.Session](t, w)
	assert.Equal(t, created.SessionID, fetched.SessionID)

	other := createSession(t, s, "Second", "en")

	// Patching the first session should float it to the top of the list.
	pinned := true
	w = do(t, s, http.MethodPatch, "/v1/session/"+created.SessionID,
		advisor.SessionPatch{Pinned: &pinned}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	patched := decodeJSON[advisor.Session](t, w)
	assert.True(t, patched.Pinned)

	w = do(t, s, http.MethodGet, "/v1/session", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeJSON[struct {
		Sessions []advisor.Session `json:"sessions"`
	}](t, w)
	require.Len(t, listed.Sessions, 2)
	assert.Equal(t, created.SessionID, listed.Sessions[0].SessionID,
		"most recently updated session should list first")
	assert.Equal(t, other.SessionID, listed.Sessions[1].SessionID)

	w = do(t, s, http.MethodDelete, "/v1/session/"+created.SessionID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/v1/session/"+created.SessionID, nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Session not found")
}

func TestSessionEndpoints_UnknownID(t *testing.T) {
	s := newTestServer(t, Config{})

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"get", http.MethodGet, "/v1/session/sess-missing", nil},
		{"patch", http.MethodPatch, "/v1/session/sess-missing", advisor.SessionPatch{}},
		{"delete", http.MethodDelete, "/v1/session/sess-missing", nil},
		{"slots", http.MethodPatch, "/v1/session/sess-missing/slots", map[string]any{"slots": map[string]string{}}},
		{"messages", http.MethodGet, "/v1/session/sess-missing/messages", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, tc.method, tc.path, tc.body, nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Contains(t, w.Body.String(), "Session not found")
		})
	}
}

func TestUpdateSlots(t *testing.T) {
	s := newTestServer(t, Config{})
	session := createSession(t, s, "", "en")

	w := do(t, s, http.MethodPatch, "/v1/session/"+session.SessionID+"/slots",
		map[string]any{"slots": map[string]string{
			"Target Country": "Canada",
			"gpa":            "banana",
		}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeJSON[advisor.Session](t, w)

	assert.Equal(t, "Canada", updated.Slots["target_country"],
		"slot names should be normalized on write")
	_, gpaSet := updated.Slots["gpa"]
	assert.False(t, gpaSet, "invalid value must not be applied")
	assert.Equal(t, "must be a number", updated.SlotErrors["gpa"])

	// A clean follow-up update clears the stale error.
	w = do(t, s, http.MethodPatch, "/v1/session/"+session.SessionID+"/slots",
		map[string]any{"slots": map[string]string{"gpa": "3.6"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	updated = decodeJSON[advisor.Session](t, w)
	assert.Equal(t, "3.6", updated.Slots["gpa"])
	assert.Empty(t, updated.SlotErrors)

	w = do(t, s, http.MethodPatch, "/v1/session/"+session.SessionID+"/slots",
		map[string]any{"reset_slots": []string{"target_country"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	updated = decodeJSON[advisor.Session](t, w)
	_, countrySet := updated.Slots["target_country"]
	assert.False(t, countrySet, "reset should remove the value")
	assert.Equal(t, 1, updated.SlotCount)
}

// =============================================================================
// Slot catalog
// =============================================================================

func TestSlotCatalog(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodGet, "/v1/slots", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeJSON[struct {
		Slots []struct {
			Name     string `json:"name"`
			Required bool   `json:"required"`
			Prompt   string `json:"prompt"`
			PromptZh string `json:"prompt_zh"`
		} `json:"slots"`
	}](t, w)

	require.NotEmpty(t, payload.Slots)
	assert.Equal(t, "student_name", payload.Slots[0].Name,
		"catalog order is the coaching order")

	var hasRequired bool
	for _, def := range payload.Slots {
		hasRequired = hasRequired || def.Required
	}
	assert.True(t, hasRequired)

	w = do(t, s, http.MethodGet, "/v1/slots?lang=zh", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	scoped := decodeJSON[struct {
		Slots []struct {
			Name     string `json:"name"`
			Prompt   string `json:"prompt"`
			PromptZh string `json:"prompt_zh"`
		} `json:"slots"`
	}](t, w)
	require.NotEmpty(t, scoped.Slots)
	assert.Equal(t, scoped.Slots[0].PromptZh, scoped.Slots[0].Prompt,
		"zh scope should surface the zh prompt as the primary prompt")
	assert.NotEmpty(t, scoped.Slots[0].PromptZh)
}

// =============================================================================
// Uploads
// =============================================================================

func TestUpload_StoresFileWithDigest(t *testing.T) {
	s := newTestServer(t, Config{})
	content := []byte("co-op programs alternate study and paid work terms")

	receipt := uploadFile(t, s, "notes.txt", "text/plain", content)

	assert.True(t, strings.HasPrefix(receipt.UploadID, "up-"))
	assert.Equal(t, "notes.txt", receipt.Filename)
	assert.Equal(t, "text/plain", receipt.MimeType)
	assert.Equal(t, int64(len(content)), receipt.SizeBytes)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), receipt.SHA256)
	require.NotNil(t, receipt.ExpiresAt)

	w := do(t, s, http.MethodGet, "/v1/upload/"+receipt.UploadID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fetched := decodeJSON[advisor.UploadReceipt](t, w)
	assert.Equal(t, receipt.SHA256, fetched.SHA256)

	w = do(t, s, http.MethodGet, "/v1/upload/up-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Upload not found")
}

func TestUpload_Rejections(t *testing.T) {
	s := newTestServer(t, Config{})

	t.Run("empty file", func(t *testing.T) {
		body, contentType := multipartFile(t, "empty.txt", "text/plain", nil)
		w := do(t, s, http.MethodPost, "/v1/upload", body,
			map[string]string{"Content-Type": contentType})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Empty file is not allowed")
	})

	t.Run("file over limit", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), maxUploadBytes+1)
		body, contentType := multipartFile(t, "big.txt", "text/plain", big)
		w := do(t, s, http.MethodPost, "/v1/upload", body,
			map[string]string{"Content-Type": contentType})
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "File exceeds 10 MB limit")
	})

	t.Run("unsupported type", func(t *testing.T) {
		body, contentType := multipartFile(t, "tool.exe", "application/octet-stream", []byte("MZ"))
		w := do(t, s, http.MethodPost, "/v1/upload", body,
			map[string]string{"Content-Type": contentType})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Unsupported file type")
	})

	t.Run("bad purpose", func(t *testing.T) {
		body, contentType := multipartFile(t, "notes.txt", "text/plain", []byte("x"))
		w := do(t, s, http.MethodPost, "/v1/upload?purpose=archive", body,
			map[string]string{"Content-Type": contentType})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Purpose must be chat or rag")
	})

	t.Run("bad retention", func(t *testing.T) {
		body, contentType := multipartFile(t, "notes.txt", "text/plain", []byte("x"))
		w := do(t, s, http.MethodPost, "/v1/upload?retention_days=-3", body,
			map[string]string{"Content-Type": contentType})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// Ingest jobs
// =============================================================================

func TestIngestFlow_SucceedsAfterConfiguredPolls(t *testing.T) {
	s := newTestServer(t, Config{IngestPolls: 2})
	receipt := uploadFile(t, s, "handbook.md", "text/markdown", []byte(strings.Repeat("chunk ", 200)))

	w := do(t, s, http.MethodPost, "/v1/ingest-upload?async=true",
		advisor.IngestUploadRequest{UploadID: receipt.UploadID, SourceName: "handbook.md"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, "ingest should be accepted async: %s", w.Body.String())
	job := decodeJSON[advisor.IngestJob](t, w)
	assert.Equal(t, advisor.JobStatusQueued, job.Status)
	assert.True(t, strings.HasPrefix(job.JobID, "job-"))

	w = do(t, s, http.MethodGet, "/v1/ingest-jobs/"+job.JobID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	polled := decodeJSON[advisor.IngestJob](t, w)
	assert.Equal(t, advisor.JobStatusRunning, polled.Status)
	assert.Equal(t, 1, polled.Attempts)

	w = do(t, s, http.MethodGet, "/v1/ingest-jobs/"+job.JobID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	finished := decodeJSON[advisor.IngestJob](t, w)
	assert.Equal(t, advisor.JobStatusSucceeded, finished.Status)
	assert.True(t, strings.HasPrefix(finished.DocID, "doc-"))
	assert.Greater(t, finished.ChunkCount, 0)
	require.NotNil(t, finished.CompletedAt)

	// Terminal jobs stay put on further polls.
	w = do(t, s, http.MethodGet, "/v1/ingest-jobs/"+job.JobID, nil, nil)
	stable := decodeJSON[advisor.IngestJob](t, w)
	assert.Equal(t, finished.Attempts, stable.Attempts)
	assert.Equal(t, finished.DocID, stable.DocID)

	// The indexed document becomes the top citation for later answers.
	events := streamQuery(t, s, advisor.QueryRequest{Question: "What did my handbook say?"})
	var citations wire.AnswerPayload
	for _, ev := range events {
		if ev.Event == "citations" {
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &citations))
		}
	}
	require.NotNil(t, citations.Citations)
	require.NotEmpty(t, *citations.Citations)
	assert.Equal(t, finished.DocID, (*citations.Citations)[0].DocID)
	assert.Equal(t, "handbook.md", (*citations.Citations)[0].SourceName)
}

func TestIngestFlow_ScriptedFailure(t *testing.T) {
	s := newTestServer(t, Config{IngestPolls: 1, IngestFailSubstring: "corrupt"})
	receipt := uploadFile(t, s, "corrupt-scan.pdf", "application/pdf", []byte("%PDF-1.4"))

	w := do(t, s, http.MethodPost, "/v1/ingest-upload?async=true",
		advisor.IngestUploadRequest{UploadID: receipt.UploadID}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	job := decodeJSON[advisor.IngestJob](t, w)

	w = do(t, s, http.MethodGet, "/v1/ingest-jobs/"+job.JobID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	failed := decodeJSON[advisor.IngestJob](t, w)
	assert.Equal(t, advisor.JobStatusFailed, failed.Status)
	assert.Equal(t, "Document could not be parsed", failed.Error)
}

func TestIngest_UnknownUpload(t *testing.T) {
	s := newTestServer(t, Config{})
	w := do(t, s, http.MethodPost, "/v1/ingest-upload?async=true",
		advisor.IngestUploadRequest{UploadID: "up-missing"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Upload not found")
}

// =============================================================================
// Streaming query
// =============================================================================

func TestQuery_RequiresEventStreamAccept(t *testing.T) {
	s := newTestServer(t, Config{})
	w := do(t, s, http.MethodPost, "/v1/query?stream=true",
		advisor.QueryRequest{Question: "hello"}, nil)
	assert.Equal(t, http.StatusNotAcceptable, w.Code)
	assert.Contains(t, w.Body.String(), "text/event-stream")
}

func TestQuery_Validation(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodPost, "/v1/query?stream=true",
		advisor.QueryRequest{Question: "   "},
		map[string]string{"Accept": "text/event-stream"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Question is required")

	w = do(t, s, http.MethodPost, "/v1/query?stream=true",
		advisor.QueryRequest{Question: "hello", SessionID: "sess-missing"},
		map[string]string{"Accept": "text/event-stream"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Session not found")
}

func TestQuery_EchoStream(t *testing.T) {
	s := newTestServer(t, Config{})

	events := streamQuery(t, s, advisor.QueryRequest{
		Question: "Which universities in Canada have strong co-op programs?",
		Language: "en",
		KCite:    3,
	})
	require.GreaterOrEqual(t, len(events), 3, "expect chunks, citations, completed")

	assert.Equal(t, "chunk", events[0].Event)
	assert.Equal(t, "citations", events[len(events)-2].Event)
	assert.Equal(t, "completed", events[len(events)-1].Event)

	var first wire.ChunkPayload
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &first))
	assert.True(t, strings.HasPrefix(first.SessionID, "sess-"),
		"first chunk carries the session id, got %q", first.SessionID)
	assert.NotEmpty(t, first.TraceID)

	var streamed strings.Builder
	for _, ev := range events {
		if ev.Event != "chunk" {
			continue
		}
		var chunk wire.ChunkPayload
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &chunk))
		streamed.WriteString(chunk.Delta)
	}

	var completed wire.AnswerPayload
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].Data), &completed))
	require.NotNil(t, completed.Answer)
	assert.Equal(t, *completed.Answer, streamed.String(),
		"concatenated deltas must reproduce the final answer")
	assert.Equal(t, first.SessionID, completed.SessionID)

	var citations wire.AnswerPayload
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2].Data), &citations))
	require.NotNil(t, citations.Citations)
	assert.Len(t, *citations.Citations, 3, "k_cite bounds the citation count")
	require.NotNil(t, citations.Diagnostics)
	assert.Greater(t, citations.Diagnostics.EndToEndMs, 0.0)

	// The turn lands in the transcript.
	w := do(t, s, http.MethodGet, "/v1/session/"+first.SessionID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	transcript := decodeJSON[struct {
		SessionID string            `json:"session_id"`
		Messages  []advisor.Message `json:"messages"`
	}](t, w)
	require.Len(t, transcript.Messages, 2)
	assert.Equal(t, "user", transcript.Messages[0].Role)
	assert.Equal(t, "assistant", transcript.Messages[1].Role)
	assert.Equal(t, streamed.String(), transcript.Messages[1].Content)
	assert.Len(t, transcript.Messages[1].Citations, 3)

	// And the session got a derived title.
	w = do(t, s, http.MethodGet, "/v1/session/"+first.SessionID, nil, nil)
	session := decodeJSON[advisor.Session](t, w)
	assert.NotEmpty(t, session.Title)
}

func TestQuery_SecondTurnReusesSession(t *testing.T) {
	s := newTestServer(t, Config{})

	events := streamQuery(t, s, advisor.QueryRequest{Question: "First question"})
	var first wire.ChunkPayload
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &first))

	streamQuery(t, s, advisor.QueryRequest{
		Question:  "Second question",
		SessionID: first.SessionID,
	})

	w := do(t, s, http.MethodGet, "/v1/session/"+first.SessionID+"/messages", nil, nil)
	transcript := decodeJSON[struct {
		Messages []advisor.Message `json:"messages"`
	}](t, w)
	assert.Len(t, transcript.Messages, 4, "two turns, two messages each")
}

func TestQuery_SlotCoaching(t *testing.T) {
	s := newTestServer(t, Config{})

	events := streamQuery(t, s, advisor.QueryRequest{
		Question: "Plan my applications",
		Language: "en",
		Slots: map[string]string{
			"target_country": "Canada",
			"gpa":            "eleven",
		},
	})

	var payload wire.AnswerPayload
	for _, ev := range events {
		if ev.Event == "citations" {
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
		}
	}

	require.NotNil(t, payload.Slots)
	assert.Equal(t, "Canada", (*payload.Slots)["target_country"])
	_, gpaSet := (*payload.Slots)["gpa"]
	assert.False(t, gpaSet, "invalid slot value must not be adopted")

	require.NotNil(t, payload.SlotErrors)
	assert.Equal(t, "must be a number", (*payload.SlotErrors)["gpa"])

	require.NotNil(t, payload.MissingSlots)
	assert.Contains(t, *payload.MissingSlots, "student_name")
	assert.NotContains(t, *payload.MissingSlots, "target_country")

	require.NotNil(t, payload.SlotPrompts)
	assert.NotEmpty(t, (*payload.SlotPrompts)["student_name"])
}

func TestQuery_ScriptedAnswerAndMidStreamFailure(t *testing.T) {
	s := newTestServer(t, Config{
		ChunkSize: 10,
		Script: []ScriptedAnswer{
			{
				Match:           "visa",
				Text:            "Processing a study permit normally takes eight to twelve weeks.",
				FailAfterChunks: 2,
				FailCode:        "retrieval_unavailable",
				FailMessage:     "retrieval backend down",
			},
			{
				Match: "tuition",
				Text:  "Average tuition lands near twenty thousand per year.",
				Slots: map[string]string{"priority_concern": "budget"},
			},
		},
	})

	t.Run("mid-stream error event", func(t *testing.T) {
		events := streamQuery(t, s, advisor.QueryRequest{Question: "How long do visa approvals take?"})
		require.Len(t, events, 3, "two chunks then the error frame")
		assert.Equal(t, "chunk", events[0].Event)
		assert.Equal(t, "chunk", events[1].Event)
		assert.Equal(t, "error", events[2].Event)

		var errPayload wire.ErrorPayload
		require.NoError(t, json.Unmarshal([]byte(events[2].Data), &errPayload))
		assert.Equal(t, "retrieval_unavailable", errPayload.Code)
		assert.Equal(t, "retrieval backend down", errPayload.Message)

		var first wire.ChunkPayload
		require.NoError(t, json.Unmarshal([]byte(events[0].Data), &first))
		w := do(t, s, http.MethodGet, "/v1/session/"+first.SessionID+"/messages", nil, nil)
		transcript := decodeJSON[struct {
			Messages []advisor.Message `json:"messages"`
		}](t, w)
		require.Len(t, transcript.Messages, 1, "failed turn records the question only")
		assert.Equal(t, "user", transcript.Messages[0].Role)
	})

	t.Run("script can extract slots", func(t *testing.T) {
		events := streamQuery(t, s, advisor.QueryRequest{Question: "What about tuition costs?"})

		var payload wire.AnswerPayload
		for _, ev := range events {
			if ev.Event == "citations" {
				require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
			}
		}
		require.NotNil(t, payload.Slots)
		assert.Equal(t, "budget", (*payload.Slots)["priority_concern"])
	})
}

func TestQuery_AttachmentsEchoedBack(t *testing.T) {
	s := newTestServer(t, Config{})
	receipt := uploadFile(t, s, "transcript.pdf", "application/pdf", []byte("%PDF-1.4 grades"))

	events := streamQuery(t, s, advisor.QueryRequest{
		Question:    "Review my transcript",
		Attachments: []string{receipt.UploadID, "up-unknown"},
	})

	var payload wire.AnswerPayload
	for _, ev := range events {
		if ev.Event == "citations" {
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
		}
	}
	require.NotNil(t, payload.Attachments)
	require.Len(t, *payload.Attachments, 1, "unknown upload ids are dropped")
	assert.Equal(t, receipt.UploadID, (*payload.Attachments)[0].UploadID)
	assert.Equal(t, "transcript.pdf", (*payload.Attachments)[0].Filename)
}

// =============================================================================
// Metrics
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Config{})
	streamQuery(t, s, advisor.QueryRequest{Question: "hello"})

	w := do(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `lumi_advisorsim_streams_total{status="completed"} 1`)
	assert.Contains(t, body, `lumi_advisorsim_frames_total{event="completed"} 1`)
	assert.Contains(t, body, `lumi_advisorsim_frames_total{event="chunk"}`)
}
