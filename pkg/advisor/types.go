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
	"time"

	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Session is the advisor's view of one conversation: its identity, display
// metadata, and the structured slot values collected so far.
type Session struct {
	SessionID           string            `json:"session_id"`
	Title               string            `json:"title,omitempty"`
	Language            string            `json:"language,omitempty"`
	Slots               map[string]string `json:"slots,omitempty"`
	SlotErrors          map[string]string `json:"slot_errors,omitempty"`
	SlotCount           int               `json:"slot_count,omitempty"`
	Pinned              bool              `json:"pinned,omitempty"`
	Archived            bool              `json:"archived,omitempty"`
	RemainingTTLSeconds int64             `json:"remaining_ttl_seconds,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// CreateSessionRequest starts a new conversation. Both fields are optional;
// the advisor derives a title from the first question when none is given.
type CreateSessionRequest struct {
	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"`
}

// SessionPatch is a sparse metadata update. Nil fields are left unchanged
// on the server.
type SessionPatch struct {
	Title    *string `json:"title,omitempty"`
	Pinned   *bool   `json:"pinned,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// Message is one stored transcript entry. Assistant messages carry the
// citations and diagnostics that accompanied the answer.
type Message struct {
	ID            string               `json:"id"`
	Role          string               `json:"role"`
	Content       string               `json:"content"`
	Language      string               `json:"language,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	Citations     []wire.Citation      `json:"citations,omitempty"`
	Diagnostics   *wire.Diagnostics    `json:"diagnostics,omitempty"`
	LowConfidence bool                 `json:"low_confidence,omitempty"`
	Attachments   []wire.AttachmentRef `json:"attachments,omitempty"`
}

// QueryRequest is the body of the streaming query endpoint. Attachments
// lists upload ids; only Ready uploads belong here.
type QueryRequest struct {
	Question       string            `json:"question"`
	Language       string            `json:"language,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	Slots          map[string]string `json:"slots,omitempty"`
	ResetSlots     []string          `json:"reset_slots,omitempty"`
	TopK           int               `json:"top_k,omitempty"`
	KCite          int               `json:"k_cite,omitempty"`
	Attachments    []string          `json:"attachments,omitempty"`
	ExplainLikeNew bool              `json:"explain_like_new,omitempty"`
}

// UploadReceipt is the advisor's record of a stored file. SHA256 lets the
// client verify the server received exactly the bytes it sent.
type UploadReceipt struct {
	UploadID      string     `json:"upload_id"`
	Filename      string     `json:"filename"`
	MimeType      string     `json:"mime_type"`
	SizeBytes     int64      `json:"size_bytes"`
	SHA256        string     `json:"sha256"`
	StoredAt      time.Time  `json:"stored_at"`
	DownloadURL   string     `json:"download_url,omitempty"`
	RetentionDays int        `json:"retention_days,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Ingest job lifecycle statuses.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusRetrying  = "retrying"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// IngestJob tracks an async ingestion of an upload into the retrieval
// index.
type IngestJob struct {
	JobID       string     `json:"job_id"`
	JobType     string     `json:"job_type,omitempty"`
	Status      string     `json:"status"`
	UploadID    string     `json:"upload_id,omitempty"`
	QueuedAt    time.Time  `json:"queued_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Error       string     `json:"error,omitempty"`
	DocID       string     `json:"doc_id,omitempty"`
	ChunkCount  int        `json:"chunk_count,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j IngestJob) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// IngestUploadRequest asks the advisor to index a stored upload.
type IngestUploadRequest struct {
	UploadID   string `json:"upload_id"`
	SourceName string `json:"source_name,omitempty"`
	DocID      string `json:"doc_id,omitempty"`
	Language   string `json:"language,omitempty"`
}

// Health is the advisor's liveness report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
