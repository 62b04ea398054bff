// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attach manages the client-side attachment lifecycle: preflight
// validation, bounded-concurrency uploads, ingest tracking, and the
// ready-set that chat requests reference.
//
// Each file moves through Queued -> Uploading -> Ready, with an Indexing
// stage in between when the upload also enters the retrieval index. Only
// Ready items are eligible to ride along on an outgoing question.
package attach

import (
	"time"
)

// Status is an attachment's position in the upload lifecycle.
type Status string

const (
	// StatusQueued means the item is validated and waiting for a
	// concurrency slot.
	StatusQueued Status = "queued"

	// StatusUploading means bytes are moving to the advisor.
	StatusUploading Status = "uploading"

	// StatusIndexing means the upload succeeded and an ingest job is
	// running server-side.
	StatusIndexing Status = "indexing"

	// StatusReady means the attachment can be referenced by a chat
	// message.
	StatusReady Status = "ready"

	// StatusError means the item failed and needs a retry or removal.
	StatusError Status = "error"
)

// InFlight reports whether the item currently occupies a concurrency slot.
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusIndexing
}

// Terminal reports whether the item has finished processing.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// PendingAttachment is one tracked file. ClientID is generated locally and
// stays stable across retries and restarts; UploadID arrives with the
// server receipt and is reused on retry so stored bytes are never sent
// twice.
type PendingAttachment struct {
	ClientID      string    `json:"client_id"`
	Filename      string    `json:"filename"`
	Path          string    `json:"path"`
	MimeType      string    `json:"mime_type"`
	SizeBytes     int64     `json:"size_bytes"`
	SHA256        string    `json:"sha256"`
	Purpose       string    `json:"purpose"`
	RetentionDays int       `json:"retention_days,omitempty"`
	Ingest        bool      `json:"ingest,omitempty"`
	Language      string    `json:"language,omitempty"`
	UploadID      string    `json:"upload_id,omitempty"`
	DownloadURL   string    `json:"download_url,omitempty"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	QueuedAt      time.Time `json:"queued_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// QueueOptions control how a queued file is uploaded and indexed.
type QueueOptions struct {
	// Purpose is "chat" (default) or "rag".
	Purpose string

	// RetentionDays overrides the server default when > 0.
	RetentionDays int

	// Ingest requests a retrieval-index ingest job after the upload
	// succeeds (the knowledge-base flow).
	Ingest bool

	// Language hints the ingest language ("zh", "en", or "" for auto).
	Language string
}
