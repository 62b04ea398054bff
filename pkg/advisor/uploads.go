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
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// =============================================================================
// UPLOADS AND INGEST JOBS
// =============================================================================

// UploadRequest carries one file to the advisor.
type UploadRequest struct {
	// Filename is the display name stored with the upload.
	Filename string

	// MimeType labels the file part. Callers run preflight detection
	// before getting here, so this is always populated.
	MimeType string

	// Purpose is "chat" (attach to a question) or "rag" (eligible for
	// knowledge-base ingestion). Defaults to "chat".
	Purpose string

	// RetentionDays overrides the server default when > 0.
	RetentionDays int

	// Content provides the file bytes.
	Content io.Reader
}

// Upload stores a file on the advisor and returns its receipt.
//
// # Description
//
// Sends a multipart POST with the file as the single "file" part; purpose
// and retention travel as query parameters. The receipt's SHA256 lets the
// caller verify the bytes landed intact.
//
// # Limitations
//
// The multipart body is buffered in memory. Preflight caps files well
// below anything that would make that a problem.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadReceipt, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = "chat"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	header.Set("Content-Type", req.MimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return nil, fmt.Errorf("copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	query := url.Values{"purpose": []string{purpose}}
	if req.RetentionDays > 0 {
		query.Set("retention_days", strconv.Itoa(req.RetentionDays))
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/upload", query, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var receipt UploadReceipt
	if err := c.doJSON(httpReq, &receipt); err != nil {
		return nil, err
	}

	c.logger.Debug("upload stored",
		"upload_id", receipt.UploadID,
		"filename", receipt.Filename,
		"size_bytes", receipt.SizeBytes,
		"purpose", purpose,
	)
	return &receipt, nil
}

// GetUpload fetches the stored receipt for an upload id.
func (c *Client) GetUpload(ctx context.Context, uploadID string) (*UploadReceipt, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/upload/"+url.PathEscape(uploadID), nil, nil)
	if err != nil {
		return nil, err
	}

	var receipt UploadReceipt
	if err := c.doJSON(httpReq, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// IngestUpload asks the advisor to index a stored upload into the
// retrieval corpus. The work runs asynchronously; the returned job starts
// in the queued state and is polled via GetIngestJob.
func (c *Client) IngestUpload(ctx context.Context, req IngestUploadRequest) (*IngestJob, error) {
	body, err := marshalBody(req)
	if err != nil {
		return nil, err
	}

	query := url.Values{"async": []string{"true"}}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/ingest-upload", query, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var job IngestJob
	if err := c.doJSON(httpReq, &job); err != nil {
		return nil, err
	}

	c.logger.Debug("ingest job enqueued",
		"job_id", job.JobID,
		"upload_id", req.UploadID,
	)
	return &job, nil
}

// GetIngestJob polls the status of an async ingest job.
func (c *Client) GetIngestJob(ctx context.Context, jobID string) (*IngestJob, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/ingest-jobs/"+url.PathEscape(jobID), nil, nil)
	if err != nil {
		return nil, err
	}

	var job IngestJob
	if err := c.doJSON(httpReq, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// VerifySHA256 compares a locally computed digest with the receipt's. A
// mismatch means the upload was corrupted in transit and must not be
// referenced by messages.
func (r *UploadReceipt) VerifySHA256(localHash string) error {
	if !strings.EqualFold(r.SHA256, localHash) {
		return fmt.Errorf("upload %s: sha256 mismatch (local %s, server %s)",
			r.UploadID, localHash, r.SHA256)
	}
	return nil
}
