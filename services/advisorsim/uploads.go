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
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
)

// maxUploadBytes is the per-file ceiling. The CLI preflight enforces the
// same number so a rejected file normally never reaches the wire.
const maxUploadBytes = 10 << 20

const defaultRetentionDays = 30

// acceptedMimeTypes is the upload allowlist the CLI preflight mirrors.
var acceptedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"text/markdown":   {},
	"text/plain":      {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/webp":      {},
	"audio/mpeg":      {},
	"audio/mp4":       {},
	"audio/wav":       {},
	"audio/x-wav":     {},
	"audio/webm":      {},
	"audio/ogg":       {},
	"audio/aac":       {},
	"audio/x-m4a":     {},
}

func (s *Server) handleUpload(c *gin.Context) {
	purpose := c.DefaultQuery("purpose", "chat")
	if purpose != "chat" && purpose != "rag" {
		s.metrics.recordUpload(false, 0)
		fail(c, http.StatusBadRequest, "Purpose must be chat or rag")
		return
	}

	retention := defaultRetentionDays
	if raw := c.Query("retention_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.metrics.recordUpload(false, 0)
			fail(c, http.StatusBadRequest, "retention_days must be a positive integer")
			return
		}
		retention = parsed
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		s.metrics.recordUpload(false, 0)
		fail(c, http.StatusBadRequest, "Multipart file field is required")
		return
	}
	defer file.Close()

	if header.Size == 0 {
		s.metrics.recordUpload(false, 0)
		fail(c, http.StatusBadRequest, "Empty file is not allowed")
		return
	}
	if header.Size > maxUploadBytes {
		s.metrics.recordUpload(false, 0)
		fail(c, http.StatusRequestEntityTooLarge, "File exceeds 10 MB limit")
		return
	}

	mimeType := resolveMimeType(header.Header.Get("Content-Type"), header.Filename)
	if _, ok := acceptedMimeTypes[mimeType]; !ok {
		s.metrics.recordUpload(false, 0)
		fail(c, http.StatusBadRequest, "Unsupported file type")
		return
	}

	// multipart sizes are trusted only as a fast reject; the digest and
	// the stored size come from the bytes actually read.
	digest := sha256.New()
	size, err := io.Copy(digest, io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		s.metrics.recordUpload(false, 0)
		fail(c, http.StatusInternalServerError, "Failed to read upload")
		return
	}
	if size > maxUploadBytes {
		s.metrics.recordUpload(false, 0)
		fail(c, http.StatusRequestEntityTooLarge, "File exceeds 10 MB limit")
		return
	}

	now := time.Now().UTC()
	expires := now.Add(time.Duration(retention) * 24 * time.Hour)
	receipt := advisor.UploadReceipt{
		UploadID:      "up-" + uuid.New().String(),
		Filename:      header.Filename,
		MimeType:      mimeType,
		SizeBytes:     size,
		SHA256:        hex.EncodeToString(digest.Sum(nil)),
		StoredAt:      now,
		RetentionDays: retention,
		ExpiresAt:     &expires,
	}
	s.store.putUpload(receipt, purpose)
	s.metrics.recordUpload(true, size)

	s.logger.Debug("upload stored",
		"upload_id", receipt.UploadID,
		"filename", receipt.Filename,
		"size_bytes", receipt.SizeBytes,
		"purpose", purpose,
	)
	c.JSON(http.StatusCreated, receipt)
}

func (s *Server) handleGetUpload(c *gin.Context) {
	receipt, ok := s.store.getUpload(c.Param("uploadId"))
	if !ok {
		fail(c, http.StatusNotFound, "Upload not found")
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleIngestUpload(c *gin.Context) {
	var req advisor.IngestUploadRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, ok := s.store.getUpload(req.UploadID)
	if !ok {
		fail(c, http.StatusNotFound, "Upload not found")
		return
	}

	failWith := ""
	if sub := s.cfg.IngestFailSubstring; sub != "" && strings.Contains(receipt.Filename, sub) {
		failWith = "Document could not be parsed"
	}

	job := s.store.createJob(receipt, req.SourceName, s.cfg.IngestPolls, failWith)
	s.logger.Debug("ingest job enqueued",
		"job_id", job.JobID,
		"upload_id", req.UploadID,
		"polls_to_finish", s.cfg.IngestPolls,
	)
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleGetIngestJob(c *gin.Context) {
	job, finished, ok := s.store.stepJob(c.Param("jobId"))
	if !ok {
		fail(c, http.StatusNotFound, "Ingest job not found")
		return
	}
	if finished {
		s.metrics.recordIngest(job.Status)
		s.logger.Debug("ingest job finished",
			"job_id", job.JobID,
			"status", job.Status,
			"doc_id", job.DocID,
		)
	}
	c.JSON(http.StatusOK, job)
}

// resolveMimeType normalizes the part's declared type, falling back to the
// filename extension when the part says nothing useful.
func resolveMimeType(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil {
			return parsed
		}
	}

	byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if byExt == "" {
		return declared
	}
	if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
		return parsed
	}
	return byExt
}
