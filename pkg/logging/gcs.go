// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// DefaultGCSBatchSize is how many entries accumulate before an upload.
const DefaultGCSBatchSize = 100

// GCSExporterConfig configures a GCSExporter.
type GCSExporterConfig struct {
	// Bucket is the destination bucket name. Required.
	Bucket string

	// KeyPath is a service account key file. Empty means Application
	// Default Credentials.
	KeyPath string

	// Service names the component writing the logs; it becomes part of
	// the object path. Default: "lumi".
	Service string

	// Prefix is the leading object path segment. Default: "logs".
	Prefix string

	// BatchSize is how many entries to accumulate before uploading.
	// Default: DefaultGCSBatchSize.
	BatchSize int
}

// GCSExporter uploads log entries to Google Cloud Storage as batched
// JSONL objects.
//
// Entries buffer in memory until BatchSize is reached, then upload as
// one object named
//
//	{prefix}/{service}/{date}/{time}_{seq}.jsonl
//
// Flush uploads whatever remains in the buffer; Close releases the
// storage client. Used by hosted advisor deployments where stderr is
// not collected.
type GCSExporter struct {
	uploader  objectUploader
	service   string
	prefix    string
	batchSize int

	mu      sync.Mutex
	pending []LogEntry
	seq     int
	closed  bool
}

// objectUploader is the storage seam; tests substitute an in-memory
// implementation.
type objectUploader interface {
	upload(ctx context.Context, objectPath string, data io.Reader) error
	close() error
}

// NewGCSExporter creates a GCSExporter backed by a real storage client.
func NewGCSExporter(ctx context.Context, config GCSExporterConfig) (*GCSExporter, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	var opts []option.ClientOption
	if config.KeyPath != "" {
		if _, err := os.Stat(config.KeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", config.KeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(config.KeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return newGCSExporter(config, &gcsUploader{
		client: storageClient,
		bucket: config.Bucket,
	}), nil
}

// newGCSExporter wires an exporter to an uploader. Split from
// NewGCSExporter so tests can inject a fake.
func newGCSExporter(config GCSExporterConfig, uploader objectUploader) *GCSExporter {
	service := config.Service
	if service == "" {
		service = "lumi"
	}
	prefix := config.Prefix
	if prefix == "" {
		prefix = "logs"
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultGCSBatchSize
	}
	return &GCSExporter{
		uploader:  uploader,
		service:   service,
		prefix:    prefix,
		batchSize: batchSize,
		pending:   make([]LogEntry, 0, batchSize),
	}
}

// Export buffers the entry, uploading a batch when the buffer fills.
func (e *GCSExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("exporter is closed")
	}
	e.pending = append(e.pending, entry)
	if len(e.pending) < e.batchSize {
		e.mu.Unlock()
		return nil
	}
	batch, objectPath := e.takeBatch()
	e.mu.Unlock()

	return e.uploadBatch(ctx, objectPath, batch)
}

// Flush uploads any buffered entries.
func (e *GCSExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch, objectPath := e.takeBatch()
	e.mu.Unlock()

	return e.uploadBatch(ctx, objectPath, batch)
}

// Close marks the exporter closed and releases the storage client.
// Call Flush first; Close does not upload.
func (e *GCSExporter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.uploader.close()
}

// takeBatch cuts the pending buffer and assigns the next object path.
// Caller must hold e.mu.
func (e *GCSExporter) takeBatch() ([]LogEntry, string) {
	batch := e.pending
	e.pending = make([]LogEntry, 0, e.batchSize)
	e.seq++
	now := time.Now().UTC()
	objectPath := path.Join(
		e.prefix,
		e.service,
		now.Format("2006-01-02"),
		fmt.Sprintf("%s_%06d.jsonl", now.Format("150405"), e.seq),
	)
	return batch, objectPath
}

// uploadBatch serializes entries as JSONL and uploads one object.
func (e *GCSExporter) uploadBatch(ctx context.Context, objectPath string, batch []LogEntry) error {
	var buf bytes.Buffer
	for _, entry := range batch {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := e.uploader.upload(ctx, objectPath, &buf); err != nil {
		return fmt.Errorf("failed to upload log batch %s: %w", objectPath, err)
	}
	return nil
}

// Ensure GCSExporter implements LogExporter
var _ LogExporter = (*GCSExporter)(nil)

// gcsUploader is the production objectUploader over a storage client.
type gcsUploader struct {
	client *storage.Client
	bucket string
}

func (u *gcsUploader) upload(ctx context.Context, objectPath string, data io.Reader) error {
	obj := u.client.Bucket(u.bucket).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, data); err != nil {
		return fmt.Errorf("failed to copy log batch to GCS object %s: %w", objectPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}
	return nil
}

func (u *gcsUploader) close() error {
	return u.client.Close()
}
