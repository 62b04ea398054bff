// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

const (
	// DefaultConcurrency bounds simultaneously in-flight items. Queued
	// items wait for a slot; waiting does not count as in flight.
	DefaultConcurrency = 3

	// MaxIngestAttempts caps ingest enqueue retries before an item
	// lands in Error.
	MaxIngestAttempts = 3

	backoffBase = 2 * time.Second
	backoffCap  = 30 * time.Second
)

// Backoff returns the delay before retry number attempt. The curve
// doubles from 2s and caps at 30s, matching the advisor's own ingest
// retry schedule so client polling stays roughly in phase with server
// attempts.
func Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return backoffBase
	}
	if attempt > 5 {
		return backoffCap
	}
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// UploadService is the slice of the advisor client the pipeline needs.
type UploadService interface {
	Upload(ctx context.Context, req advisor.UploadRequest) (*advisor.UploadReceipt, error)
	IngestUpload(ctx context.Context, req advisor.IngestUploadRequest) (*advisor.IngestJob, error)
	GetIngestJob(ctx context.Context, jobID string) (*advisor.IngestJob, error)
}

var _ UploadService = (*advisor.Client)(nil)

// QueueStore persists queue entries so interrupted uploads survive a
// restart. Implementations must be safe for concurrent use.
type QueueStore interface {
	SaveAttachment(att PendingAttachment) error
	DeleteAttachment(clientID string) error
	ListAttachments() ([]PendingAttachment, error)
}

// Config assembles a Pipeline.
type Config struct {
	// Service performs uploads and ingest calls. Required.
	Service UploadService

	// Store persists queue entries across restarts. Optional.
	Store QueueStore

	// Concurrency bounds in-flight items. Defaults to
	// DefaultConcurrency.
	Concurrency int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pipeline tracks pending attachments and drives them to Ready.
//
// # Description
//
// Files enter through QueueFile (or a FolderWatcher), wait for one of the
// bounded concurrency slots, upload, optionally ingest into the retrieval
// index, and settle as Ready or Error. One item failing never blocks the
// others. A retry re-enters the queue without re-uploading bytes the
// server already stored.
//
// # Thread Safety
//
// Safe for concurrent use.
type Pipeline struct {
	service UploadService
	store   QueueStore
	sem     *semaphore.Weighted
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	items map[string]*PendingAttachment
	order []string
	wg    sync.WaitGroup
}

// NewPipeline creates an empty pipeline. Call Restore to pick up entries
// persisted by an earlier run.
func NewPipeline(cfg Config) *Pipeline {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		service: cfg.Service,
		store:   cfg.Store,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		logger:  logger,
		sleep:   sleepContext,
		items:   make(map[string]*PendingAttachment),
	}
}

// Restore loads persisted queue entries. Items interrupted mid-flight
// re-enter as Queued and start processing immediately; terminal items are
// kept for display only. Returns the number of items resumed.
func (p *Pipeline) Restore(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, nil
	}
	saved, err := p.store.ListAttachments()
	if err != nil {
		return 0, fmt.Errorf("load attachment queue: %w", err)
	}
	sort.Slice(saved, func(i, j int) bool {
		return saved[i].QueuedAt.Before(saved[j].QueuedAt)
	})

	resumed := 0
	for _, att := range saved {
		att := att
		p.mu.Lock()
		if _, dup := p.items[att.ClientID]; dup {
			p.mu.Unlock()
			continue
		}
		if !att.Status.Terminal() {
			att.Status = StatusQueued
		}
		p.items[att.ClientID] = &att
		p.order = append(p.order, att.ClientID)
		p.mu.Unlock()

		if att.Status == StatusQueued {
			p.persist(att)
			p.dispatch(ctx, att.ClientID)
			resumed++
		}
	}

	p.logger.Debug("Restored attachment queue",
		"total", len(saved),
		"resumed", resumed)
	return resumed, nil
}

// QueueFile validates a file and enqueues it for upload.
//
// # Description
//
// Runs preflight (size, MIME allowlist, SHA-256), then tracks the file
// and dispatches a worker that waits for a concurrency slot. A path that
// is already tracked and not failed is returned as-is rather than queued
// twice; a failed path is re-queued under its existing client id, dropping
// the stored upload when the bytes changed.
//
// # Inputs
//
//   - ctx: Governs the upload worker, not just this call.
//   - path: File to attach.
//   - opts: Purpose, retention, and ingest flags.
//
// # Outputs
//
//   - *PendingAttachment: Snapshot of the tracked item.
//   - error: Preflight failure; nothing was queued.
func (p *Pipeline) QueueFile(ctx context.Context, path string, opts QueueOptions) (*PendingAttachment, error) {
	check, err := Preflight(path)
	if err != nil {
		return nil, err
	}

	purpose := opts.Purpose
	if purpose == "" {
		purpose = "chat"
	}
	now := time.Now().UTC()

	p.mu.Lock()
	var existing *PendingAttachment
	for _, id := range p.order {
		if p.items[id].Path == check.Path {
			existing = p.items[id]
			break
		}
	}

	if existing != nil && existing.Status != StatusError {
		dup := *existing
		p.mu.Unlock()
		return &dup, nil
	}

	if existing != nil {
		// Same file failed earlier: reuse the record so the client id
		// stays stable. Changed bytes invalidate any stored upload.
		if existing.SHA256 != check.SHA256 {
			existing.UploadID = ""
			existing.DownloadURL = ""
		}
		existing.Filename = check.Filename
		existing.MimeType = check.MimeType
		existing.SizeBytes = check.SizeBytes
		existing.SHA256 = check.SHA256
		existing.Status = StatusQueued
		existing.Error = ""
		existing.UpdatedAt = now
		snapshot := *existing
		p.mu.Unlock()

		p.persist(snapshot)
		p.dispatch(ctx, snapshot.ClientID)
		return &snapshot, nil
	}

	item := &PendingAttachment{
		ClientID:      uuid.NewString(),
		Filename:      check.Filename,
		Path:          check.Path,
		MimeType:      check.MimeType,
		SizeBytes:     check.SizeBytes,
		SHA256:        check.SHA256,
		Purpose:       purpose,
		RetentionDays: opts.RetentionDays,
		Ingest:        opts.Ingest,
		Language:      opts.Language,
		Status:        StatusQueued,
		QueuedAt:      now,
		UpdatedAt:     now,
	}
	p.items[item.ClientID] = item
	p.order = append(p.order, item.ClientID)
	snapshot := *item
	p.mu.Unlock()

	p.persist(snapshot)
	p.dispatch(ctx, item.ClientID)
	p.logger.Debug("Queued attachment",
		"client_id", item.ClientID,
		"filename", item.Filename,
		"size_bytes", item.SizeBytes)
	return &snapshot, nil
}

// Retry re-queues a failed item. The stored upload id is kept, so bytes
// the server already has are not sent again.
func (p *Pipeline) Retry(ctx context.Context, clientID string) error {
	p.mu.Lock()
	item, ok := p.items[clientID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("attachment %s not found", clientID)
	}
	if item.Status != StatusError {
		status := item.Status
		p.mu.Unlock()
		return fmt.Errorf("attachment %s is %s, only failed items can be retried", clientID, status)
	}
	item.Status = StatusQueued
	item.Error = ""
	item.UpdatedAt = time.Now().UTC()
	snapshot := *item
	p.mu.Unlock()

	p.persist(snapshot)
	p.dispatch(ctx, clientID)
	return nil
}

// Remove drops an item from the queue. In-flight items cannot be removed;
// queued items that have not claimed a slot yet are dropped silently.
func (p *Pipeline) Remove(clientID string) error {
	p.mu.Lock()
	item, ok := p.items[clientID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("attachment %s not found", clientID)
	}
	if item.Status.InFlight() {
		status := item.Status
		p.mu.Unlock()
		return fmt.Errorf("attachment %s is still %s", clientID, status)
	}
	delete(p.items, clientID)
	p.removeFromOrder(clientID)
	p.mu.Unlock()

	p.deleteRecord(clientID)
	return nil
}

// Get returns a snapshot of one tracked item.
func (p *Pipeline) Get(clientID string) (PendingAttachment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[clientID]
	if !ok {
		return PendingAttachment{}, false
	}
	return *item, true
}

// Snapshot returns all tracked items in queue order.
func (p *Pipeline) Snapshot() []PendingAttachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingAttachment, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.items[id])
	}
	return out
}

// ReadyUploadIDs lists upload ids eligible to ride on an outgoing
// question. Queued, uploading, and indexing items are excluded even if
// the user sends early.
func (p *Pipeline) ReadyUploadIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, id := range p.order {
		item := p.items[id]
		if item.Status == StatusReady && item.UploadID != "" {
			ids = append(ids, item.UploadID)
		}
	}
	return ids
}

// ReadyRefs is ReadyUploadIDs with display metadata, for echoing the
// user's message locally.
func (p *Pipeline) ReadyRefs() []wire.AttachmentRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	var refs []wire.AttachmentRef
	for _, id := range p.order {
		item := p.items[id]
		if item.Status == StatusReady && item.UploadID != "" {
			refs = append(refs, wire.AttachmentRef{
				UploadID:  item.UploadID,
				Filename:  item.Filename,
				MimeType:  item.MimeType,
				SizeBytes: item.SizeBytes,
			})
		}
	}
	return refs
}

// ConsumeReady removes all Ready items and returns their upload ids in
// queue order. Called when a question goes out so the same files are not
// attached to the next one too.
func (p *Pipeline) ConsumeReady() []string {
	p.mu.Lock()
	var ids []string
	var consumed []string
	for _, id := range p.order {
		item := p.items[id]
		if item.Status == StatusReady && item.UploadID != "" {
			ids = append(ids, item.UploadID)
			consumed = append(consumed, id)
		}
	}
	for _, id := range consumed {
		delete(p.items, id)
		p.removeFromOrder(id)
	}
	p.mu.Unlock()

	for _, id := range consumed {
		p.deleteRecord(id)
	}
	return ids
}

// Wait blocks until every dispatched worker has finished. Used by
// one-shot commands and tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// =============================================================================
// WORKERS
// =============================================================================

func (p *Pipeline) dispatch(ctx context.Context, clientID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			// Shutting down while waiting for a slot. The item stays
			// queued and resumes on restart.
			return
		}
		defer p.sem.Release(1)
		p.process(ctx, clientID)
	}()
}

func (p *Pipeline) process(ctx context.Context, clientID string) {
	item, ok := p.claim(clientID)
	if !ok {
		return
	}

	if item.UploadID == "" {
		receipt, err := p.upload(ctx, item)
		if err != nil {
			p.settle(ctx, clientID, err)
			return
		}
		// A receipt whose hash disagrees with ours is not stored on the
		// item, so a retry re-uploads instead of trusting bad bytes.
		if err := receipt.VerifySHA256(item.SHA256); err != nil {
			p.settle(ctx, clientID, err)
			return
		}
		item.UploadID = receipt.UploadID
		item.DownloadURL = receipt.DownloadURL
		p.update(clientID, func(a *PendingAttachment) {
			a.UploadID = receipt.UploadID
			a.DownloadURL = receipt.DownloadURL
		})
	}

	if item.Ingest {
		p.setStatus(clientID, StatusIndexing)
		if err := p.runIngest(ctx, item); err != nil {
			p.settle(ctx, clientID, err)
			return
		}
	}

	p.setStatus(clientID, StatusReady)
	p.logger.Info("Attachment ready",
		"client_id", clientID,
		"upload_id", item.UploadID,
		"filename", item.Filename)
}

// claim atomically takes ownership of a queued item. False means the item
// was removed or another worker already owns it.
func (p *Pipeline) claim(clientID string) (PendingAttachment, bool) {
	p.mu.Lock()
	item, ok := p.items[clientID]
	if !ok || item.Status != StatusQueued {
		p.mu.Unlock()
		return PendingAttachment{}, false
	}
	item.Status = StatusUploading
	item.Attempts++
	item.Error = ""
	item.UpdatedAt = time.Now().UTC()
	snapshot := *item
	p.mu.Unlock()

	p.persist(snapshot)
	return snapshot, true
}

func (p *Pipeline) upload(ctx context.Context, item PendingAttachment) (*advisor.UploadReceipt, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return p.service.Upload(ctx, advisor.UploadRequest{
		Filename:      item.Filename,
		MimeType:      item.MimeType,
		Purpose:       item.Purpose,
		RetentionDays: item.RetentionDays,
		Content:       f,
	})
}

// runIngest enqueues the ingest job and polls it to a terminal state. The
// server retries failed jobs itself; a job that lands failed has already
// exhausted the server-side attempts, so the item fails without another
// enqueue.
func (p *Pipeline) runIngest(ctx context.Context, item PendingAttachment) error {
	req := advisor.IngestUploadRequest{
		UploadID:   item.UploadID,
		SourceName: item.Filename,
		Language:   item.Language,
	}

	var job *advisor.IngestJob
	var err error
	for attempt := 1; ; attempt++ {
		job, err = p.service.IngestUpload(ctx, req)
		if err == nil {
			break
		}
		if attempt >= MaxIngestAttempts || ctx.Err() != nil {
			return fmt.Errorf("enqueue ingest: %w", err)
		}
		p.logger.Warn("Ingest enqueue failed, backing off",
			"client_id", item.ClientID,
			"attempt", attempt,
			"error", err)
		if serr := p.sleep(ctx, Backoff(attempt)); serr != nil {
			return serr
		}
	}

	misses := 0
	for poll := 1; !job.Terminal(); poll++ {
		if serr := p.sleep(ctx, Backoff(poll)); serr != nil {
			return serr
		}
		next, gerr := p.service.GetIngestJob(ctx, job.JobID)
		if gerr != nil {
			misses++
			if misses >= MaxIngestAttempts {
				return fmt.Errorf("poll ingest job %s: %w", job.JobID, gerr)
			}
			continue
		}
		misses = 0
		job = next
	}

	if job.Status == advisor.JobStatusFailed {
		if job.Error != "" {
			return fmt.Errorf("ingest failed: %s", job.Error)
		}
		return errors.New("ingest failed")
	}
	return nil
}

// settle records the outcome of a failed pass. Cancellation is an
// interruption, not a failure: the item re-queues so a restart resumes it.
func (p *Pipeline) settle(ctx context.Context, clientID string, err error) {
	if ctx.Err() != nil {
		p.setStatus(clientID, StatusQueued)
		return
	}
	p.logger.Warn("Attachment failed",
		"client_id", clientID,
		"error", err)
	p.update(clientID, func(a *PendingAttachment) {
		a.Status = StatusError
		a.Error = err.Error()
	})
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func (p *Pipeline) update(clientID string, fn func(*PendingAttachment)) {
	p.mu.Lock()
	item, ok := p.items[clientID]
	if !ok {
		p.mu.Unlock()
		return
	}
	fn(item)
	item.UpdatedAt = time.Now().UTC()
	snapshot := *item
	p.mu.Unlock()

	p.persist(snapshot)
}

func (p *Pipeline) setStatus(clientID string, status Status) {
	p.update(clientID, func(a *PendingAttachment) {
		a.Status = status
	})
	p.logger.Debug("Attachment status changed",
		"client_id", clientID,
		"status", status)
}

// removeFromOrder must be called with p.mu held.
func (p *Pipeline) removeFromOrder(clientID string) {
	for i, id := range p.order {
		if id == clientID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

func (p *Pipeline) persist(att PendingAttachment) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveAttachment(att); err != nil {
		p.logger.Warn("Failed to persist attachment record",
			"client_id", att.ClientID,
			"error", err)
	}
}

func (p *Pipeline) deleteRecord(clientID string) {
	if p.store == nil {
		return
	}
	if err := p.store.DeleteAttachment(clientID); err != nil {
		p.logger.Warn("Failed to delete attachment record",
			"client_id", clientID,
			"error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
