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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

type sessionRecord struct {
	session  advisor.Session
	messages []advisor.Message
}

type uploadRecord struct {
	receipt advisor.UploadReceipt
	purpose string
}

type jobRecord struct {
	job advisor.IngestJob

	// finishAt is the poll count at which the job goes terminal.
	finishAt int

	// failWith, when non-empty, makes the terminal state a failure with
	// this error text.
	failWith string

	// sourceName feeds the citation corpus once the job succeeds.
	sourceName string
	sizeBytes  int64
}

// ingestedDoc is a document that entered the retrieval index through a
// succeeded ingest job. The answer composer cites these first.
type ingestedDoc struct {
	DocID      string
	SourceName string
	ChunkCount int
}

// memoryStore keeps all simulator state behind one mutex. Read methods
// return copies; map-valued session fields are cloned both on write and on
// read so handlers can never alias live state.
type memoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*sessionRecord
	uploads  map[string]*uploadRecord
	jobs     map[string]*jobRecord
	docs     []ingestedDoc
}

func newMemoryStore(ttl time.Duration) *memoryStore {
	return &memoryStore{
		ttl:      ttl,
		sessions: make(map[string]*sessionRecord),
		uploads:  make(map[string]*uploadRecord),
		jobs:     make(map[string]*jobRecord),
	}
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

func (st *memoryStore) createSession(title, language string) advisor.Session {
	now := time.Now().UTC()
	session := advisor.Session{
		SessionID: "sess-" + uuid.New().String(),
		Title:     strings.TrimSpace(title),
		Language:  language,
		Slots:     map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	st.mu.Lock()
	st.sessions[session.SessionID] = &sessionRecord{session: session}
	st.mu.Unlock()

	return st.decorate(session)
}

func (st *memoryStore) getSession(id string) (advisor.Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.sessions[id]
	if !ok {
		return advisor.Session{}, false
	}
	return st.decorate(cloneSession(rec.session)), true
}

func (st *memoryStore) listSessions() []advisor.Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]advisor.Session, 0, len(st.sessions))
	for _, rec := range st.sessions {
		out = append(out, st.decorate(cloneSession(rec.session)))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (st *memoryStore) patchSession(id string, patch advisor.SessionPatch) (advisor.Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.sessions[id]
	if !ok {
		return advisor.Session{}, false
	}
	if patch.Title != nil {
		rec.session.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Pinned != nil {
		rec.session.Pinned = *patch.Pinned
	}
	if patch.Archived != nil {
		rec.session.Archived = *patch.Archived
	}
	rec.session.UpdatedAt = time.Now().UTC()
	return st.decorate(cloneSession(rec.session)), true
}

func (st *memoryStore) deleteSession(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// applySlotDiff merges a sparse slot update into a session. Values that
// fail catalog validation are reported in the returned session's
// slot_errors and left unapplied; resets always win. The error map is
// rebuilt per update so stale complaints never linger.
func (st *memoryStore) applySlotDiff(id string, diff slots.Diff, catalog *slots.Catalog) (advisor.Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.sessions[id]
	if !ok {
		return advisor.Session{}, false
	}
	if rec.session.Slots == nil {
		rec.session.Slots = map[string]string{}
	}

	slotErrors := map[string]string{}
	for name, value := range diff.Values {
		normalized := slots.NormalizeName(name)
		if normalized == "" {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			delete(rec.session.Slots, normalized)
			continue
		}
		if message := catalog.ValidateValue(normalized, trimmed); message != "" {
			slotErrors[normalized] = message
			continue
		}
		rec.session.Slots[normalized] = trimmed
	}
	for _, name := range diff.Resets {
		delete(rec.session.Slots, slots.NormalizeName(name))
	}

	rec.session.SlotErrors = slotErrors
	if len(slotErrors) == 0 {
		rec.session.SlotErrors = nil
	}
	rec.session.SlotCount = len(rec.session.Slots)
	rec.session.UpdatedAt = time.Now().UTC()

	return st.decorate(cloneSession(rec.session)), true
}

// adoptTitle sets a derived title on sessions that still have none.
func (st *memoryStore) adoptTitle(id, question string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.sessions[id]
	if !ok || rec.session.Title != "" {
		return
	}
	rec.session.Title = deriveTitle(question)
}

func (st *memoryStore) appendMessages(id string, msgs ...advisor.Message) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.sessions[id]
	if !ok {
		return
	}
	rec.messages = append(rec.messages, msgs...)
	rec.session.UpdatedAt = time.Now().UTC()
}

func (st *memoryStore) messages(id string) ([]advisor.Message, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	return append([]advisor.Message(nil), rec.messages...), true
}

// decorate computes the derived read-side fields.
func (st *memoryStore) decorate(session advisor.Session) advisor.Session {
	session.SlotCount = len(session.Slots)
	remaining := st.ttl - time.Since(session.CreatedAt)
	if remaining < 0 {
		remaining = 0
	}
	session.RemainingTTLSeconds = int64(remaining.Seconds())
	return session
}

func cloneSession(session advisor.Session) advisor.Session {
	out := session
	out.Slots = cloneMap(session.Slots)
	out.SlotErrors = cloneMap(session.SlotErrors)
	return out
}

func cloneMap(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// deriveTitle trims the first question down to a list-friendly label.
func deriveTitle(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	const max = 48
	if runes := []rune(title); len(runes) > max {
		title = strings.TrimSpace(string(runes[:max])) + "…"
	}
	return title
}

// -----------------------------------------------------------------------------
// Uploads
// -----------------------------------------------------------------------------

func (st *memoryStore) putUpload(receipt advisor.UploadReceipt, purpose string) {
	st.mu.Lock()
	st.uploads[receipt.UploadID] = &uploadRecord{receipt: receipt, purpose: purpose}
	st.mu.Unlock()
}

func (st *memoryStore) getUpload(id string) (advisor.UploadReceipt, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.uploads[id]
	if !ok {
		return advisor.UploadReceipt{}, false
	}
	return rec.receipt, true
}

// -----------------------------------------------------------------------------
// Ingest jobs
// -----------------------------------------------------------------------------

func (st *memoryStore) createJob(receipt advisor.UploadReceipt, sourceName string, finishAt int, failWith string) advisor.IngestJob {
	if sourceName == "" {
		sourceName = receipt.Filename
	}
	job := advisor.IngestJob{
		JobID:       "job-" + uuid.New().String(),
		JobType:     "upload_ingest",
		Status:      advisor.JobStatusQueued,
		UploadID:    receipt.UploadID,
		QueuedAt:    time.Now().UTC(),
		MaxAttempts: finishAt,
	}

	st.mu.Lock()
	st.jobs[job.JobID] = &jobRecord{
		job:        job,
		finishAt:   finishAt,
		failWith:   failWith,
		sourceName: sourceName,
		sizeBytes:  receipt.SizeBytes,
	}
	st.mu.Unlock()

	return job
}

// stepJob advances a job one poll: queued, running, retrying, then the
// terminal state at finishAt. Polling a terminal job returns it unchanged,
// so clients that re-read a finished job see a stable record.
func (st *memoryStore) stepJob(id string) (advisor.IngestJob, bool, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.jobs[id]
	if !ok {
		return advisor.IngestJob{}, false, false
	}
	if rec.job.Terminal() {
		return rec.job, false, true
	}

	rec.job.Attempts++
	switch {
	case rec.job.Attempts >= rec.finishAt && rec.failWith != "":
		now := time.Now().UTC()
		rec.job.Status = advisor.JobStatusFailed
		rec.job.Error = rec.failWith
		rec.job.CompletedAt = &now

	case rec.job.Attempts >= rec.finishAt:
		now := time.Now().UTC()
		rec.job.Status = advisor.JobStatusSucceeded
		rec.job.DocID = "doc-" + uuid.New().String()[:8]
		rec.job.ChunkCount = chunkCountFor(rec.sizeBytes)
		rec.job.CompletedAt = &now
		st.docs = append(st.docs, ingestedDoc{
			DocID:      rec.job.DocID,
			SourceName: rec.sourceName,
			ChunkCount: rec.job.ChunkCount,
		})

	case rec.job.Attempts == 1:
		rec.job.Status = advisor.JobStatusRunning

	default:
		rec.job.Status = advisor.JobStatusRetrying
	}

	return rec.job, rec.job.Terminal(), true
}

// ingestedDocs returns the indexed documents, newest first.
func (st *memoryStore) ingestedDocs() []ingestedDoc {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]ingestedDoc, len(st.docs))
	for i, doc := range st.docs {
		out[len(st.docs)-1-i] = doc
	}
	return out
}

// chunkCountFor approximates how many index chunks a document of this size
// would produce. Purely cosmetic, but stable for assertions.
func chunkCountFor(sizeBytes int64) int {
	count := int(sizeBytes / 400)
	if count < 1 {
		count = 1
	}
	return count
}
