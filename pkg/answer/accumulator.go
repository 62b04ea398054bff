// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package answer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SecureBufferSize is the capacity of the mlocked buffer used by the
	// secure accumulator. 512 KB is ample for any advisor answer; the
	// buffer cannot grow because locked pages are allocated up front.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the smallest RLIMIT_MEMLOCK (in KB) under which
	// the secure accumulator is considered usable.
	MinMlockLimitKB = 512

	// insecureMemoryEnv opts out of locked memory entirely. Answers may
	// contain personal study plans, grades and budgets, so the opt-out is
	// explicit.
	insecureMemoryEnv = "LUMI_INSECURE_MEMORY"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAccumulatorDestroyed is returned by operations on a destroyed or
	// finalized accumulator.
	ErrAccumulatorDestroyed = errors.New("accumulator destroyed")

	// ErrAccumulatorOverflow is returned when a delta does not fit in the
	// fixed-size secure buffer. The accumulator keeps the text written so
	// far; the aggregate is marked truncated.
	ErrAccumulatorOverflow = errors.New("secure buffer overflow")
)

// =============================================================================
// Token Accumulator
// =============================================================================

// TokenAccumulator collects streamed text deltas for one answer.
//
// # Description
//
// TokenAccumulator abstracts where in-flight answer text lives. The default
// implementation keeps it in mlocked memory so a partially streamed answer
// never reaches swap; a plain-memory fallback exists for systems without
// usable mlock limits. Deltas are hashed incrementally as they arrive, so
// the content hash is available the moment the answer is finalized.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Limitations
//
//   - An accumulator is single-shot: after Finalize or Destroy it cannot
//     be written again.
//   - Snapshot and Finalize return ordinary Go strings; once extracted,
//     the text is outside any locked region. Callers own its handling.
type TokenAccumulator interface {
	// Write appends one delta. Returns ErrAccumulatorOverflow when a
	// fixed-size buffer cannot take the delta, ErrAccumulatorDestroyed
	// after Finalize/Destroy.
	Write(delta string) error

	// Snapshot returns the text accumulated so far without ending the
	// accumulator's life. Used to expose the in-progress answer.
	Snapshot() string

	// Finalize returns the full text and its hex SHA-256, then wipes the
	// backing storage. Can be called once.
	Finalize() (text string, contentHash string, err error)

	// Destroy wipes storage without returning data. Idempotent.
	Destroy()

	// ID identifies this accumulator in logs.
	ID() string

	// CreatedAt is when the accumulator was created.
	CreatedAt() time.Time
}

// NewTokenAccumulator returns the best accumulator the system supports:
// mlocked memory when the RLIMIT_MEMLOCK allows it, plain memory when it
// does not or when LUMI_INSECURE_MEMORY=true. A nil logger falls back to
// slog.Default().
func NewTokenAccumulator(logger *slog.Logger) TokenAccumulator {
	if logger == nil {
		logger = slog.Default()
	}

	if os.Getenv(insecureMemoryEnv) == "true" {
		logger.Warn("secure memory disabled by environment",
			"env", insecureMemoryEnv)
		return newPlainAccumulator(logger)
	}

	initSecureMemory(logger)
	if !mlockSufficient {
		logger.Warn("mlock limit too low for secure accumulation, using plain memory",
			"limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB)
		return newPlainAccumulator(logger)
	}

	return newSecureAccumulator(logger)
}

// =============================================================================
// Plain Implementation
// =============================================================================

// plainAccumulator stores deltas in ordinary Go memory.
//
// It grows without bound, matching the append-only text contract, but
// offers none of the anti-swap guarantees of the secure accumulator. Used
// when mlock is unavailable or explicitly opted out of.
type plainAccumulator struct {
	id        string
	createdAt time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	destroyed bool
}

// Compile-time check that plainAccumulator implements TokenAccumulator.
var _ TokenAccumulator = (*plainAccumulator)(nil)

func newPlainAccumulator(logger *slog.Logger) *plainAccumulator {
	return &plainAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		logger:    logger,
		data:      make([]byte, 0, 1024),
		hasher:    sha256.New(),
	}
}

// Write implements TokenAccumulator.
func (a *plainAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ErrAccumulatorDestroyed
	}

	a.data = append(a.data, delta...)
	a.hasher.Write([]byte(delta))
	return nil
}

// Snapshot implements TokenAccumulator.
func (a *plainAccumulator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ""
	}
	return string(a.data)
}

// Finalize implements TokenAccumulator.
func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", ErrAccumulatorDestroyed
	}

	text := string(a.data)
	contentHash := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeLocked()

	return text, contentHash, nil
}

// Destroy implements TokenAccumulator.
func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipeLocked()
}

// wipeLocked zeroes the buffer. Best effort only: plain memory may already
// have been copied by the runtime.
func (a *plainAccumulator) wipeLocked() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// ID implements TokenAccumulator.
func (a *plainAccumulator) ID() string {
	return a.id
}

// CreatedAt implements TokenAccumulator.
func (a *plainAccumulator) CreatedAt() time.Time {
	return a.createdAt
}
