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
	"hash"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Secure Memory Initialization
// =============================================================================

var (
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization; when false the factory
	// falls back to plain memory.
	mlockSufficient bool

	// currentMlockLimitKB is the RLIMIT_MEMLOCK soft limit in KB, -1 when
	// unlimited or undeterminable.
	currentMlockLimitKB int64
)

// initSecureMemory performs one-time memguard setup and records whether the
// mlock limit can hold a secure buffer. memguard.CatchInterrupt wipes all
// locked buffers on SIGINT/SIGTERM.
func initSecureMemory(logger *slog.Logger) {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit(logger)

		if mlockSufficient {
			logger.Debug("secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB)
		}
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK and compares it against the
// minimum a secure buffer needs. An undeterminable limit is treated as
// sufficient; allocation failure will downgrade later anyway.
func checkMlockLimit(logger *slog.Logger) (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		logger.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeSecureMemory wipes every memguard-allocated buffer. Called during
// graceful shutdown so no partial answer text survives in locked pages.
func PurgeSecureMemory() {
	memguard.Purge()
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureAccumulator stores answer text in a memguard LockedBuffer: mlocked
// against swap, guarded against overruns, and explicitly zeroed on destroy.
//
// The buffer is fixed at SecureBufferSize. A delta that does not fit is
// rejected with ErrAccumulatorOverflow and the text written so far stays
// intact, so the caller can still finalize a truncated answer.
type secureAccumulator struct {
	id        string
	createdAt time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	destroyed bool
}

// Compile-time check that secureAccumulator implements TokenAccumulator.
var _ TokenAccumulator = (*secureAccumulator)(nil)

func newSecureAccumulator(logger *slog.Logger) TokenAccumulator {
	buffer := memguard.NewBuffer(SecureBufferSize)
	if buffer == nil {
		logger.Error("secure buffer allocation failed, using plain memory",
			"buffer_size", SecureBufferSize)
		return newPlainAccumulator(logger)
	}
	// Buffers are created immutable; Melt makes this one writable.
	buffer.Melt()

	accumulator := &secureAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		logger:    logger,
		buffer:    buffer,
		hasher:    sha256.New(),
	}

	logger.Debug("created secure accumulator",
		"accumulator_id", accumulator.id,
		"buffer_size", SecureBufferSize)

	return accumulator
}

// Write implements TokenAccumulator.
func (a *secureAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ErrAccumulatorDestroyed
	}
	if a.offset+len(delta) > SecureBufferSize {
		return ErrAccumulatorOverflow
	}

	copy(a.buffer.Bytes()[a.offset:], delta)
	a.offset += len(delta)
	a.hasher.Write([]byte(delta))
	return nil
}

// Snapshot implements TokenAccumulator. The returned string is a copy
// living outside the locked region.
func (a *secureAccumulator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ""
	}
	return string(a.buffer.Bytes()[:a.offset])
}

// Finalize implements TokenAccumulator.
func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", ErrAccumulatorDestroyed
	}

	text := string(a.buffer.Bytes()[:a.offset])
	contentHash := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeLocked()

	a.logger.Debug("finalized secure accumulator",
		"accumulator_id", a.id,
		"text_length", len(text))

	return text, contentHash, nil
}

// Destroy implements TokenAccumulator.
func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipeLocked()

	a.logger.Debug("destroyed secure accumulator", "accumulator_id", a.id)
}

// wipeLocked destroys the locked buffer and marks the accumulator dead.
// Caller holds a.mu.
func (a *secureAccumulator) wipeLocked() {
	if a.buffer != nil {
		a.buffer.Destroy()
		a.buffer = nil
	}
	a.destroyed = true
}

// ID implements TokenAccumulator.
func (a *secureAccumulator) ID() string {
	return a.id
}

// CreatedAt implements TokenAccumulator.
func (a *secureAccumulator) CreatedAt() time.Time {
	return a.createdAt
}
