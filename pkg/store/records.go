// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/attach"
)

// DefaultCacheTTL bounds how long offline session and transcript caches
// are served before they age out.
const DefaultCacheTTL = 24 * time.Hour

// ErrNotCached is returned when a cache lookup misses (or the record
// expired).
var ErrNotCached = errors.New("not cached")

const (
	attachPrefix     = "attach:"
	sessionPrefix    = "session:"
	transcriptPrefix = "transcript:"
)

func attachKey(clientID string) []byte {
	return []byte(attachPrefix + clientID)
}

func sessionKey(sessionID string) []byte {
	return []byte(sessionPrefix + sessionID)
}

func transcriptKey(sessionID string) []byte {
	return []byte(transcriptPrefix + sessionID)
}

var _ attach.QueueStore = (*Store)(nil)

// =============================================================================
// ATTACHMENT QUEUE
// =============================================================================

// SaveAttachment upserts a queue record. No TTL: interrupted uploads must
// survive arbitrary downtime.
func (s *Store) SaveAttachment(att attach.PendingAttachment) error {
	return s.putJSON(attachKey(att.ClientID), att, 0)
}

// DeleteAttachment removes a queue record. Deleting a missing record is
// not an error.
func (s *Store) DeleteAttachment(clientID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(attachKey(clientID))
	})
}

// ListAttachments returns every persisted queue record.
func (s *Store) ListAttachments() ([]attach.PendingAttachment, error) {
	var out []attach.PendingAttachment
	err := s.scanPrefix([]byte(attachPrefix), func(val []byte) error {
		var att attach.PendingAttachment
		if err := json.Unmarshal(val, &att); err != nil {
			return fmt.Errorf("decode attachment record: %w", err)
		}
		out = append(out, att)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// SESSION CACHE
// =============================================================================

// CacheSessions replaces the cached session list. Replacement, not merge:
// sessions deleted server-side must drop out of offline listings too.
// A ttl of 0 uses DefaultCacheTTL.
func (s *Store) CacheSessions(sessions []advisor.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, []byte(sessionPrefix)); err != nil {
			return err
		}
		for _, session := range sessions {
			data, err := json.Marshal(session)
			if err != nil {
				return fmt.Errorf("marshal session %s: %w", session.SessionID, err)
			}
			entry := badger.NewEntry(sessionKey(session.SessionID), data).WithTTL(ttl)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// CachedSessions returns cached sessions, most recently updated first.
func (s *Store) CachedSessions() ([]advisor.Session, error) {
	var out []advisor.Session
	err := s.scanPrefix([]byte(sessionPrefix), func(val []byte) error {
		var session advisor.Session
		if err := json.Unmarshal(val, &session); err != nil {
			return fmt.Errorf("decode session record: %w", err)
		}
		out = append(out, session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// DropCachedSession removes one session and its transcript from the
// cache, typically after a server-side 404.
func (s *Store) DropCachedSession(sessionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(sessionKey(sessionID)); err != nil {
			return err
		}
		return txn.Delete(transcriptKey(sessionID))
	})
}

// =============================================================================
// TRANSCRIPT CACHE
// =============================================================================

// CacheTranscript stores a session's message history for offline
// viewing. A ttl of 0 uses DefaultCacheTTL.
func (s *Store) CacheTranscript(sessionID string, messages []advisor.Message, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return s.putJSON(transcriptKey(sessionID), messages, ttl)
}

// CachedTranscript returns a cached message history, or ErrNotCached.
func (s *Store) CachedTranscript(sessionID string) ([]advisor.Message, error) {
	var out []advisor.Message
	if err := s.getJSON(transcriptKey(sessionID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// RECORD HELPERS
// =============================================================================

func (s *Store) putJSON(key []byte, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *Store) getJSON(key []byte, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotCached
	}
	return err
}

func (s *Store) scanPrefix(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// deletePrefix removes every key under prefix within an open write
// transaction.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
