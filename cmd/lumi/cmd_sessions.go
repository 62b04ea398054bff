// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/store"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
)

// runListSessions lists sessions, serving the local cache when the
// advisor is unreachable.
func runListSessions(cmd *cobra.Command, args []string) {
	includeArchived, _ := cmd.Flags().GetBool("archived")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st := openLocalStore()
	defer closeStore(st)

	sessions, offline := fetchSessions(ctx, st)
	if offline {
		ux.Warning("Advisor unreachable; showing cached sessions.")
	}

	if !includeArchived {
		kept := sessions[:0]
		for _, s := range sessions {
			if !s.Archived {
				kept = append(kept, s)
			}
		}
		sessions = kept
	}

	// Pinned first, then most recently touched.
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Pinned != sessions[j].Pinned {
			return sessions[i].Pinned
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	if len(sessions) == 0 {
		fmt.Println("No sessions. Start one with: lumi chat")
		return
	}
	for _, s := range sessions {
		printSessionRow(s)
	}
}

// fetchSessions returns the server list (refreshing the cache) or the
// cached list when offline. The second return reports the offline case.
func fetchSessions(ctx context.Context, st *store.Store) ([]advisor.Session, bool) {
	client := newAdvisorClient()

	sessions, err := client.ListSessions(ctx)
	if err == nil {
		if st != nil {
			if cacheErr := st.CacheSessions(sessions, store.DefaultCacheTTL); cacheErr != nil {
				slog.Warn("session cache refresh failed", "error", cacheErr)
			}
		}
		return sessions, false
	}

	slog.Warn("session list fetch failed", "error", err)
	if st == nil {
		return nil, true
	}
	cached, cacheErr := st.CachedSessions()
	if cacheErr != nil {
		if !errors.Is(cacheErr, store.ErrNotCached) {
			slog.Warn("session cache read failed", "error", cacheErr)
		}
		return nil, true
	}
	return cached, true
}

// printSessionRow renders one session line per personality level.
func printSessionRow(s advisor.Session) {
	p := ux.GetPersonality()
	switch p.Level {
	case ux.PersonalityMachine:
		fmt.Printf("SESSION: id=%s title=%q slots=%d pinned=%v archived=%v updated=%d\n",
			s.SessionID, s.Title, s.SlotCount, s.Pinned, s.Archived, s.UpdatedAt.Unix())
	default:
		marker := " "
		if s.Pinned {
			marker = string(ux.IconPin)
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		suffix := ""
		if s.Archived {
			suffix = "  [archived]"
		}
		fmt.Printf("%s %-14s %-40s %s%s\n", marker, s.SessionID, title, ux.RelativeTime(s.UpdatedAt.UnixMilli()), suffix)
	}
}

// runShowSession prints a session's profile and transcript, from cache
// when offline.
func runShowSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st := openLocalStore()
	defer closeStore(st)

	client := newAdvisorClient()
	ui := ux.NewChatUI()

	session, err := client.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			log.Fatalf("Session %s does not exist.", sessionID)
		}
		showCachedSession(st, ui, sessionID, err)
		return
	}

	printSessionDetail(session)

	messages, err := client.ListMessages(ctx, sessionID)
	if err != nil {
		slog.Warn("transcript fetch failed", "session_id", sessionID, "error", err)
		return
	}
	if st != nil {
		if err := st.CacheTranscript(sessionID, messages, store.DefaultCacheTTL); err != nil {
			slog.Warn("transcript cache refresh failed", "error", err)
		}
	}
	printTranscript(ui, messages)
}

// showCachedSession is the offline path of `sessions show`.
func showCachedSession(st *store.Store, ui ux.ChatUI, sessionID string, fetchErr error) {
	ux.Warning("Advisor unreachable; showing cached transcript.")
	slog.Warn("session fetch failed", "session_id", sessionID, "error", fetchErr)

	if st == nil {
		log.Fatalf("No local cache available.")
	}
	messages, err := st.CachedTranscript(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotCached) {
			log.Fatalf("No cached transcript for %s.", sessionID)
		}
		log.Fatalf("Error reading cached transcript: %v", err)
	}
	printTranscript(ui, messages)
}

// printSessionDetail renders the session header and its profile values.
func printSessionDetail(s *advisor.Session) {
	p := ux.GetPersonality()
	if p.Level == ux.PersonalityMachine {
		fmt.Printf("SESSION: id=%s title=%q language=%s slots=%d pinned=%v archived=%v\n",
			s.SessionID, s.Title, s.Language, len(s.Slots), s.Pinned, s.Archived)
		for name, value := range s.Slots {
			fmt.Printf("SLOT: name=%s value=%q\n", name, value)
		}
		return
	}

	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	ux.Title(title)
	fmt.Printf("Session: %s\nUpdated: %s\n", s.SessionID, ux.RelativeTime(s.UpdatedAt.UnixMilli()))
	if len(s.Slots) > 0 {
		fmt.Println("Profile:")
		for name, value := range s.Slots {
			fmt.Printf("  %s: %s\n", name, value)
		}
	}
	fmt.Println()
}

// printTranscript replays stored messages through the chat UI.
func printTranscript(ui ux.ChatUI, messages []advisor.Message) {
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			fmt.Printf("%s%s\n", ui.Prompt(), msg.Content)
		case "assistant":
			ui.Response(msg.Content)
			if len(msg.Citations) > 0 {
				ui.Citations(msg.Citations)
			}
		}
	}
}

// runRenameSession sets a session's title.
func runRenameSession(cmd *cobra.Command, args []string) {
	sessionID, title := args[0], args[1]
	patchSession(sessionID, advisor.SessionPatch{Title: &title},
		fmt.Sprintf("Renamed %s to %q", sessionID, title))
}

// runPinSession pins (or unpins with --unpin) a session.
func runPinSession(cmd *cobra.Command, args []string) {
	unpin, _ := cmd.Flags().GetBool("unpin")
	pinned := !unpin
	verb := "Pinned"
	if unpin {
		verb = "Unpinned"
	}
	patchSession(args[0], advisor.SessionPatch{Pinned: &pinned},
		fmt.Sprintf("%s %s", verb, args[0]))
}

// runArchiveSession archives (or restores with --restore) a session.
func runArchiveSession(cmd *cobra.Command, args []string) {
	restore, _ := cmd.Flags().GetBool("restore")
	archived := !restore
	verb := "Archived"
	if restore {
		verb = "Restored"
	}
	patchSession(args[0], advisor.SessionPatch{Archived: &archived},
		fmt.Sprintf("%s %s", verb, args[0]))
}

// patchSession applies a sparse metadata update. The session cache is
// refreshed wholesale by the next online listing, not patched here.
func patchSession(sessionID string, patch advisor.SessionPatch, successMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newAdvisorClient()
	if _, err := client.PatchSession(ctx, sessionID, patch); err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			log.Fatalf("Session %s does not exist.", sessionID)
		}
		log.Fatalf("Error updating session: %v", err)
	}

	ux.Success(successMsg)
}

// runDeleteSession removes a session server-side and from the cache.
func runDeleteSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newAdvisorClient()
	if err := client.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			ux.Info(fmt.Sprintf("Session %s was already gone.", sessionID))
		} else {
			log.Fatalf("Error deleting session: %v", err)
		}
	}

	st := openLocalStore()
	defer closeStore(st)
	if st != nil {
		if err := st.DropCachedSession(sessionID); err != nil {
			slog.Warn("session cache cleanup failed", "error", err)
		}
	}

	ux.Success(fmt.Sprintf("Deleted %s", sessionID))
}
