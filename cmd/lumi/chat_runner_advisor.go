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
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/answer"
	"github.com/AleutianAI/LumiAdvisor/pkg/attach"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/pkg/store"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
)

// chatHelpText lists the slash commands the REPL understands.
const chatHelpText = `Commands:
  /slots      Show the student profile panel
  /slots set <name> <value>   Fill one profile field
  /slots reset <name> [...]   Clear profile fields
  /profile    Alias for /slots
  /attach     List tracked attachments
  /attach <path>  Upload a file and attach it to your next question
  /session    Show the current session id
  /dismiss    Hide the current profile hint
  /stop       Stop the in-flight answer
  /help       Show this help
  /exit       End the session (also: exit, quit, Ctrl+D)`

// =============================================================================
// Configuration
// =============================================================================

// AdvisorChatRunnerConfig holds configuration for creating an
// AdvisorChatRunner. Service is required; everything else has defaults.
type AdvisorChatRunnerConfig struct {
	Service       ChatService      // streaming turn engine (required)
	UI            ux.ChatUI        // chat chrome renderer (optional)
	Input         InputReader      // input source (optional)
	Pipeline      *attach.Pipeline // attachment queue for /attach (optional)
	Store         *store.Store     // transcript cache written on shutdown (optional)
	SessionID     string           // session to resume (optional)
	Language      string           // answer language for the header (optional)
	ServerVersion string           // advisor version for the header (optional)
	Writer        io.Writer        // prompt echo and help output (optional)
	Logger        *slog.Logger     // defaults to slog.Default()

	// LoadTranscript fetches a session's messages for the shutdown
	// cache. Optional; nil disables transcript caching.
	LoadTranscript func(ctx context.Context, sessionID string) ([]advisor.Message, error)
}

// =============================================================================
// Runner
// =============================================================================

// AdvisorChatRunner implements ChatRunner for advising sessions.
//
// # Description
//
// AdvisorChatRunner drives the interactive loop: coaching banner, prompt,
// slash commands, one streamed turn per question, and a stats-rich session
// end. The heavy lifting of a turn lives in ChatService; the runner owns
// pacing, input, and the session-scope bookkeeping (stats, transcript
// cache).
//
// # Thread Safety
//
// Run owns its goroutine. Close may be called concurrently during
// shutdown.
type AdvisorChatRunner struct {
	service        ChatService
	ui             ux.ChatUI
	input          InputReader
	pipeline       *attach.Pipeline
	cache          *store.Store
	logger         *slog.Logger
	writer         io.Writer
	language       string
	serverVersion  string
	loadTranscript func(ctx context.Context, sessionID string) ([]advisor.Message, error)

	initialSessionID string
	sessionStart     time.Time
	stats            ux.SessionStats
	uniqueDocs       map[string]struct{}

	mu     sync.Mutex
	closed bool
}

// NewAdvisorChatRunner creates a runner from config.
func NewAdvisorChatRunner(cfg AdvisorChatRunnerConfig) (*AdvisorChatRunner, error) {
	if cfg.Service == nil {
		return nil, errors.New("chat runner requires a service")
	}

	ui := cfg.UI
	if ui == nil {
		ui = ux.NewChatUI()
	}
	input := cfg.Input
	if input == nil {
		input = NewInteractiveInputReader(50)
	}
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AdvisorChatRunner{
		service:          cfg.Service,
		ui:               ui,
		input:            input,
		pipeline:         cfg.Pipeline,
		cache:            cfg.Store,
		logger:           logger,
		writer:           writer,
		language:         cfg.Language,
		serverVersion:    cfg.ServerVersion,
		loadTranscript:   cfg.LoadTranscript,
		initialSessionID: cfg.SessionID,
		uniqueDocs:       make(map[string]struct{}),
	}, nil
}

// Run implements ChatRunner.
func (r *AdvisorChatRunner) Run(ctx context.Context) error {
	r.sessionStart = time.Now()

	if r.initialSessionID != "" {
		r.resume(ctx)
	}

	r.displayHeader()
	r.displayCoaching()

	for {
		select {
		case <-ctx.Done():
			return r.handleShutdown(ctx)
		default:
		}

		if pr, ok := r.input.(PromptingInputReader); ok {
			pr.SetPrompt(r.ui.Prompt())
		} else {
			fmt.Fprint(r.writer, r.ui.Prompt())
		}

		input, err := r.input.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.displaySessionEnd()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}

		// Bubbletea clears its render area on quit, so echo the line
		// back for the scrollback.
		if _, ok := r.input.(*InteractiveInputReader); ok {
			fmt.Fprintf(r.writer, "%s%s\n", r.ui.Prompt(), input)
		}

		if isExitCommand(input) {
			r.displaySessionEnd()
			return nil
		}

		if isSlashCommand(input) {
			if done := r.handleSlash(ctx, input); done {
				r.displaySessionEnd()
				return nil
			}
			continue
		}

		if err := r.handleMessage(ctx, input); err != nil {
			return r.handleShutdown(ctx)
		}

		r.displayCoaching()
	}
}

// resume loads the requested session. A stale id resets to a fresh
// session instead of failing the command.
func (r *AdvisorChatRunner) resume(ctx context.Context) {
	session, messages, err := r.service.ResumeSession(ctx, r.initialSessionID)
	if err != nil {
		if errors.Is(err, advisor.ErrSessionNotFound) {
			r.ui.Error(fmt.Errorf("session %s no longer exists, starting fresh", r.initialSessionID))
			return
		}
		r.ui.Error(fmt.Errorf("resume session: %w", err))
		return
	}

	turns := 0
	for _, msg := range messages {
		if msg.Role == "user" {
			turns++
		}
	}
	r.ui.SessionResume(session.SessionID, turns)

	// Replay the last exchange so the user sees where they left off.
	if last := lastAssistantMessage(messages); last != nil {
		r.ui.Response(last.Content)
		if len(last.Citations) > 0 {
			r.ui.Citations(last.Citations)
		}
	}
}

// displayHeader renders the session banner with profile progress.
func (r *AdvisorChatRunner) displayHeader() {
	filled, required := profileProgress(r.service.Machine())
	r.ui.Header(ux.HeaderConfig{
		SessionID:     r.service.GetSessionID(),
		Language:      r.language,
		ServerVersion: r.serverVersion,
		SlotsFilled:   filled,
		SlotsRequired: required,
	})
}

// displayCoaching shows the nudge toward the next unfilled required slot.
func (r *AdvisorChatRunner) displayCoaching() {
	m := r.service.Machine()
	if m == nil {
		return
	}
	if c, ok := m.Coaching(); ok {
		r.ui.Coaching(c)
	}
}

// handleSlash dispatches a slash command. Returns true when the command
// ends the session.
func (r *AdvisorChatRunner) handleSlash(ctx context.Context, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Fprintln(r.writer, chatHelpText)

	case "/slots", "/profile":
		r.handleSlots(ctx, arg)

	case "/dismiss":
		if m := r.service.Machine(); m != nil {
			m.DismissCoaching()
		}

	case "/session", "/sessions":
		id := r.service.GetSessionID()
		if id == "" {
			fmt.Fprintln(r.writer, "No session yet. Ask a question to start one.")
		} else {
			fmt.Fprintf(r.writer, "Session: %s\n", id)
		}

	case "/stop":
		if !r.service.Stop() {
			fmt.Fprintln(r.writer, "Nothing to stop.")
		}

	case "/attach":
		r.handleAttach(ctx, arg)

	default:
		r.ui.Error(fmt.Errorf("unknown command %s (try /help)", cmd))
	}
	return false
}

// handleSlots shows the profile panel, or edits it in place:
//
//	/slots                       show the panel
//	/slots set <name> <value>    set one field
//	/slots reset <name> [...]    clear fields
func (r *AdvisorChatRunner) handleSlots(ctx context.Context, arg string) {
	m := r.service.Machine()
	if m == nil {
		r.ui.Error(errors.New("no profile in this session"))
		return
	}

	if arg == "" {
		r.ui.SlotPanel(m.Catalog(), m.Panel())
		return
	}

	verb, rest, _ := strings.Cut(arg, " ")
	rest = strings.TrimSpace(rest)

	var diff slots.Diff
	switch verb {
	case "set":
		name, value, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(value) == "" {
			r.ui.Error(errors.New("usage: /slots set <name> <value>"))
			return
		}
		diff = slots.Diff{Values: map[string]string{name: strings.TrimSpace(value)}}

	case "reset":
		if rest == "" {
			r.ui.Error(errors.New("usage: /slots reset <name> [name...]"))
			return
		}
		diff = slots.Diff{Resets: strings.Fields(rest)}

	default:
		r.ui.Error(fmt.Errorf("unknown subcommand %q (try /slots, /slots set, /slots reset)", verb))
		return
	}

	if err := r.service.UpdateSlots(ctx, diff); err != nil {
		if errors.Is(err, errSlotValidation) {
			// The machine holds the per-field messages now.
			r.ui.SlotPanel(m.Catalog(), m.Panel())
			return
		}
		r.ui.Error(err)
		return
	}
	r.ui.SlotPanel(m.Catalog(), m.Panel())
}

// handleAttach queues a file, or lists the queue when no path is given.
func (r *AdvisorChatRunner) handleAttach(ctx context.Context, path string) {
	if r.pipeline == nil {
		r.ui.Error(errors.New("attachments are not available in this session"))
		return
	}

	if path == "" {
		items := r.pipeline.Snapshot()
		if len(items) == 0 {
			fmt.Fprintln(r.writer, "No attachments queued.")
			return
		}
		ready, failed := 0, 0
		for _, item := range items {
			ux.FileStatus(item.Filename, attachmentIcon(item.Status), attachmentReason(item))
			switch item.Status {
			case attach.StatusReady:
				ready++
			case attach.StatusError:
				failed++
			}
		}
		ux.Summary(ready, failed, len(items))
		return
	}

	item, err := r.pipeline.QueueFile(ctx, path, attach.QueueOptions{Purpose: "chat"})
	if err != nil {
		r.ui.Error(fmt.Errorf("attach %s: %w", path, err))
		return
	}
	fmt.Fprintf(r.writer, "Queued %s. Ready attachments ride along on your next question.\n", item.Filename)
}

// handleMessage runs one streamed turn. The stream renderer inside the
// service displays everything, including failures; the only error that
// propagates is shutdown.
func (r *AdvisorChatRunner) handleMessage(ctx context.Context, input string) error {
	var attachments []string
	if r.pipeline != nil {
		attachments = r.pipeline.ConsumeReady()
	}

	outcome, err := r.service.SendMessage(ctx, input, attachments)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		r.logger.Warn("turn did not complete", "error", err)
	}

	r.accumulateStats(outcome)
	return nil
}

// accumulateStats folds one turn's outcome into the session stats.
func (r *AdvisorChatRunner) accumulateStats(outcome answer.Outcome) {
	r.stats.MessageCount++
	r.stats.TotalChunks += outcome.Answer.TotalChunks

	for _, c := range outcome.Answer.Citations {
		key := c.DocID
		if key == "" {
			key = c.ChunkID
		}
		if key == "" {
			continue
		}
		if _, seen := r.uniqueDocs[key]; !seen {
			r.uniqueDocs[key] = struct{}{}
			r.stats.CitationsSeen++
		}
	}

	// First response latency comes from the first turn that streamed.
	if r.stats.FirstResponseLatency == 0 &&
		outcome.Answer.FirstChunkAt > outcome.Answer.StartedAt &&
		outcome.Answer.StartedAt > 0 {
		r.stats.FirstResponseLatency = time.Duration(outcome.Answer.FirstChunkAt-outcome.Answer.StartedAt) * time.Millisecond
	}
}

// displaySessionEnd shows the end-of-session summary.
func (r *AdvisorChatRunner) displaySessionEnd() {
	sessionID := r.service.GetSessionID()

	if r.stats.MessageCount == 0 {
		r.ui.SessionEnd(sessionID)
		return
	}

	stats := r.stats
	stats.Duration = time.Since(r.sessionStart)
	stats.SlotsFilled, stats.SlotsRequired = profileProgress(r.service.Machine())
	r.ui.SessionEndRich(sessionID, &stats)
}

// handleShutdown runs the bounded cleanup path when the context dies:
// log the resume hint and cache the transcript best-effort.
func (r *AdvisorChatRunner) handleShutdown(ctx context.Context) error {
	sessionID := r.service.GetSessionID()
	r.logger.Info("chat session interrupted",
		"session_id", sessionID,
		"messages", r.stats.MessageCount,
	)

	if sessionID != "" {
		r.logger.Info("resume this conversation with: lumi chat --resume " + sessionID)
		r.cacheTranscript(sessionID)
	}

	r.displaySessionEnd()
	return ctx.Err()
}

// cacheTranscript stores the transcript locally so `sessions show` works
// offline. Best-effort with its own deadline; shutdown never blocks on it.
func (r *AdvisorChatRunner) cacheTranscript(sessionID string) {
	if r.cache == nil || r.loadTranscript == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := r.loadTranscript(saveCtx, sessionID)
	if err != nil {
		r.logger.Warn("transcript cache skipped", "session_id", sessionID, "error", err)
		return
	}
	if err := r.cache.CacheTranscript(sessionID, messages, store.DefaultCacheTTL); err != nil {
		r.logger.Warn("transcript cache failed", "session_id", sessionID, "error", err)
	}
}

// Close implements ChatRunner. Idempotent.
func (r *AdvisorChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.service.Close()
}

// =============================================================================
// Helpers
// =============================================================================

// profileProgress counts required slots and how many hold a value.
func profileProgress(m *slots.Machine) (filled, required int) {
	if m == nil {
		return 0, 0
	}
	values := m.Values()
	for _, def := range m.Catalog().Definitions() {
		if !def.Required {
			continue
		}
		required++
		if values[def.Name] != "" {
			filled++
		}
	}
	return filled, required
}

// lastAssistantMessage returns the newest assistant entry, or nil.
func lastAssistantMessage(messages []advisor.Message) *advisor.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			return &messages[i]
		}
	}
	return nil
}

// attachmentIcon maps a queue status to its display icon.
func attachmentIcon(status attach.Status) ux.Icon {
	switch status {
	case attach.StatusReady:
		return ux.IconSuccess
	case attach.StatusError:
		return ux.IconError
	case attach.StatusUploading, attach.StatusIndexing:
		return ux.IconArrow
	default:
		return ux.IconPending
	}
}

// attachmentReason is the secondary text for an attachment row.
func attachmentReason(item attach.PendingAttachment) string {
	if item.Error != "" {
		return item.Error
	}
	return string(item.Status)
}
