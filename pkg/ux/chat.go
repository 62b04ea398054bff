// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
)

// HeaderConfig contains configuration for displaying the chat header.
//
// # Description
//
// HeaderConfig groups all optional parameters for the chat header display.
// This allows extending the header with new fields without breaking existing
// callers of the Header() method.
//
// # Fields
//
//   - SessionID: Session identifier for resume. May be empty for new sessions.
//   - Language: Conversation language code (e.g., "en", "zh"). Empty means "en".
//   - ServerVersion: Advisor server version from the health check. May be empty
//     when the server was unreachable at startup.
//   - SlotsFilled: Number of profile slots that currently hold a value.
//   - SlotsRequired: Number of required slots in the catalog.
type HeaderConfig struct {
	SessionID     string
	Language      string
	ServerVersion string
	SlotsFilled   int
	SlotsRequired int
}

// SessionStats aggregates metrics from a chat session for display.
//
// # Description
//
// SessionStats captures accumulated metrics across all exchanges in a
// chat session. It's designed to be displayed when the session ends,
// giving users visibility into their session's usage.
//
// # Fields
//
//   - MessageCount: Number of user messages sent
//   - TotalChunks: Total answer chunks streamed across all responses
//   - CitationsSeen: Number of citations received across all responses
//   - SlotsFilled: Profile slots holding a value when the session ended
//   - SlotsRequired: Required slots in the catalog
//   - Duration: Total session duration
//   - FirstResponseLatency: Time to first chunk of the first response
type SessionStats struct {
	MessageCount         int
	TotalChunks          int
	CitationsSeen        int
	SlotsFilled          int
	SlotsRequired        int
	Duration             time.Duration
	FirstResponseLatency time.Duration
}

// ChatUI defines the interface for chat user interface operations.
// Implementations handle rendering chat elements to different outputs.
type ChatUI interface {
	// Header displays the chat session header with session and profile state.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Response displays a full assistant answer (history replay)
	Response(answer string)

	// Citations displays the citations behind an answer
	Citations(citations []wire.Citation)

	// NoCitations displays a message when an answer carried no citations
	NoCitations()

	// Diagnostics displays retrieval/generation telemetry for an answer
	Diagnostics(d *wire.Diagnostics)

	// Coaching displays the nudge toward the next unfilled required slot
	Coaching(c slots.Coaching)

	// SlotPanel displays the full profile slot table
	SlotPanel(catalog *slots.Catalog, panel slots.PanelState)

	// Error displays a chat error message
	Error(err error)

	// SessionResume displays session resume information
	SessionResume(sessionID string, turnCount int)

	// SessionEnd displays session end information
	SessionEnd(sessionID string)

	// SessionEndRich displays rich session end information with stats.
	//
	// This is the "maximalist" session end experience, showing:
	//   - Session ID with copy hint
	//   - Session statistics (messages, chunks, citations, duration)
	//   - Profile completeness
	//   - Commands for resuming the session later
	//
	// Use this instead of SessionEnd when you have accumulated stats.
	SessionEndRich(sessionID string, stats *SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output and handles errors.
// Errors are silently ignored as there's no meaningful recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

// writeln is a helper that writes a line and handles errors.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

// NewChatUI creates a new terminal-based ChatUI
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// Header displays the chat session header.
//
// # Description
//
// Renders the chat header box with session, language, server version and
// profile completeness. Adapts output based on personality level.
//
// # Inputs
//
//   - config: HeaderConfig with sessionID, language, server version, slots
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) Header(config HeaderConfig) {
	if u.personality == PersonalityMachine {
		u.headerMachine(config)
		return
	}

	if u.personality == PersonalityMinimal {
		u.headerMinimal(config)
		return
	}

	u.headerFull(config)
}

// headerMachine renders the header in machine-readable format.
func (u *terminalChatUI) headerMachine(config HeaderConfig) {
	parts := []string{"mode=advisor"}
	if config.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", config.SessionID))
	}
	if config.Language != "" {
		parts = append(parts, fmt.Sprintf("language=%s", config.Language))
	}
	if config.ServerVersion != "" {
		parts = append(parts, fmt.Sprintf("server=%s", config.ServerVersion))
	}
	if config.SlotsRequired > 0 {
		parts = append(parts, fmt.Sprintf("slots=%d/%d", config.SlotsFilled, config.SlotsRequired))
	}
	u.write("CHAT_START: %s\n", strings.Join(parts, " "))
}

// headerMinimal renders the header in minimal format.
func (u *terminalChatUI) headerMinimal(config HeaderConfig) {
	u.writeln("Lumi Study Abroad Advisor")
	if config.SessionID != "" {
		u.write("Session: %s\n", config.SessionID)
	}
	if config.Language != "" {
		u.write("Language: %s\n", config.Language)
	}
	if config.SlotsRequired > 0 {
		u.write("Profile: %d/%d slots filled\n", config.SlotsFilled, config.SlotsRequired)
	}
	u.writeln("Type 'exit' to end.")
}

// headerFull renders the header with full styling.
func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	content.WriteString(Styles.Highlight.Render("Lumi — Study Abroad Advisor"))

	if config.Language != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Language: %s", Styles.Success.Render(config.Language)))
	}

	if config.SlotsRequired > 0 {
		if config.Language != "" {
			content.WriteString(" | ")
		} else {
			content.WriteString("\n")
		}
		content.WriteString(fmt.Sprintf("Profile: %s",
			Styles.Success.Render(fmt.Sprintf("%d/%d", config.SlotsFilled, config.SlotsRequired))))
	}

	if config.ServerVersion != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Server: %s", Styles.Muted.Render(config.ServerVersion)))
	}

	if config.SessionID != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Session: %s", Styles.Muted.Render(config.SessionID)))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end, '/help' for commands."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Response displays a full assistant answer
func (u *terminalChatUI) Response(answer string) {
	if u.personality == PersonalityMachine {
		u.write("RESPONSE: %s\n", answer)
		return
	}
	u.writeln()
	u.writeln(answer)
}

// Citations displays the citations behind an answer
func (u *terminalChatUI) Citations(citations []wire.Citation) {
	if len(citations) == 0 {
		return
	}

	if u.personality == PersonalityMachine {
		for _, c := range citations {
			u.write("CITATION: %s score=%.4f doc=%s\n", citationLabel(c), c.Score, c.DocID)
		}
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		u.writeln("Citations:")
		for i, c := range citations {
			u.write("  %d. %s\n", i+1, citationLabel(c))
		}
		return
	}

	// Full personality with styled box
	var content strings.Builder
	for i, c := range citations {
		scoreInfo := ""
		if c.Score != 0 {
			scoreInfo = Styles.Muted.Render(fmt.Sprintf(" (%.2f)", c.Score))
		}
		content.WriteString(fmt.Sprintf("%d. %s%s", i+1, citationLabel(c), scoreInfo))
		if c.Snippet != "" {
			content.WriteString("\n")
			content.WriteString(Styles.Muted.Render("   " + truncateSnippet(c.Snippet, 70)))
		}
		if i < len(citations)-1 {
			content.WriteString("\n")
		}
	}

	boxStyle := Styles.InfoBox.Width(76)
	titleLine := Styles.Subtitle.Render("Citations")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// NoCitations displays a message when an answer carried no citations
func (u *terminalChatUI) NoCitations() {
	if u.personality == PersonalityMachine {
		u.writeln("CITATIONS: none")
		return
	}
	if u.personality != PersonalityMinimal {
		u.writeln(Styles.Muted.Render("(No citations for this answer)"))
	}
}

// Diagnostics displays retrieval/generation telemetry for an answer
func (u *terminalChatUI) Diagnostics(d *wire.Diagnostics) {
	if d == nil {
		return
	}

	if u.personality == PersonalityMachine {
		u.write("DIAG: retrieval_ms=%.0f rerank_ms=%.0f generation_ms=%.0f end_to_end_ms=%.0f low_confidence=%v coverage=%.2f\n",
			d.RetrievalMs, d.RerankMs, d.GenerationMs, d.EndToEndMs, d.LowConfidence, d.CitationCoverage)
		if d.ReviewSuggested {
			u.write("DIAG_REVIEW: %s\n", d.ReviewReason)
		}
		return
	}

	var parts []string
	if d.RetrievalMs > 0 {
		parts = append(parts, fmt.Sprintf("retrieval %.0fms", d.RetrievalMs))
	}
	if d.RerankMs > 0 {
		parts = append(parts, fmt.Sprintf("rerank %.0fms", d.RerankMs))
	}
	if d.GenerationMs > 0 {
		parts = append(parts, fmt.Sprintf("generation %.0fms", d.GenerationMs))
	}
	if d.EndToEndMs > 0 {
		parts = append(parts, fmt.Sprintf("total %.0fms", d.EndToEndMs))
	}
	if d.CitationCoverage > 0 {
		parts = append(parts, fmt.Sprintf("coverage %.0f%%", d.CitationCoverage*100))
	}
	if len(parts) > 0 {
		u.writeln(Styles.Muted.Render(strings.Join(parts, " · ")))
	}

	if d.LowConfidence || d.ReviewSuggested {
		reason := d.ReviewReason
		if reason == "" {
			reason = "low confidence answer, please verify independently"
		}
		u.write("%s %s\n", IconWarning.Render(), Styles.Warning.Render(reason))
	}
}

// Coaching displays the nudge toward the next unfilled required slot
func (u *terminalChatUI) Coaching(c slots.Coaching) {
	if u.personality == PersonalityMachine {
		u.write("COACH: slot=%s prompt=%s\n", c.Slot, c.Prompt)
		return
	}

	if u.personality == PersonalityMinimal {
		u.write("Lumi needs: %s — %s\n", c.Slot, c.Prompt)
		return
	}

	var content strings.Builder
	content.WriteString(Styles.Bold.Render(c.Prompt))
	content.WriteString("\n")
	content.WriteString(Styles.Muted.Render(
		fmt.Sprintf("(answer inline, '/slots set %s <value>' to fill, '/dismiss' to hide)", c.Slot)))

	boxStyle := Styles.WarningBox.Width(60)
	titleLine := Styles.Warning.Bold(true).Render("One more detail")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// SlotPanel displays the full profile slot table
func (u *terminalChatUI) SlotPanel(catalog *slots.Catalog, panel slots.PanelState) {
	if catalog == nil {
		return
	}

	missing := make(map[string]bool, len(panel.MissingSlots))
	for _, name := range panel.MissingSlots {
		missing[name] = true
	}

	if u.personality == PersonalityMachine {
		for _, def := range catalog.Definitions() {
			u.write("SLOT: name=%s value=%q required=%v missing=%v error=%q\n",
				def.Name, panel.Values[def.Name], def.Required,
				missing[def.Name], panel.SlotErrors[def.Name])
		}
		return
	}

	var content strings.Builder
	for i, def := range catalog.Definitions() {
		marker := " "
		if def.Required {
			marker = "*"
		}

		value := panel.Values[def.Name]
		var valueText string
		switch {
		case panel.SlotErrors[def.Name] != "":
			valueText = Styles.Error.Render(fmt.Sprintf("%s — %s", orBlank(value), panel.SlotErrors[def.Name]))
		case missing[def.Name]:
			valueText = Styles.Warning.Render("(missing)")
		case value == "":
			valueText = Styles.Muted.Render("—")
		default:
			valueText = Styles.Success.Render(value)
		}

		content.WriteString(fmt.Sprintf("%s %-18s %s", marker, def.Name, valueText))
		if i < catalog.Len()-1 {
			content.WriteString("\n")
		}
	}

	if len(panel.SlotSuggestions) > 0 {
		content.WriteString("\n\n")
		content.WriteString(Styles.Muted.Render("Suggested next: " + strings.Join(panel.SlotSuggestions, ", ")))
	}

	if u.personality == PersonalityMinimal {
		u.writeln(content.String())
		return
	}

	boxStyle := Styles.InfoBox.Width(64)
	titleLine := Styles.Subtitle.Render("Student Profile")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

// SessionResume displays session resume information
func (u *terminalChatUI) SessionResume(sessionID string, turnCount int) {
	if u.personality == PersonalityMachine {
		u.write("SESSION_RESUME: session=%s turns=%d\n", sessionID, turnCount)
		return
	}
	u.write("%s %s\n", IconSuccess.Render(),
		Styles.Success.Render(fmt.Sprintf("Resumed session %s (%d previous turns)", sessionID, turnCount)))
}

// SessionEnd displays session end information.
//
// # Description
//
// Displays a simple goodbye message with the session ID. For a richer
// experience with statistics and next steps, use SessionEndRich instead.
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SessionEnd(sessionID string) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_END: session=%s\n", sessionID)
		return
	}
	if sessionID != "" {
		u.writeln(Styles.Muted.Render(fmt.Sprintf("Session: %s", sessionID)))
	}
	u.writeln("Goodbye!")
}

// SessionEndRich displays rich session end information with statistics.
//
// # Description
//
// Displays a comprehensive session summary including:
//   - Session ID with visual prominence
//   - Session statistics (messages, chunks, citations, duration)
//   - Profile completeness
//   - Commands for resuming the session later
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//   - stats: Session statistics. If nil, falls back to SessionEnd behavior.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SessionEndRich(sessionID string, stats *SessionStats) {
	// Fall back to simple end if no stats
	if stats == nil {
		u.SessionEnd(sessionID)
		return
	}

	if u.personality == PersonalityMachine {
		u.sessionEndRichMachine(sessionID, stats)
		return
	}

	if u.personality == PersonalityMinimal {
		u.sessionEndRichMinimal(sessionID, stats)
		return
	}

	u.sessionEndRichFull(sessionID, stats)
}

// sessionEndRichMachine renders session end in machine-readable format.
func (u *terminalChatUI) sessionEndRichMachine(sessionID string, stats *SessionStats) {
	u.write("CHAT_END: session=%s messages=%d chunks=%d citations=%d duration=%s\n",
		sessionID, stats.MessageCount, stats.TotalChunks, stats.CitationsSeen,
		stats.Duration.Round(time.Millisecond))
}

// sessionEndRichMinimal renders session end in minimal format.
func (u *terminalChatUI) sessionEndRichMinimal(sessionID string, stats *SessionStats) {
	u.writeln()
	if sessionID != "" {
		u.write("Session: %s\n", sessionID)
	}
	u.write("Messages: %d | Citations: %d | Duration: %s\n",
		stats.MessageCount, stats.CitationsSeen, formatDuration(stats.Duration))
	u.writeln("Goodbye!")
}

// sessionEndRichFull renders session end with full styling.
func (u *terminalChatUI) sessionEndRichFull(sessionID string, stats *SessionStats) {
	u.writeln()

	var content strings.Builder

	// Session section
	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")

	// Session ID with visual prominence
	if sessionID != "" {
		content.WriteString(fmt.Sprintf("  %s  %s\n",
			Styles.Muted.Render("ID:"),
			Styles.Highlight.Render(sessionID)))
	}

	// Stats section
	content.WriteString("\n")
	content.WriteString(Styles.Subtitle.Render("Statistics"))
	content.WriteString("\n\n")

	// Core metrics with icons
	content.WriteString(fmt.Sprintf("  %s  %d messages exchanged\n",
		IconChat.Render(), stats.MessageCount))
	content.WriteString(fmt.Sprintf("  %s  %d answer chunks streamed\n",
		IconInfo.Render(), stats.TotalChunks))

	// Citations (conditional)
	if stats.CitationsSeen > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d citations referenced\n",
			IconDocument.Render(), stats.CitationsSeen))
	}

	// Profile completeness (conditional)
	if stats.SlotsRequired > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d/%d profile slots filled\n",
			IconGlobe.Render(), stats.SlotsFilled, stats.SlotsRequired))
	}

	// Duration
	content.WriteString(fmt.Sprintf("  %s  %s session duration\n",
		IconTime.Render(), formatDuration(stats.Duration)))

	// Performance metrics (conditional)
	if stats.FirstResponseLatency > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s time to first response\n",
			Styles.Muted.Render("⚡"), formatDuration(stats.FirstResponseLatency)))
	}

	// Next steps section (only if session ID available)
	if sessionID != "" {
		content.WriteString("\n")
		content.WriteString(Styles.Subtitle.Render("Continue Later"))
		content.WriteString("\n\n")
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Muted.Render("Resume this session:")))
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Success.Render(fmt.Sprintf("lumi chat --resume %s", sessionID))))
	}

	// Render the styled box
	// Width 68 accommodates the resume command (18 chars + 36 char UUID + padding)
	boxStyle := Styles.Box.Width(68)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Goodbye! 👋"))
}

// citationLabel picks the most human-readable identifier a citation carries.
func citationLabel(c wire.Citation) string {
	if c.SourceName != "" {
		return c.SourceName
	}
	if c.URL != "" {
		return c.URL
	}
	if c.DocID != "" {
		return c.DocID
	}
	return c.ChunkID
}

// truncateSnippet shortens a snippet for single-line display.
func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func orBlank(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}

// formatDuration formats a duration for human-readable display.
//
// # Description
//
// Converts a time.Duration to a human-friendly string representation.
// Adapts the format based on the magnitude of the duration.
//
// # Inputs
//
//   - d: The duration to format.
//
// # Outputs
//
//   - string: Formatted duration string.
//
// # Examples
//
//	formatDuration(500*time.Millisecond) // "500ms"
//	formatDuration(5*time.Second)        // "5.0s"
//	formatDuration(90*time.Second)       // "1m 30s"
//	formatDuration(2*time.Hour)          // "2h 0m"
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// RelativeTime converts a Unix milliseconds timestamp to a relative time string.
//
// # Description
//
// Converts a timestamp to a human-friendly relative time like "2h ago",
// "3 days ago", etc. Adapts the unit based on the time difference.
//
// # Inputs
//
//   - unixMs: Unix timestamp in milliseconds
//
// # Outputs
//
//   - string: Relative time string (e.g., "2h ago", "3 days ago")
//
// # Examples
//
//	RelativeTime(time.Now().Add(-2*time.Hour).UnixMilli()) // "2h ago"
//	RelativeTime(time.Now().Add(-3*24*time.Hour).UnixMilli()) // "3 days ago"
func RelativeTime(unixMs int64) string {
	if unixMs == 0 {
		return "unknown"
	}

	t := time.UnixMilli(unixMs)
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	}
	if diff < 7*24*time.Hour {
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	if diff < 30*24*time.Hour {
		weeks := int(diff.Hours() / (24 * 7))
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	}

	// For older times, show the date
	return t.Format("Jan 2, 2006")
}
