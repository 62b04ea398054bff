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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath       string
	serverURL        string // CLI override for advisor_url
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	chatResume       string
	chatLanguage     string
	chatTopK         int
	chatKCite        int
	explainLikeNew   bool
	slotsSessionID   string
	attachIngest     bool
	attachLanguage   string
	attachRetention  int

	rootCmd = &cobra.Command{
		Use:   "lumi",
		Short: "A cli for the Lumi study-abroad advising assistant",
		Long: `Lumi answers study-abroad questions from a curated knowledge base,
				builds a student profile as you chat, and cites the documents
				behind every answer.`,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive advising session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a single question and prints the cited answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Sessions ---
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage advising sessions",
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List sessions, falling back to the local cache when offline",
		Run:   runListSessions, // Defined in cmd_sessions.go
	}
	showSessionCmd = &cobra.Command{
		Use:   "show [session_id]",
		Short: "Show a session's profile and transcript",
		Args:  cobra.ExactArgs(1),
		Run:   runShowSession, // Defined in cmd_sessions.go
	}
	renameSessionCmd = &cobra.Command{
		Use:   "rename [session_id] [title]",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		Run:   runRenameSession, // Defined in cmd_sessions.go
	}
	pinSessionCmd = &cobra.Command{
		Use:   "pin [session_id]",
		Short: "Pin a session so it sorts first and never expires quietly",
		Args:  cobra.ExactArgs(1),
		Run:   runPinSession, // Defined in cmd_sessions.go
	}
	archiveSessionCmd = &cobra.Command{
		Use:   "archive [session_id]",
		Short: "Archive a session out of the default listing",
		Args:  cobra.ExactArgs(1),
		Run:   runArchiveSession, // Defined in cmd_sessions.go
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session and its transcript from the advisor",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSession, // Defined in cmd_sessions.go
	}

	// --- Profile Slots ---
	slotsCmd = &cobra.Command{
		Use:   "slots",
		Short: "Inspect and edit the student profile slots",
	}
	showSlotsCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the slot catalog, or a session's filled values with --session",
		Run:   runShowSlots, // Defined in cmd_slots.go
	}
	editSlotsCmd = &cobra.Command{
		Use:   "edit",
		Short: "Edit a session's profile in an interactive form",
		Run:   runEditSlots, // Defined in cmd_slots.go
	}
	setSlotCmd = &cobra.Command{
		Use:   "set [name] [value]",
		Short: "Set one profile slot on a session",
		Args:  cobra.ExactArgs(2),
		Run:   runSetSlot, // Defined in cmd_slots.go
	}
	resetSlotsCmd = &cobra.Command{
		Use:   "reset [name...]",
		Short: "Clear profile slots on a session",
		Args:  cobra.MinimumNArgs(1),
		Run:   runResetSlots, // Defined in cmd_slots.go
	}

	// --- Attachments ---
	attachCmd = &cobra.Command{
		Use:   "attach",
		Short: "Upload and track documents for the advisor",
	}
	uploadAttachmentCmd = &cobra.Command{
		Use:   "upload [path...]",
		Short: "Upload files through the attachment pipeline",
		Args:  cobra.MinimumNArgs(1),
		Run:   runUploadAttachment, // Defined in cmd_attach.go
	}
	listAttachmentsCmd = &cobra.Command{
		Use:   "list",
		Short: "List tracked attachments and their states",
		Run:   runListAttachments, // Defined in cmd_attach.go
	}
	watchAttachmentsCmd = &cobra.Command{
		Use:   "watch [directory]",
		Short: "Watch a folder and upload files as they appear",
		Args:  cobra.MaximumNArgs(1),
		Run:   runWatchAttachments, // Defined in cmd_attach.go
	}
	ingestAttachmentCmd = &cobra.Command{
		Use:   "ingest [upload_id]",
		Short: "Index a stored upload into the knowledge base",
		Args:  cobra.ExactArgs(1),
		Run:   runIngestAttachment, // Defined in cmd_attach.go
	}

	// --- Version ---
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print client version and check advisor compatibility",
		Run:   runVersionCommand, // Defined in cmd_version.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (default ~/.lumi/lumi.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Advisor URL, overriding the config file")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")

	// chat commands
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume a session using a specific session ID.")
	chatCmd.Flags().StringVar(&chatLanguage, "language", "", "Answer language: en, zh, or empty for auto")
	chatCmd.Flags().IntVar(&chatTopK, "top-k", 0, "Retrieval depth (0 uses the config value)")
	chatCmd.Flags().IntVar(&chatKCite, "k-cite", 0, "Citations per answer (0 uses the config value)")
	chatCmd.Flags().BoolVar(&explainLikeNew, "explain-new", false, "Explain terms as if new to studying abroad")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&chatLanguage, "language", "", "Answer language: en, zh, or empty for auto")
	askCmd.Flags().IntVar(&chatTopK, "top-k", 0, "Retrieval depth (0 uses the config value)")
	askCmd.Flags().StringVar(&chatResume, "session", "", "Ask within an existing session")

	// session commands
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(listSessionsCmd)
	listSessionsCmd.Flags().Bool("archived", false, "Include archived sessions")
	sessionsCmd.AddCommand(showSessionCmd)
	sessionsCmd.AddCommand(renameSessionCmd)
	sessionsCmd.AddCommand(pinSessionCmd)
	pinSessionCmd.Flags().Bool("unpin", false, "Remove the pin instead")
	sessionsCmd.AddCommand(archiveSessionCmd)
	archiveSessionCmd.Flags().Bool("restore", false, "Unarchive instead")
	sessionsCmd.AddCommand(deleteSessionCmd)

	// slot commands
	rootCmd.AddCommand(slotsCmd)
	slotsCmd.PersistentFlags().StringVar(&slotsSessionID, "session", "", "Session to operate on")
	slotsCmd.AddCommand(showSlotsCmd)
	slotsCmd.AddCommand(editSlotsCmd)
	slotsCmd.AddCommand(setSlotCmd)
	slotsCmd.AddCommand(resetSlotsCmd)

	// attachment commands
	rootCmd.AddCommand(attachCmd)
	attachCmd.AddCommand(uploadAttachmentCmd)
	uploadAttachmentCmd.Flags().BoolVar(&attachIngest, "ingest", false,
		"Also index the upload into the knowledge base (rag purpose)")
	uploadAttachmentCmd.Flags().StringVar(&attachLanguage, "language", "", "Ingest language hint: en, zh, or empty for auto")
	uploadAttachmentCmd.Flags().IntVar(&attachRetention, "retention", 0, "Server retention in days (0 uses the server default)")
	attachCmd.AddCommand(listAttachmentsCmd)
	attachCmd.AddCommand(watchAttachmentsCmd)
	watchAttachmentsCmd.Flags().BoolVar(&attachIngest, "ingest", false,
		"Also index watched files into the knowledge base")
	attachCmd.AddCommand(ingestAttachmentCmd)
	ingestAttachmentCmd.Flags().StringVar(&attachLanguage, "language", "", "Ingest language hint: en, zh, or empty for auto")

	// version
	rootCmd.AddCommand(versionCmd)
}
