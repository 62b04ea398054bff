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
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/answer"
	"github.com/AleutianAI/LumiAdvisor/pkg/attach"
	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
	"github.com/AleutianAI/LumiAdvisor/pkg/store"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
)

// runChatCommand starts the interactive advising REPL.
//
// Ctrl+C mid-stream stops the in-flight answer and keeps the session
// alive; Ctrl+C at the prompt (or a second one) ends the session.
func runChatCommand(cmd *cobra.Command, args []string) {
	client := newAdvisorClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverVersion := checkServer(ctx, client)
	language := effectiveLanguage()

	catalog := loadCatalog(ctx, client, language)
	machine := slots.NewMachine(catalog, language)

	st := openLocalStore()
	defer closeStore(st)

	pipeline := attach.NewPipeline(attach.Config{
		Service: client,
		Store:   storeOrNil(st),
	})
	if st != nil {
		if resumed, err := pipeline.Restore(ctx); err != nil {
			slog.Warn("attachment queue restore failed", "error", err)
		} else if resumed > 0 {
			slog.Info("attachment uploads resumed", "count", resumed)
		}
	}

	service := NewAdvisorChatService(AdvisorChatServiceConfig{
		Client:         client,
		Machine:        machine,
		Language:       language,
		TopK:           effectiveTopK(),
		KCite:          effectiveKCite(),
		ExplainLikeNew: explainLikeNew,
	})

	runner, err := NewAdvisorChatRunner(AdvisorChatRunnerConfig{
		Service:        service,
		Pipeline:       pipeline,
		Store:          st,
		SessionID:      chatResume,
		Language:       language,
		ServerVersion:  serverVersion,
		LoadTranscript: client.ListMessages,
	})
	if err != nil {
		log.Fatalf("Error creating chat runner: %v", err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			slog.Error("failed to close chat runner", "error", err)
		}
	}()

	// First Ctrl+C stops an in-flight stream; when nothing is
	// streaming it ends the session.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-sigCh:
				if service.Stop() {
					continue
				}
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Chat session ended with error: %v", err)
	}

	// Let queued uploads finish before the store closes.
	pipeline.Wait()
}

// runAskCommand asks one question and exits after the cited answer.
func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	client := newAdvisorClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := NewAdvisorChatService(AdvisorChatServiceConfig{
		Client:   client,
		Language: effectiveLanguage(),
		TopK:     effectiveTopK(),
		KCite:    effectiveKCite(),
	})
	defer func() {
		if err := service.Close(); err != nil {
			slog.Error("failed to close chat service", "error", err)
		}
	}()

	if chatResume != "" {
		if _, _, err := service.ResumeSession(ctx, chatResume); err != nil {
			log.Fatalf("Error resuming session %s: %v", chatResume, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			if !service.Stop() {
				cancel()
			}
		case <-ctx.Done():
		}
	}()

	outcome, err := service.SendMessage(ctx, question, nil)
	if err != nil && ctx.Err() == nil {
		slog.Debug("ask turn failed", "error", err)
	}
	if outcome.Status == answer.StatusFailed {
		os.Exit(1)
	}
}

// checkServer probes the advisor. An unreachable server is a warning
// (chat startup stays offline-friendly); an incompatible one is fatal.
func checkServer(ctx context.Context, client *advisor.Client) string {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := client.VerifyServer(probeCtx)
	if err != nil {
		if health != nil {
			log.Fatalf("Error: %v. Upgrade the advisor or use an older lumi.", err)
		}
		ux.Warning("Advisor not reachable at " + client.BaseURL() + ". Answers will fail until it is.")
		return ""
	}
	return health.Version
}

// loadCatalog fetches the language-scoped slot catalog, falling back to
// the built-in defaults when the advisor cannot serve one.
func loadCatalog(ctx context.Context, client *advisor.Client, language string) *slots.Catalog {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	catalog, err := client.SlotCatalog(fetchCtx, language)
	if err != nil {
		slog.Warn("slot catalog fetch failed, using built-in defaults", "error", err)
		return slots.DefaultCatalog()
	}
	return catalog
}

// storeOrNil adapts a possibly-nil store to the pipeline's optional
// QueueStore dependency without a typed-nil interface value.
func storeOrNil(st *store.Store) attach.QueueStore {
	if st == nil {
		return nil
	}
	return st
}
