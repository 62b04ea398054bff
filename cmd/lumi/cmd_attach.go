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
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/attach"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
)

// runUploadAttachment uploads the given files, resuming any interrupted
// uploads from a previous run first.
func runUploadAttachment(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	client := newAdvisorClient()
	st := openLocalStore()
	defer closeStore(st)

	pipeline := attach.NewPipeline(attach.Config{Service: client, Store: storeOrNil(st)})
	if resumed, err := pipeline.Restore(ctx); err != nil {
		ux.Warning(fmt.Sprintf("Could not restore attachment queue: %v", err))
	} else if resumed > 0 {
		ux.Info(fmt.Sprintf("Resuming %d interrupted upload(s).", resumed))
	}

	opts := attach.QueueOptions{
		Purpose:       attachPurpose(),
		RetentionDays: attachRetention,
		Ingest:        attachIngest,
		Language:      attachLanguage,
	}

	queued := make([]string, 0, len(args))
	rejected := 0
	for _, path := range args {
		item, err := pipeline.QueueFile(ctx, path, opts)
		if err != nil {
			ux.FileStatus(path, ux.IconError, err.Error())
			rejected++
			continue
		}
		queued = append(queued, item.ClientID)
	}

	pipeline.Wait()

	if ctx.Err() != nil {
		ux.Warning("Interrupted. Queued uploads resume on the next run.")
	}

	ready, failed := 0, rejected
	for _, id := range queued {
		item, ok := pipeline.Get(id)
		if !ok {
			continue
		}
		ux.FileStatus(item.Filename, attachmentIcon(item.Status), attachmentReason(item))
		switch item.Status {
		case attach.StatusReady:
			ready++
		case attach.StatusError:
			failed++
		}
	}
	ux.Summary(ready, failed, len(args))
	if failed > 0 {
		os.Exit(1)
	}
}

// runListAttachments shows the persisted attachment queue without
// touching the network.
func runListAttachments(cmd *cobra.Command, args []string) {
	st := openLocalStore()
	if st == nil {
		log.Fatalf("Local store unavailable; nothing to list.")
	}
	defer closeStore(st)

	items, err := st.ListAttachments()
	if err != nil {
		log.Fatalf("Error: read attachment queue: %v", err)
	}
	if len(items) == 0 {
		fmt.Println("No tracked attachments. Add one with: lumi attach upload <path>")
		return
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].QueuedAt.Before(items[j].QueuedAt)
	})

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
}

// runWatchAttachments uploads every file dropped into a folder until
// interrupted.
func runWatchAttachments(cmd *cobra.Command, args []string) {
	dir := config.WatchDir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		log.Fatalf("No folder given. Pass one or set watch_dir in the config file.")
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Fatalf("%s is not a watchable folder.", dir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	client := newAdvisorClient()
	st := openLocalStore()
	defer closeStore(st)

	pipeline := attach.NewPipeline(attach.Config{Service: client, Store: storeOrNil(st)})
	if _, err := pipeline.Restore(ctx); err != nil {
		ux.Warning(fmt.Sprintf("Could not restore attachment queue: %v", err))
	}

	watcher, err := attach.NewFolderWatcher(dir, pipeline, attach.QueueOptions{
		Purpose:       attachPurpose(),
		RetentionDays: attachRetention,
		Ingest:        attachIngest,
		Language:      attachLanguage,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ux.Info(fmt.Sprintf("Watching %s for new files. Ctrl+C to stop.", dir))
	if err := watcher.Start(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		ux.Warning(fmt.Sprintf("Watcher shutdown: %v", err))
	}
	pipeline.Wait()

	ready, failed := 0, 0
	items := pipeline.Snapshot()
	for _, item := range items {
		switch item.Status {
		case attach.StatusReady:
			ready++
		case attach.StatusError:
			failed++
		}
	}
	ux.Summary(ready, failed, len(items))
}

// runIngestAttachment indexes an already-uploaded file into the
// retrieval corpus and waits for the job to finish.
func runIngestAttachment(cmd *cobra.Command, args []string) {
	uploadID := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	client := newAdvisorClient()

	receipt, err := client.GetUpload(ctx, uploadID)
	if err != nil {
		var apiErr *advisor.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			log.Fatalf("Upload %s not found. List uploads with: lumi attach list", uploadID)
		}
		log.Fatalf("Error: %v", err)
	}

	job, err := client.IngestUpload(ctx, advisor.IngestUploadRequest{
		UploadID:   uploadID,
		SourceName: receipt.Filename,
		Language:   attachLanguage,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	final, err := waitForIngest(ctx, client, job, receipt.Filename)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	p := ux.GetPersonality()
	if p.Level == ux.PersonalityMachine {
		fmt.Printf("INGEST: job=%s status=%s doc=%s chunks=%d\n",
			final.JobID, final.Status, final.DocID, final.ChunkCount)
	}
	if final.Status == advisor.JobStatusFailed {
		reason := final.Error
		if reason == "" {
			reason = "unknown failure"
		}
		ux.Error(fmt.Sprintf("Indexing %s failed: %s", receipt.Filename, reason))
		os.Exit(1)
	}
	if p.Level != ux.PersonalityMachine {
		ux.Success(fmt.Sprintf("Indexed %s as %s (%d chunks).", receipt.Filename, final.DocID, final.ChunkCount))
	}
}

// waitForIngest polls the job until it settles, backing off between
// polls the same way the upload pipeline does.
func waitForIngest(ctx context.Context, client *advisor.Client, job *advisor.IngestJob, filename string) (*advisor.IngestJob, error) {
	spin := ux.NewSpinner("Indexing " + filename)
	spin.Start()
	defer spin.Stop()

	for poll := 1; !job.Terminal(); poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(attach.Backoff(poll)):
		}
		next, err := client.GetIngestJob(ctx, job.JobID)
		if err != nil {
			return nil, fmt.Errorf("poll ingest job %s: %w", job.JobID, err)
		}
		job = next
	}
	return job, nil
}

// attachPurpose tags uploads headed for the retrieval corpus as "rag";
// everything else rides along with chat turns.
func attachPurpose() string {
	if attachIngest {
		return "rag"
	}
	return "chat"
}
