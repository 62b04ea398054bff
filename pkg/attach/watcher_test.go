// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attach

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFolderWatcher_QueuesDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	service := &mockUploadService{}
	pipe := newTestPipeline(service, nil)

	watcher, err := NewFolderWatcher(dir, pipe, QueueOptions{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Start(ctx) }()

	// Let the watch registration land before dropping files.
	time.Sleep(250 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "essay.md"), []byte("# Essay"), 0o644); err != nil {
		t.Fatalf("drop file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".partial.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("drop hidden file: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		items := pipe.Snapshot()
		return len(items) == 1 && items[0].Status == StatusReady
	})

	// Give the directory and hidden-file events time to misbehave.
	time.Sleep(100 * time.Millisecond)
	items := pipe.Snapshot()
	if len(items) != 1 {
		t.Fatalf("expected only the visible file queued, got %d items", len(items))
	}
	if items[0].Filename != "essay.md" {
		t.Errorf("unexpected queued file: %q", items[0].Filename)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watcher exited with error: %v", err)
	}
}

func TestFolderWatcher_StartFailsOnMissingDir(t *testing.T) {
	pipe := newTestPipeline(&mockUploadService{}, nil)

	watcher, err := NewFolderWatcher(filepath.Join(t.TempDir(), "missing"), pipe, QueueOptions{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Stop()

	if err := watcher.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail for a missing directory")
	}
}
