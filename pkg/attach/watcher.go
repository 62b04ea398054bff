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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FolderWatcher queues files dropped into a watched directory.
//
// # Description
//
// Watches one directory (non-recursive) and hands created or rewritten
// files to the pipeline. The pipeline's path dedupe absorbs the multiple
// events a single file copy produces.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type FolderWatcher struct {
	dir      string
	pipeline *Pipeline
	opts     QueueOptions
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewFolderWatcher creates a watcher that queues files appearing in dir.
func NewFolderWatcher(dir string, pipeline *Pipeline, opts QueueOptions) (*FolderWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FolderWatcher{
		dir:      dir,
		pipeline: pipeline,
		opts:     opts,
		logger:   pipeline.logger,
		watcher:  watcher,
	}, nil
}

// Start begins watching. Blocks until the context is cancelled or the
// watcher is stopped. Should be run in a goroutine.
func (w *FolderWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.logger.Info("Watching folder for attachments",
		"dir", w.dir)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Folder watcher error",
				"error", err)

		case <-ctx.Done():
			w.logger.Debug("Folder watcher stopping")
			return nil
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *FolderWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return
	}

	if _, err := w.pipeline.QueueFile(ctx, event.Name, w.opts); err != nil {
		if errors.Is(err, ErrEmptyFile) {
			// Likely caught mid-copy. The write that completes the file
			// will queue it.
			w.logger.Debug("Skipping empty file",
				"path", event.Name)
			return
		}
		w.logger.Warn("Failed to queue watched file",
			"path", event.Name,
			"error", err)
		return
	}

	w.logger.Info("Queued watched file",
		"path", event.Name)
}

// Stop stops the watcher and releases resources. Safe to call multiple
// times.
func (w *FolderWatcher) Stop() error {
	return w.watcher.Close()
}
