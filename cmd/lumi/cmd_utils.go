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
	"log"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/store"
)

// newAdvisorClient builds the REST client from config, honoring the
// --server override.
func newAdvisorClient() *advisor.Client {
	baseURL := config.AdvisorURL
	if serverURL != "" {
		baseURL = serverURL
	}
	return advisor.NewClient(advisor.Config{
		BaseURL: baseURL,
		APIKey:  config.APIKey,
	})
}

// openLocalStore opens the local cache and queue store. Callers must
// Close it. Returns nil on failure; everything that uses the store
// degrades to online-only behavior.
func openLocalStore() *store.Store {
	dir, err := config.dataDir()
	if err != nil {
		log.Printf("Warning: local store unavailable: %v", err)
		return nil
	}
	st, err := store.Open(store.DefaultConfig(dir))
	if err != nil {
		log.Printf("Warning: local store unavailable: %v", err)
		return nil
	}
	return st
}

// closeStore closes st if non-nil, logging failures.
func closeStore(st *store.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		log.Printf("Warning: closing local store: %v", err)
	}
}

// effectiveLanguage resolves flag > config for the answer language.
func effectiveLanguage() string {
	if chatLanguage != "" {
		return chatLanguage
	}
	return config.Language
}

// effectiveTopK resolves flag > config for retrieval depth.
func effectiveTopK() int {
	if chatTopK > 0 {
		return chatTopK
	}
	return config.TopK
}

// effectiveKCite resolves flag > config for the citation cap.
func effectiveKCite() int {
	if chatKCite > 0 {
		return chatKCite
	}
	return config.KCite
}

// requireSlotsSession exits with guidance when a slots subcommand is
// missing its --session flag.
func requireSlotsSession() string {
	if slotsSessionID == "" {
		log.Fatalf("This command needs --session. Find ids with: lumi sessions list")
	}
	return slotsSessionID
}
