// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package e2e exercises the full client stack against the advisor
// simulator: REST client, stream reader, answer aggregator, attachment
// pipeline. The simulator runs in-process behind httptest, so the suite
// needs no external services.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/answer"
	"github.com/AleutianAI/LumiAdvisor/pkg/wire"
	"github.com/AleutianAI/LumiAdvisor/services/advisorsim"
)

const testTimeout = 30 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startAdvisor boots a simulator and returns a client pointed at it. The
// server is torn down with the test.
func startAdvisor(t *testing.T, cfg advisorsim.Config) *advisor.Client {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	sim := advisorsim.New(cfg)

	srv := httptest.NewServer(sim.Router())
	t.Cleanup(srv.Close)

	return advisor.NewClient(advisor.Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     quietLogger(),
	})
}

// ask runs one question through the same consumption loop the CLI uses:
// query, read frames into the aggregator, settle into a terminal outcome.
func ask(t *testing.T, client *advisor.Client, req advisor.QueryRequest, cfg answer.Config) answer.Outcome {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	aggregate := answer.NewAggregator(cfg)

	body, err := client.Query(ctx, req)
	require.NoError(t, err, "query advisor")
	defer body.Close()

	reader := wire.NewStreamReader(wire.NewEventRouter(cfg.Logger))
	readErr := reader.Read(ctx, body, aggregate.HandleEvent)

	return aggregate.FinishStream(readErr)
}
