// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisorsim is an in-memory stand-in for the Lumi advisor
// service, used by the e2e suite and as a local dev server.
//
// It implements the v1 surface the CLI consumes: the streaming query
// endpoint with the exact SSE frame grammar, session CRUD with sparse
// slot updates, the language-scoped slot catalog, multipart uploads with
// sha256 receipts, and async ingest jobs that advance one state per poll.
// Answers come from a configurable script, falling back to a
// deterministic echo composer, so tests can pin both happy paths and
// mid-stream failures without a retrieval backend.
//
// State lives in process memory and is gone when the server stops.
package advisorsim

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/LumiAdvisor/pkg/slots"
)

// ServiceName labels traces and metrics emitted by the simulator.
const ServiceName = "lumi-advisorsim"

// DefaultVersion is reported by /healthz when Config.Version is empty.
// It sits above the client's minimum supported advisor version.
const DefaultVersion = "0.2.0"

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes one simulator instance. The zero value is a working echo
// server.
type Config struct {
	// Version is returned by /healthz. Defaults to DefaultVersion.
	Version string

	// Script holds canned answers matched against incoming questions.
	// Unmatched questions fall back to the echo composer.
	Script []ScriptedAnswer

	// ChunkSize is the number of runes per chunk frame. Defaults to 24.
	ChunkSize int

	// StreamRate caps chunk frames per second. Zero or negative streams
	// unthrottled, which is what tests want.
	StreamRate float64

	// IngestPolls is how many status polls an ingest job needs before it
	// finishes. Defaults to 2: one running poll, then done.
	IngestPolls int

	// IngestFailSubstring fails ingestion for any upload whose filename
	// contains this substring. Empty disables scripted ingest failures.
	IngestFailSubstring string

	// SessionTTL feeds the remaining_ttl_seconds field on sessions.
	// Defaults to 24h.
	SessionTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Verbose attaches gin's request logger, for the dev server.
	Verbose bool
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 24
	}
	if c.IngestPolls <= 0 {
		c.IngestPolls = 2
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// =============================================================================
// SERVER
// =============================================================================

// Server is one simulator instance. Every instance owns its own state and
// metrics registry, so tests can boot as many as they need in one process.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	router  *gin.Engine
	store   *memoryStore
	catalog *slots.Catalog
	metrics *Metrics
}

// New assembles a simulator. The returned Server is ready to serve; wrap
// Router() in httptest.NewServer for tests or call Run for a dev server.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Verbose {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(ServiceName))

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		router:  router,
		store:   newMemoryStore(cfg.SessionTTL),
		catalog: slots.DefaultCatalog(),
		metrics: newMetrics(),
	}
	s.registerRoutes(router)
	return s
}

// Router returns the gin engine, which is an http.Handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("advisor simulator listening", "addr", addr, "version", s.cfg.Version)
	return s.router.Run(addr)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.metrics.registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/query", s.handleQuery)
		v1.GET("/slots", s.handleSlotCatalog)

		v1.POST("/upload", s.handleUpload)
		v1.GET("/upload/:uploadId", s.handleGetUpload)
		v1.POST("/ingest-upload", s.handleIngestUpload)
		v1.GET("/ingest-jobs/:jobId", s.handleGetIngestJob)

		session := v1.Group("/session")
		{
			session.POST("", s.handleCreateSession)
			session.GET("", s.handleListSessions)
			session.GET("/:sessionId", s.handleGetSession)
			session.PATCH("/:sessionId", s.handlePatchSession)
			session.DELETE("/:sessionId", s.handleDeleteSession)
			session.PATCH("/:sessionId/slots", s.handleUpdateSlots)
			session.GET("/:sessionId/messages", s.handleListMessages)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.cfg.Version})
}

// fail writes the advisor error contract: a JSON body with a single
// human-readable detail field.
func fail(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}
