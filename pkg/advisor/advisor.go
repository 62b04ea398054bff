// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisor is the typed REST client for the Lumi advisor service.
//
// It covers the full v1 surface the CLI consumes: the streaming query
// endpoint, session CRUD, sparse slot updates, the slot catalog, message
// history, multipart uploads, async ingest jobs, and the health probe.
// Every method takes a context and returns typed results; non-success
// statuses become typed errors before they reach callers. The streaming
// Query method deliberately returns the raw response body so the wire
// decoder owns all frame parsing.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// INTERFACES
// =============================================================================

// HTTPClient abstracts the underlying HTTP transport.
//
// # Description
//
// Allows injecting mock transports in tests. Production code uses
// *http.Client, which satisfies this interface directly.
//
// # Inputs
//
//   - req: Fully prepared request. Implementations must honor its context.
//
// # Outputs
//
//   - *http.Response: Response with an open body the caller must close.
//   - error: Non-nil on transport failure.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrSessionNotFound reports that a session id is unknown to the advisor,
// usually because it was deleted from another device. Callers reset their
// local session selection instead of surfacing this as a raw failure.
var ErrSessionNotFound = errors.New("session not found")

// APIError is a non-success response from the advisor, carrying the HTTP
// status and the server's detail message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds client construction parameters. Only BaseURL is required.
type Config struct {
	// BaseURL is the advisor URL without a trailing slash, e.g.
	// "http://localhost:8800".
	BaseURL string

	// APIKey, when set, is sent as a bearer token on every request.
	APIKey string

	// HTTPClient overrides the transport. Defaults to an *http.Client
	// with Timeout applied. Streaming queries use the same client, so
	// the default timeout is generous.
	HTTPClient HTTPClient

	// Timeout applies to the default transport only. Default: 5 minutes.
	Timeout time.Duration

	// Logger receives request diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the advisor REST client.
//
// # Thread Safety
//
// Safe for concurrent use. The client holds no per-request state.
type Client struct {
	baseURL string
	apiKey  string
	http    HTTPClient
	logger  *slog.Logger
}

// NewClient creates an advisor client from config, applying defaults for
// every optional field.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		logger:  logger,
	}
}

// BaseURL returns the advisor URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// -----------------------------------------------------------------------------
// Request plumbing
// -----------------------------------------------------------------------------

// newRequest prepares a request against the advisor with auth and common
// headers applied. query may be nil.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// doJSON executes the request, rejects non-success statuses, and decodes
// the body into out when out is non-nil.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", strings.ToLower(req.Method), err)
	}
	defer closeBody(c.logger, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(req, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFromResponse converts a non-success response into a typed error.
// The advisor reports failures as {"detail": "..."}; anything else is kept
// as the raw body text.
func (c *Client) errorFromResponse(req *http.Request, resp *http.Response) error {
	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if readErr != nil {
		c.logger.Error("advisor returned error (failed to read body)",
			"method", req.Method,
			"url", req.URL.String(),
			"status_code", resp.StatusCode,
			"read_error", readErr,
		)
		return &APIError{Status: resp.StatusCode, Message: "failed to read response body"}
	}

	message := strings.TrimSpace(string(bodyBytes))
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(bodyBytes, &detail); err == nil && detail.Detail != "" {
		message = detail.Detail
	}

	c.logger.Debug("advisor returned error",
		"method", req.Method,
		"url", req.URL.String(),
		"status_code", resp.StatusCode,
		"detail", message,
	)

	return &APIError{Status: resp.StatusCode, Message: message}
}

func closeBody(logger *slog.Logger, body io.ReadCloser) {
	if err := body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}

// marshalBody encodes a JSON request body.
func marshalBody(v any) (io.Reader, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return strings.NewReader(string(encoded)), nil
}
