// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// =============================================================================
// STREAMING QUERY
// =============================================================================

// Query submits a question and returns the advisor's event stream.
//
// # Description
//
// Sends the request to the streaming query endpoint and hands the raw
// response body to the caller, who feeds it to the wire decoder. The body
// stays open until the caller closes it; cancelling ctx aborts the stream
// mid-read.
//
// # Inputs
//
//   - ctx: Governs both the request and all subsequent body reads.
//   - req: Question plus session, slot, and attachment context. Only
//     Ready upload ids belong in Attachments.
//
// # Outputs
//
//   - io.ReadCloser: The open event stream. Caller must close it.
//   - error: Typed *APIError for non-success statuses received before any
//     frame; transport errors otherwise.
func (c *Client) Query(ctx context.Context, req QueryRequest) (io.ReadCloser, error) {
	body, err := marshalBody(req)
	if err != nil {
		return nil, err
	}

	query := url.Values{"stream": []string{"true"}}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/query", query, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("sending streaming query",
		"session_id", req.SessionID,
		"question_length", len(req.Question),
		"attachments", len(req.Attachments),
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer closeBody(c.logger, resp.Body)
		return nil, c.errorFromResponse(httpReq, resp)
	}

	return resp.Body, nil
}

// TransportError wraps a network-level failure that happened before any
// stream frame was received. It is distinguishable from a mid-stream error
// event, which always arrives with partial text attached.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "http post: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
