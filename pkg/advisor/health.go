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
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/mod/semver"
)

// MinAdvisorVersion is the oldest advisor release this client understands.
// Older servers predate the sparse slot-reset contract.
const MinAdvisorVersion = "0.1.0"

// Health probes the advisor's health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return nil, err
	}

	var health Health
	if err := c.doJSON(httpReq, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// VerifyServer fetches health and checks the advisor version against
// MinAdvisorVersion. An outdated server is reported as an error; a version
// the client cannot parse only logs a warning, since dev builds often run
// with placeholder versions.
func (c *Client) VerifyServer(ctx context.Context) (*Health, error) {
	health, err := c.Health(ctx)
	if err != nil {
		return nil, err
	}

	serverVersion := canonicalVersion(health.Version)
	if !semver.IsValid(serverVersion) {
		c.logger.Warn("advisor reported an unparseable version",
			"version", health.Version,
		)
		return health, nil
	}

	if semver.Compare(serverVersion, canonicalVersion(MinAdvisorVersion)) < 0 {
		return health, fmt.Errorf("advisor version %s is older than minimum supported %s",
			health.Version, MinAdvisorVersion)
	}

	return health, nil
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
