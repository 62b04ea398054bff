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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LumiAdvisor/pkg/advisor"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
)

// lumiVersion is stamped by release builds via
// -ldflags "-X main.lumiVersion=...". The default marks dev builds.
var lumiVersion = "0.1.0-dev"

// runVersionCommand prints the client version and, when the advisor is
// reachable, its version and compatibility verdict.
func runVersionCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newAdvisorClient()
	health, err := client.VerifyServer(ctx)

	serverVersion := "unreachable"
	compat := "unknown"
	switch {
	case err == nil:
		serverVersion = health.Version
		compat = "ok"
	case health != nil:
		serverVersion = health.Version
		compat = "incompatible"
	}

	p := ux.GetPersonality()
	if p.Level == ux.PersonalityMachine {
		fmt.Printf("VERSION: client=%s server=%s compat=%s\n", lumiVersion, serverVersion, compat)
		return
	}

	fmt.Printf("lumi %s\n", lumiVersion)
	switch compat {
	case "ok":
		fmt.Printf("advisor %s at %s\n", serverVersion, client.BaseURL())
	case "incompatible":
		ux.Warning(fmt.Sprintf("Advisor %s at %s is older than this client supports (needs %s+).",
			serverVersion, client.BaseURL(), advisor.MinAdvisorVersion))
	default:
		ux.Warning("Advisor unreachable at " + client.BaseURL())
	}
}
