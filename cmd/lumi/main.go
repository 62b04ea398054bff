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
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LumiAdvisor/pkg/logging"
	"github.com/AleutianAI/LumiAdvisor/pkg/ux"
)

var (
	config    Config
	appLogger *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
	if appLogger != nil {
		if err := appLogger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing logger: %v\n", err)
		}
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			path, err = defaultConfigPath()
			if err != nil {
				return err
			}
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			return err
		}
		config = cfg

		if err := initLogging(cmd); err != nil {
			return err
		}
		initPersonality()
		applySecurityEnv()
		return nil
	}
}

// initLogging builds the process logger from config and installs it as the
// slog default so every package logs through the same handlers. Chat keeps
// stderr quiet; the stream owns the terminal while file logs keep records.
func initLogging(cmd *cobra.Command) error {
	dir, err := config.logDir()
	if err != nil {
		return err
	}

	appLogger = logging.New(logging.Config{
		Level:   logging.ParseLevel(config.LogLevel),
		LogDir:  dir,
		Service: "lumi",
		Quiet:   cmd.Name() == "chat",
	})
	slog.SetDefault(appLogger.Slog())
	return nil
}

// initPersonality resolves output styling: the --personality flag wins,
// then the config file, then terminal auto-detection.
func initPersonality() {
	switch {
	case personalityLevel != "":
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
	case config.Personality != "":
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(config.Personality))
	default:
		ux.InitPersonality()
	}
}

// applySecurityEnv republishes config-level security toggles as the
// environment variables the core packages read at accumulator selection.
func applySecurityEnv() {
	if config.InsecureMemory {
		os.Setenv("LUMI_INSECURE_MEMORY", "true")
	}
}
