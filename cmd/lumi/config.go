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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config is the lumi CLI configuration, loaded from ~/.lumi/lumi.yaml and
// overridable per-field through LUMI_* environment variables and flags.
type Config struct {
	// AdvisorURL is the advisor base URL without a trailing slash.
	AdvisorURL string `yaml:"advisor_url" validate:"required,url"`

	// APIKey, when set, is sent as a bearer token on every request.
	APIKey string `yaml:"api_key,omitempty"`

	// Language is the default answer language: "en", "zh", or "" for
	// server-side detection.
	Language string `yaml:"language,omitempty" validate:"omitempty,oneof=en zh"`

	// TopK is the retrieval depth sent with each question. 0 keeps the
	// server default.
	TopK int `yaml:"top_k,omitempty" validate:"gte=0,lte=50"`

	// KCite caps citations per answer. 0 keeps the server default.
	KCite int `yaml:"k_cite,omitempty" validate:"gte=0,lte=20"`

	// DataDir holds the local BadgerDB store (attachment queue, session
	// cache). Defaults to ~/.lumi/data.
	DataDir string `yaml:"data_dir,omitempty"`

	// LogDir enables file logging when set. Defaults to ~/.lumi/logs.
	LogDir string `yaml:"log_dir,omitempty"`

	// LogLevel is the minimum level for log output.
	LogLevel string `yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	// Personality picks the default output style. The --personality
	// flag wins over this; both empty means auto-detect from the
	// terminal.
	Personality string `yaml:"personality,omitempty" validate:"omitempty,oneof=machine minimal standard full"`

	// WatchDir is the default folder for `lumi attach watch`.
	WatchDir string `yaml:"watch_dir,omitempty"`

	// RetentionDays overrides the server-side upload retention when > 0.
	RetentionDays int `yaml:"retention_days,omitempty" validate:"gte=0,lte=365"`

	// InsecureMemory disables the mlock'd answer buffer. Env-only
	// (LUMI_INSECURE_MEMORY); never persisted to the config file.
	InsecureMemory bool `yaml:"-"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		AdvisorURL: "http://localhost:8800",
		Language:   "",
		TopK:       8,
		KCite:      4,
		LogLevel:   "info",
	}
}

// configDir returns ~/.lumi, creating nothing.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".lumi"), nil
}

// defaultConfigPath returns ~/.lumi/lumi.yaml.
func defaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "lumi.yaml"), nil
}

// LoadConfig reads the config file at path, creating it with defaults on
// first run. Environment overrides are applied after the file, flags after
// that (by the callers that own the flags).
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if writeErr := writeConfig(path, cfg); writeErr != nil {
			return Config{}, fmt.Errorf("create default config: %w", writeErr)
		}
		applyEnvOverrides(&cfg)
		if err := validateConfig(cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// writeConfig marshals cfg to path, creating the parent directory.
func writeConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers LUMI_* environment variables over file values.
// Empty variables are ignored so an empty export cannot blank a setting.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMI_ADVISOR_URL"); v != "" {
		cfg.AdvisorURL = v
	}
	if v := os.Getenv("LUMI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LUMI_LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := os.Getenv("LUMI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LUMI_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LUMI_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("LUMI_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TopK = n
		}
	}
	if v := os.Getenv("LUMI_INSECURE_MEMORY"); v == "1" || v == "true" {
		cfg.InsecureMemory = true
	}
}

// validateConfig runs struct-tag validation and converts the first failure
// into a message a user can act on.
func validateConfig(cfg Config) error {
	validate := validator.New()
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("validate config: %w", err)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("config: %s is required", fe.Field())
		case "url":
			return fmt.Errorf("config: %s must be a valid URL, got %q", fe.Field(), fe.Value())
		case "oneof":
			return fmt.Errorf("config: %s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
		default:
			return fmt.Errorf("config: %s failed %s validation", fe.Field(), fe.Tag())
		}
	}
	return fmt.Errorf("validate config: %w", err)
}

// dataDir resolves the store directory, falling back to ~/.lumi/data.
func (c Config) dataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// logDir resolves the log directory, falling back to ~/.lumi/logs.
func (c Config) logDir() (string, error) {
	if c.LogDir != "" {
		return c.LogDir, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}
