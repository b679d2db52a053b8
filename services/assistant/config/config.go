// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates assistant configuration.
//
// Configuration is layered, later layers winning:
//
//  1. Built-in defaults
//  2. YAML config file (quillan.yaml in the project root, optional)
//  3. A .env file in the working directory (optional)
//  4. QUILLAN_* environment variables
//
// Configuration errors are fatal at startup by design: a missing
// provider key or malformed file must never surface mid-session.
//
// Provider API keys are never stored in plain struct fields. They are
// sealed into a memguard enclave at load time and opened only for the
// duration of a request.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration loading.
var (
	// ErrMissingAPIKey indicates the selected provider requires a key
	// and none was found in the environment.
	ErrMissingAPIKey = errors.New("provider API key missing")

	// ErrInvalidConfig indicates the config file or environment
	// produced a config that failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DefaultConfigFile is the config file looked up in the project root.
const DefaultConfigFile = "quillan.yaml"

// Config holds all assistant settings.
//
// Validation tags are enforced by Load; a Config obtained from Load is
// guaranteed valid.
type Config struct {
	// Provider selects the LLM backend.
	Provider string `yaml:"provider" validate:"required,oneof=anthropic openai ollama mock"`

	// Model is the provider model identifier. Empty selects the
	// provider default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint. http and https are both
	// accepted (local providers are plain http).
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// ProjectRoot is the directory tools operate against.
	ProjectRoot string `yaml:"project_root" validate:"required"`

	// DataDir is where the evidence log, graph store, and plans live.
	// Defaults to "<ProjectRoot>/.quillan".
	DataDir string `yaml:"data_dir"`

	// MaxContinuations bounds automatic tool-chain continuations per
	// session.
	MaxContinuations int `yaml:"max_continuations" validate:"gte=0,lte=32"`

	// MaxTokens limits response length per LLM call.
	MaxTokens int `yaml:"max_tokens" validate:"gte=0,lte=200000"`

	// RequestTimeout is the per-call transport timeout.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retries is how many times the chat loop retries a failed
	// transport call before surfacing the error.
	Retries int `yaml:"retries" validate:"gte=0,lte=10"`

	// LogLevel is debug|info|warn|error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir"`

	// apiKey is the sealed provider key. Never serialized.
	apiKey *memguard.Enclave
}

// defaults returns the built-in baseline configuration.
func defaults() Config {
	return Config{
		Provider:         "ollama",
		ProjectRoot:      ".",
		MaxContinuations: 8,
		MaxTokens:        4096,
		RequestTimeout:   120 * time.Second,
		Retries:          2,
		LogLevel:         "info",
	}
}

// Load builds the effective configuration for a project root.
//
// Description:
//
//	Applies defaults, the optional YAML file, .env, and QUILLAN_*
//	environment variables, then validates the result and seals the
//	provider API key. Any failure here is fatal to the caller.
//
// Inputs:
//
//	projectRoot - Directory the assistant operates on. Must exist.
//
// Outputs:
//
//	*Config - Validated configuration.
//	error - Non-nil on unreadable file, malformed YAML, validation
//	        failure, or a missing required API key.
func Load(projectRoot string) (*Config, error) {
	cfg := defaults()
	cfg.ProjectRoot = projectRoot

	// .env first so it can supply QUILLAN_* and provider keys.
	// A missing .env is not an error.
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))

	path := filepath.Join(projectRoot, DefaultConfigFile)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
		}
		// The file may not override the root it was loaded from.
		cfg.ProjectRoot = projectRoot
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
	}

	applyEnv(&cfg)

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.ProjectRoot, ".quillan")
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := sealAPIKey(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv overlays QUILLAN_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("QUILLAN_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("QUILLAN_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("QUILLAN_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("QUILLAN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("QUILLAN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("QUILLAN_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("QUILLAN_MAX_CONTINUATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxContinuations = n
		}
	}
	if v := os.Getenv("QUILLAN_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retries = n
		}
	}
}

// validate runs struct validation and normalizes the provider name.
func validate(cfg *Config) error {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// keyEnvVars maps providers to the environment variable carrying the key.
var keyEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// sealAPIKey moves the provider key from the environment into an
// enclave. Providers without an entry in keyEnvVars (ollama, mock)
// need no key.
func sealAPIKey(cfg *Config) error {
	envVar, needsKey := keyEnvVars[cfg.Provider]
	if !needsKey {
		return nil
	}

	key := strings.TrimSpace(os.Getenv(envVar))
	if key == "" {
		return fmt.Errorf("%w: %s not set for provider %q", ErrMissingAPIKey, envVar, cfg.Provider)
	}

	cfg.apiKey = memguard.NewEnclave([]byte(key))
	// Best effort scrub of the environment copy.
	_ = os.Unsetenv(envVar)
	return nil
}

// APIKey opens the sealed key and passes it to fn. The locked buffer
// is destroyed when fn returns; fn receives a heap copy of the key,
// so callers (like SDK clients) may retain it past the call.
//
// Outputs:
//
//	error - Non-nil if no key is sealed or the enclave fails to open.
func (c *Config) APIKey(fn func(key string) error) error {
	if c.apiKey == nil {
		return ErrMissingAPIKey
	}
	buf, err := c.apiKey.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	// buf.String() aliases the locked pages, which Destroy unmaps.
	// Clone before handing out.
	key := strings.Clone(buf.String())
	buf.Destroy()
	return fn(key)
}

// HasAPIKey reports whether a provider key is sealed.
func (c *Config) HasAPIKey() bool {
	return c.apiKey != nil
}

// PlansDir returns the directory for versioned plan files.
func (c *Config) PlansDir() string {
	return filepath.Join(c.DataDir, "plans")
}

// EvidenceDBPath returns the SQLite file backing the execution log.
func (c *Config) EvidenceDBPath() string {
	return filepath.Join(c.DataDir, "evidence.db")
}

// GraphDir returns the Badger directory for the entity/edge store.
func (c *Config) GraphDir() string {
	return filepath.Join(c.DataDir, "graph")
}
