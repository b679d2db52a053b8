// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(root, ".quillan"), cfg.DataDir)
	assert.Equal(t, 8, cfg.MaxContinuations)
	assert.False(t, cfg.HasAPIKey(), "ollama needs no key")
}

func TestLoadYAMLFile(t *testing.T) {
	root := t.TempDir()
	yaml := []byte("provider: mock\nmodel: test-model\nmax_continuations: 3\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultConfigFile), yaml, 0644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Provider)
	assert.Equal(t, "test-model", cfg.Model)
	assert.Equal(t, 3, cfg.MaxContinuations)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMalformedYAMLIsFatal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultConfigFile), []byte("provider: [unclosed"), 0644))

	_, err := Load(root)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadInvalidProvider(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultConfigFile), []byte("provider: carrier-pigeon\n"), 0644))

	_, err := Load(root)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMissingAPIKeyIsFatal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultConfigFile), []byte("provider: anthropic\n"), 0644))
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load(root)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAPIKeySealedAndScrubbed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultConfigFile), []byte("provider: anthropic\n"), 0644))
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")

	cfg, err := Load(root)
	require.NoError(t, err)
	require.True(t, cfg.HasAPIKey())

	// Environment copy is scrubbed after sealing.
	assert.Empty(t, os.Getenv("ANTHROPIC_API_KEY"))

	var seen string
	require.NoError(t, cfg.APIKey(func(key string) error {
		seen = key
		return nil
	}))
	// The retained key must stay valid after the locked buffer is
	// destroyed.
	assert.Equal(t, "sk-test-123", seen)
}

func TestEnvOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("QUILLAN_PROVIDER", "mock")
	t.Setenv("QUILLAN_MODEL", "env-model")
	t.Setenv("QUILLAN_MAX_CONTINUATIONS", "5")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Provider)
	assert.Equal(t, "env-model", cfg.Model)
	assert.Equal(t, 5, cfg.MaxContinuations)
}

func TestDerivedPaths(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.DataDir, "plans"), cfg.PlansDir())
	assert.Equal(t, filepath.Join(cfg.DataDir, "evidence.db"), cfg.EvidenceDBPath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "graph"), cfg.GraphDir())
}
