// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-dev/quill/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8321", cfg.Server.Listen)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Equal(t, 1000, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 100, cfg.Retrieval.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.MaxDocs)
	assert.Equal(t, 0.25, cfg.Retrieval.MinScore)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 10, cfg.History.Window)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 20, cfg.RateLimit.Routes["generate"].RequestsPerMinute)
	assert.Equal(t, 2*time.Second, cfg.Gates.AcquireWait)
	assert.Equal(t, 60*time.Second, cfg.Generation.Timeout)
	assert.NotEmpty(t, cfg.Generation.SystemPrompt)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "0.0.0.0:9000"
embedding:
  dimension: 8
retrieval:
  chunk_size: 200
  chunk_overlap: 20
  min_score: 0.4
index:
  backend: memory
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, 8, cfg.Embedding.Dimension)
	assert.Equal(t, 200, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 0.4, cfg.Retrieval.MinScore)
	assert.Equal(t, "memory", cfg.Index.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QUILL_SERVER_LISTEN", "127.0.0.1:7777")
	t.Setenv("QUILL_EMBEDDING_API_KEY", "from-env")
	t.Setenv("QUILL_GENERATION_API_KEY", "gen-from-env")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Server.Listen)
	assert.Equal(t, "from-env", cfg.Embedding.APIKey)
	assert.Equal(t, "gen-from-env", cfg.Generation.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/quill.yaml")
	require.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Server.Listen = "not-an-address"
	cfg.Embedding.Dimension = 0
	cfg.Retrieval.MinScore = 1.5
	cfg.Index.Backend = "postgres"

	errs := cfg.Validate()
	assert.GreaterOrEqual(t, len(errs), 4, "all problems reported, not just the first")
}

func TestBootstrapConfig_WritesDefaultOnce(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := config.BootstrapConfig()
	require.NotEmpty(t, path)
	assert.FileExists(t, path)

	// The bootstrapped file loads and validates cleanly.
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8321", cfg.Server.Listen)
	assert.Equal(t, 60, cfg.RateLimit.Routes["ingest"].RequestsPerMinute)

	// A second bootstrap is a no-op.
	assert.Empty(t, config.BootstrapConfig())
}

func TestValidate_OverlapMustBeSmallerThanSize(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  chunk_size: 100
  chunk_overlap: 100
`)
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}
