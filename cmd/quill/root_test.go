// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "ingest")
	assert.Contains(t, names, "search")
	assert.Contains(t, names, "version")
}

func TestVersionCmd_Output(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "quill dev")
}

func TestIngestCmd_RequiresFile(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestLoadSeedFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"d1","content":"fevers","source":"handbook"}]`), 0o600))

	docs, err := loadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "handbook", docs[0].Source)
}

func TestLoadSeedFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: d1
  content: fevers in infants
  source: handbook
- content: safe sleep
  source: aap
`), 0o600))

	docs, err := loadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "fevers in infants", docs[0].Content)
	assert.Empty(t, docs[1].ID)
}

func TestLoadSeedFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	_, err := loadSeedFile(path)
	require.Error(t, err)
}

func TestSearchCmd_RequiresQueryArg(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"search"})

	err := root.Execute()
	require.Error(t, err)
}
