// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/rag"
)

// seedDocument is one entry in an ingest file.
type seedDocument struct {
	ID      string `json:"id" yaml:"id"`
	Content string `json:"content" yaml:"content"`
	Source  string `json:"source" yaml:"source"`
}

// loadSeedFile parses a JSON or YAML list of documents, chosen by file
// extension.
func loadSeedFile(path string) ([]seedDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var docs []seedDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &docs)
	default:
		err = json.Unmarshal(raw, &docs)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s contains no documents", path)
	}
	return docs, nil
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the knowledge base",
		Long:  "Read a JSON or YAML list of documents ({id, content, source}) and index them for retrieval.",
		RunE:  runIngest,
	}

	cmd.Flags().StringP("file", "f", "", "path to a JSON or YAML file of documents (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	filePath, _ := cmd.Flags().GetString("file")
	docs, err := loadSeedFile(filePath)
	if err != nil {
		return err
	}

	app, err := WireApp(cfg)
	if err != nil {
		return fmt.Errorf("wiring subsystems: %w", err)
	}
	defer app.Close()

	ctx := cmd.Context()
	failedDocs := 0
	for _, d := range docs {
		res, err := app.Pipeline.IngestDocument(ctx, rag.DocumentInput{
			ID:      d.ID,
			Content: d.Content,
			Source:  d.Source,
		})
		if err != nil {
			failedDocs++
			fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", d.ID, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%d chunks, %d failed)\n",
			res.DocumentID, len(res.Chunks), res.Failed())
	}

	if failedDocs > 0 {
		return fmt.Errorf("%d of %d documents failed", failedDocs, len(docs))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d documents\n", len(docs))
	return nil
}
