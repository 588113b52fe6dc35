// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/index"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base from the command line",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().IntP("k", "k", 5, "maximum number of results")
	cmd.Flags().Float64("min-score", 0, "similarity floor in [0,1]")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	app, err := WireApp(cfg)
	if err != nil {
		return fmt.Errorf("wiring subsystems: %w", err)
	}
	defer app.Close()

	k, _ := cmd.Flags().GetInt("k")
	minScore, _ := cmd.Flags().GetFloat64("min-score")

	results, err := app.Pipeline.SearchKnowledge(cmd.Context(), args[0], k, minScore)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no results")
		return nil
	}

	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. %.3f  %s  (%s)\n    %s\n",
			i+1, r.Score, r.Document.ID, r.Document.Metadata[index.MetadataSource], r.Document.Content)
	}
	return nil
}
