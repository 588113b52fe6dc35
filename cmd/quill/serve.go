// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the quill HTTP server",
		Long:  "Load configuration, wire the pipeline, and serve the HTTP API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		// First run without a config writes a commented default.
		config.BootstrapConfig()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	app, err := WireApp(cfg)
	if err != nil {
		return fmt.Errorf("wiring subsystems: %w", err)
	}
	defer app.Close()

	srv, err := server.New(server.Config{ListenAddr: cfg.Server.Listen}, app.Pipeline, app.Limiter)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting quill", "listen", cfg.Server.Listen, "index_backend", cfg.Index.Backend)
	return srv.Start(ctx)
}
