// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

//go:embed quill.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns the default config location,
// ~/.config/quill/quill.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", quillerr.Wrapf(err, quillerr.CodeConfigInvalid, "resolving home directory")
	}
	return filepath.Join(home, ".config", "quill", "quill.yaml"), nil
}

// BootstrapConfig writes the commented default config on first run and
// returns the path written. An existing file, a missing home directory,
// or an unwritable path all skip the write; only the last two are
// logged. Never fatal.
func BootstrapConfig() string {
	path, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("config bootstrap skipped", "error", err)
		return ""
	}

	if _, err := os.Stat(path); err == nil {
		return ""
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		slog.Debug("config bootstrap skipped", "path", path, "error", err)
		return ""
	}
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("config bootstrap skipped", "path", path, "error", err)
		return ""
	}

	slog.Info("wrote default config", "path", path)
	return path
}
