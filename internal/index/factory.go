// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package index

import (
	"sync"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Config selects and parameterizes an index backend.
type Config struct {
	// Backend names a registered backend ("sqlite", "memory").
	Backend string
	// Path is the database location for file-backed backends.
	Path string
	// Dimension is the embedding length the index enforces.
	Dimension int
}

// Factory creates an index from its config.
type Factory func(cfg Config) (Index, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a named backend factory. Backend packages
// call this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New creates the index named by cfg.Backend, defaulting to "sqlite".
func New(cfg Config) (Index, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid, "unsupported index backend: %q", backend)
	}

	return factory(cfg)
}
