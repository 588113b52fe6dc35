// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package history defines the durable conversation log contract.
// Content is redacted before it reaches a Store; adapters persist what
// they are given.
package history

import (
	"context"
	"time"

	"github.com/quill-dev/quill/internal/provider"
)

// Turn is one persisted conversation message for a caller identity.
type Turn struct {
	ID        string
	Identity  string
	Role      provider.MessageRole
	Content   string
	CreatedAt time.Time
}

// Store persists conversation turns. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append records a turn. IDs are unique; appending a duplicate ID
	// is an error.
	Append(ctx context.Context, turn Turn) error

	// Recent returns up to limit turns for the identity, oldest first,
	// so the slice can be fed straight into a generation request.
	Recent(ctx context.Context, identity string, limit int) ([]Turn, error)

	Close() error
}
