// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package rag

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Gate bounds concurrent calls to one upstream dependency. Acquisition
// waits up to the configured timeout, then fails with a backpressure
// error instead of queueing unboundedly.
type Gate struct {
	name        string
	sem         *semaphore.Weighted
	acquireWait time.Duration
}

// NewGate builds a gate admitting at most limit concurrent holders.
func NewGate(name string, limit int64, acquireWait time.Duration) (*Gate, error) {
	if limit <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"gate %q limit must be positive, got %d", name, limit)
	}
	if acquireWait <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"gate %q acquire wait must be positive, got %s", name, acquireWait)
	}
	return &Gate{name: name, sem: semaphore.NewWeighted(limit), acquireWait: acquireWait}, nil
}

// Acquire takes one slot, waiting at most the gate's acquire timeout.
// The returned release func must be called exactly once. A nil *Gate
// admits everything and returns a no-op release.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if g == nil {
		return func() {}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.acquireWait)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, quillerr.Wrapf(ctx.Err(), quillerr.CodeInternal,
				"acquiring %s slot", g.name)
		}
		return nil, quillerr.Errorf(quillerr.CodeBackpressure,
			"%s is saturated, try again shortly", g.name)
	}
	return func() { g.sem.Release(1) }, nil
}
