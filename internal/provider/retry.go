// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package provider

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how adapters retry transient upstream failures.
// Exponential backoff with full jitter: each wait is a uniform random
// fraction of base*2^attempt, capped at MaxDelay.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay seeds the exponential schedule.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// randFloat overrides the jitter source in tests. Nil uses math/rand.
	randFloat func() float64
}

// DefaultRetryPolicy matches the pipeline default of two retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   4 * time.Second,
	}
}

// Do runs fn up to 1+MaxRetries times, waiting between attempts while the
// context stays live. retryable decides which failures are worth another
// attempt; the last error is returned unwrapped so the caller's
// classification survives.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error, retryable func(error) bool) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return err
		}
		if waitErr := p.wait(ctx, attempt); waitErr != nil {
			// Caller cancelled mid-backoff; their failure is the original
			// upstream error, not the cancellation.
			return err
		}
	}
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	delay := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	jitter := rand.Float64
	if p.randFloat != nil {
		jitter = p.randFloat
	}
	delay = time.Duration(jitter() * float64(delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
