// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPolicy keeps backoff waits negligible in tests.
func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Microsecond,
		MaxDelay:   time.Millisecond,
		randFloat:  func() float64 { return 0.5 },
	}
}

func TestRetryPolicy_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, func(error) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_RetriesTransientThenSucceeds(t *testing.T) {
	transient := errors.New("connection reset")
	calls := 0
	err := fastPolicy(2).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	}, func(error) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ExhaustsRetries(t *testing.T) {
	transient := errors.New("timeout")
	calls := 0
	err := fastPolicy(2).Do(context.Background(), func(context.Context) error {
		calls++
		return transient
	}, func(error) bool { return true })

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls, "one attempt plus two retries")
}

func TestRetryPolicy_NonRetryableFailsImmediately(t *testing.T) {
	fatal := errors.New("401 unauthorized")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	}, func(error) bool { return false })

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_CancelledDuringBackoff(t *testing.T) {
	upstream := errors.New("503")
	policy := RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Hour, // never elapses; cancellation must unblock
		randFloat:  func() float64 { return 1.0 },
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(context.Context) error {
			calls++
			return upstream
		}, func(error) bool { return true })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, upstream, "original upstream error survives cancellation")
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}
