// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

func testLimiter(t *testing.T, routes map[string]RouteConfig) *Limiter {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	l, err := New(Config{Enabled: true, Routes: routes}, done)
	require.NoError(t, err)
	require.NotNil(t, l)
	return l
}

func TestLimiter_NilAllowsEverything(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Allow("generate", "alice"))
}

func TestLimiter_DisabledReturnsNil(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	l, err := New(Config{Enabled: false}, done)
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestLimiter_ValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		routes map[string]RouteConfig
	}{
		{"negative rpm", map[string]RouteConfig{"generate": {RequestsPerMinute: -1, Burst: 1}}},
		{"zero burst with rpm", map[string]RouteConfig{"generate": {RequestsPerMinute: 60, Burst: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan struct{})
			defer close(done)
			_, err := New(Config{Enabled: true, Routes: tt.routes}, done)
			require.Error(t, err)
			assert.Equal(t, quillerr.CodeConfigInvalid, quillerr.CodeOf(err))
		})
	}
}

func TestLimiter_BurstThenReject(t *testing.T) {
	l := testLimiter(t, map[string]RouteConfig{
		"generate": {RequestsPerMinute: 60, Burst: 3},
	})
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("generate", "alice"), "request %d within burst", i)
	}

	err := l.Allow("generate", "alice")
	require.Error(t, err)
	assert.True(t, quillerr.IsRateLimited(err))
	secs, ok := quillerr.RetryAfterSeconds(err)
	require.True(t, ok)
	assert.Equal(t, 1, secs)
}

func TestLimiter_RefillAdmitsAgain(t *testing.T) {
	l := testLimiter(t, map[string]RouteConfig{
		"generate": {RequestsPerMinute: 60, Burst: 1},
	})
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	require.NoError(t, l.Allow("generate", "alice"))
	require.Error(t, l.Allow("generate", "alice"))

	// 60 rpm refills one token per second.
	now = now.Add(time.Second)
	require.NoError(t, l.Allow("generate", "alice"))
}

func TestLimiter_WindowAdmissionBound(t *testing.T) {
	// Over any window of T seconds a caller gets at most burst + rate*T
	// admissions, regardless of how often they knock.
	l := testLimiter(t, map[string]RouteConfig{
		"generate": {RequestsPerMinute: 60, Burst: 5},
	})
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	const window = 10 * time.Second
	const step = 100 * time.Millisecond

	admitted := 0
	for elapsed := time.Duration(0); elapsed < window; elapsed += step {
		if l.Allow("generate", "alice") == nil {
			admitted++
		}
		now = now.Add(step)
	}

	// burst 5 + 1 token/s over 10s. Demand far exceeds supply, so the
	// bound is met exactly.
	assert.Equal(t, 15, admitted)
}

func TestLimiter_CallersAndRoutesIndependent(t *testing.T) {
	l := testLimiter(t, map[string]RouteConfig{
		"generate": {RequestsPerMinute: 60, Burst: 1},
		"search":   {RequestsPerMinute: 60, Burst: 1},
	})
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	require.NoError(t, l.Allow("generate", "alice"))
	require.Error(t, l.Allow("generate", "alice"))

	// Other callers and other routes have their own buckets.
	require.NoError(t, l.Allow("generate", "bob"))
	require.NoError(t, l.Allow("search", "alice"))
}

func TestLimiter_UnconfiguredRouteAdmitted(t *testing.T) {
	l := testLimiter(t, map[string]RouteConfig{
		"generate": {RequestsPerMinute: 60, Burst: 1},
	})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow("health", "alice"))
	}
}

func TestLimiter_ConcurrentAdmissionBound(t *testing.T) {
	l := testLimiter(t, map[string]RouteConfig{
		"generate": {RequestsPerMinute: 60, Burst: 10},
	})
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("generate", "alice") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// Frozen clock means no refill: exactly the burst admits.
	assert.Equal(t, int64(10), admitted.Load())
}

func TestLimiter_CleanupEvictsStaleKeys(t *testing.T) {
	l := testLimiter(t, map[string]RouteConfig{
		"generate": {RequestsPerMinute: 60, Burst: 5},
	})
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	require.NoError(t, l.Allow("generate", "alice"))
	require.NoError(t, l.Allow("generate", "bob"))

	now = now.Add(11 * time.Minute)
	l.cleanup()

	l.mu.Lock()
	remaining := len(l.buckets)
	l.mu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestLimiter_CleanupEnforcesMaxKeys(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	l, err := New(Config{
		Enabled: true,
		MaxKeys: 2,
		Routes:  map[string]RouteConfig{"generate": {RequestsPerMinute: 60, Burst: 5}},
	}, done)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	require.NoError(t, l.Allow("generate", "a"))
	now = now.Add(time.Second)
	require.NoError(t, l.Allow("generate", "b"))
	now = now.Add(time.Second)
	require.NoError(t, l.Allow("generate", "c"))

	l.cleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.buckets, 2)
	// Oldest key evicted first.
	assert.NotContains(t, l.buckets, bucketKey("generate", "a"))
}
