// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package ratelimit provides a per-caller token bucket keyed by route.
// Each (route, caller) pair gets its own bucket; admission is O(1) under
// a single mutex and refill is computed lazily from elapsed time.
package ratelimit

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// RouteConfig sets the bucket parameters for a single route.
type RouteConfig struct {
	RequestsPerMinute int
	Burst             int
}

// Config configures the limiter. Routes without an entry are not limited.
type Config struct {
	Enabled bool
	Routes  map[string]RouteConfig
	MaxKeys int
}

func (c *Config) applyDefaults() {
	if c.MaxKeys == 0 {
		c.MaxKeys = 10000
	}
}

func (c *Config) validate() error {
	if c.MaxKeys < 0 {
		return quillerr.Errorf(quillerr.CodeConfigInvalid,
			"rate limit max keys must not be negative (got %d)", c.MaxKeys)
	}
	for route, rc := range c.Routes {
		if rc.RequestsPerMinute < 0 {
			return quillerr.Errorf(quillerr.CodeConfigInvalid,
				"rate limit for route %q: requests per minute must not be negative (got %d)",
				route, rc.RequestsPerMinute)
		}
		if rc.RequestsPerMinute > 0 && rc.Burst <= 0 {
			return quillerr.Errorf(quillerr.CodeConfigInvalid,
				"rate limit for route %q: burst must be positive when requests per minute is set (got burst=%d, rpm=%d)",
				route, rc.Burst, rc.RequestsPerMinute)
		}
	}
	return nil
}

type bucket struct {
	tokens     float64
	lastSeen   time.Time
	lastRefill time.Time
}

// Limiter admits or rejects requests per (route, caller). The zero-value
// nil *Limiter admits everything, so callers need no enabled checks.
type Limiter struct {
	cfg     Config
	nowFunc func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a Limiter and starts its stale-key cleanup loop, which stops
// when done is closed. Returns nil (admit-all) when disabled.
func New(cfg Config, done <-chan struct{}) (*Limiter, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	l := &Limiter{
		cfg:     cfg,
		nowFunc: time.Now,
		buckets: make(map[string]*bucket),
	}
	go l.cleanupLoop(done)
	return l, nil
}

// Allow admits one request for caller on route, or returns a
// ratelimit.exceeded error carrying the seconds until a token is
// available. Routes without configuration are always admitted.
func (l *Limiter) Allow(route, caller string) error {
	if l == nil {
		return nil
	}
	rc, ok := l.cfg.Routes[route]
	if !ok || rc.RequestsPerMinute <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey(route, caller)
	b := l.getOrCreateLocked(key, rc)
	now := l.nowFunc()
	b.lastSeen = now

	ratePerSecond := float64(rc.RequestsPerMinute) / 60.0
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * ratePerSecond
	if b.tokens > float64(rc.Burst) {
		b.tokens = float64(rc.Burst)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		retryAfter := math.Ceil((1 - b.tokens) / ratePerSecond)
		if retryAfter < 1 {
			retryAfter = 1
		}
		slog.Warn("rate limit exceeded",
			"route", route, "caller_hash", hashKey(caller), "retry_after_seconds", retryAfter)
		return quillerr.RateLimited(route, retryAfter)
	}
	b.tokens--
	return nil
}

func (l *Limiter) getOrCreateLocked(key string, rc RouteConfig) *bucket {
	if b, ok := l.buckets[key]; ok {
		return b
	}
	now := l.nowFunc()
	b := &bucket{
		tokens:     float64(rc.Burst),
		lastSeen:   now,
		lastRefill: now,
	}
	l.buckets[key] = b
	return b
}

func (l *Limiter) cleanupLoop(done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-done:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	const staleThreshold = 10 * time.Minute

	type entry struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.buckets))
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > staleThreshold {
			delete(l.buckets, key)
		} else {
			entries = append(entries, entry{key: key, lastSeen: b.lastSeen})
		}
	}

	if l.cfg.MaxKeys > 0 && len(entries) > l.cfg.MaxKeys {
		slices.SortFunc(entries, func(a, b entry) int {
			return a.lastSeen.Compare(b.lastSeen)
		})
		toEvict := len(entries) - l.cfg.MaxKeys
		for i := 0; i < toEvict; i++ {
			delete(l.buckets, entries[i].key)
		}
		slog.Warn("rate limiter key cap enforced",
			"evicted", toEvict, "max_keys", l.cfg.MaxKeys, "remaining", len(l.buckets))
	}
}

func bucketKey(route, caller string) string {
	if caller == "" {
		caller = "caller:unknown"
	}
	return route + "|" + caller
}

// hashKey returns the first 8 hex chars of SHA-256(key) for log privacy.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:4])
}
