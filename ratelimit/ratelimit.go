// Package ratelimit provides sliding-window limiters keyed by an arbitrary string
// (chat user id, client IP). Memory is process-local; Redis shares the window across replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more event for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds the window shape.
type Config struct {
	Limit  int           // max events per key per window
	Window time.Duration // sliding window length
}

// Memory implements a simple sliding window limiter per key.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	now     func() time.Time
}

type entry struct {
	events   []time.Time
	lastSeen time.Time
}

// NewMemory creates a limiter and starts a cleanup goroutine bound to ctx.
func NewMemory(ctx context.Context, cfg Config) *Memory {
	m := &Memory{entries: make(map[string]*entry), cfg: cfg, now: time.Now}
	go m.cleanupLoop(ctx)
	return m
}

// cleanupLoop periodically removes stale entries
func (m *Memory) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup removes keys idle for more than two windows.
func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.Sub(e.lastSeen) > m.cfg.Window*2 {
			delete(m.entries, k)
		}
	}
}

// Allow records an event for key when it fits. A non-positive limit disables limiting.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	if m.cfg.Limit <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok {
		m.entries[key] = &entry{events: []time.Time{now}, lastSeen: now}
		return true, nil
	}
	cutoff := now.Add(-m.cfg.Window)
	kept := e.events[:0]
	for _, t := range e.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.events = kept
	e.lastSeen = now
	if len(e.events) >= m.cfg.Limit {
		return false, nil
	}
	e.events = append(e.events, now)
	return true, nil
}

// len reports tracked keys; used by tests.
func (m *Memory) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
