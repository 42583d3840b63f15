package api

import (
	"sync"
	"time"
)

// RateLimiter implements per-client fixed window rate limiting
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*clientLimit
}

// clientLimit tracks one client's current window
type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit requests per window for each client key.
// A limit of zero or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientLimit),
	}
}

// Allow records one request for key and reports whether it fits the window
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: Window resets exactly once per period for consistent limiting
	if now.Sub(limit.windowStart) >= rl.window {
		limit.count = 1
		limit.windowStart = now
		return true
	}

	if limit.count >= rl.limit {
		return false
	}

	limit.count++
	return true
}

// Cleanup removes client entries idle for five windows (call periodically)
func (rl *RateLimiter) Cleanup() {
	if rl == nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, key)
		}
	}
}

// Len reports how many clients are tracked
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
