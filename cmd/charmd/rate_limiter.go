// rate_limiter.go - Per-actor rate limiting for the attestation daemon
package main

import (
	"sync"
	"time"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Refill tokens based on time elapsed
	now := time.Now()
	timeElapsed := now.Sub(rl.lastRefill)
	refillCount := int(timeElapsed / rl.refillPeriod)

	if refillCount > 0 {
		rl.tokens += refillCount * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}

	return false
}

// ActorRateLimiter manages one token bucket per actor address, so a
// flood of mints from one manufacturer cannot starve verification
// requests from everyone else.
type ActorRateLimiter struct {
	mu           sync.RWMutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
}

// NewActorRateLimiter creates a new per-actor rate limiter
func NewActorRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *ActorRateLimiter {
	return &ActorRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// Allow checks if a request from an actor is allowed
func (arl *ActorRateLimiter) Allow(actor string) bool {
	arl.mu.Lock()
	limiter, exists := arl.limiters[actor]
	if !exists {
		limiter = NewRateLimiter(arl.maxTokens, arl.refillRate, arl.refillPeriod)
		arl.limiters[actor] = limiter
	}
	arl.mu.Unlock()

	return limiter.Allow()
}
