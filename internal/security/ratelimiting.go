package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket per identifier (client IP, signer id).
// Thread-safe; idle identifiers are evicted by a background cleanup loop.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex

	limit rate.Limit
	burst int
	idle  time.Duration

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing maxTokens requests in a burst and refilling
// one token every refillRate.
//
// Example:
//
//	// Allow 5 requests per minute
//	limiter := NewRateLimiter(5, 12*time.Second) // 60s / 5 requests = 12s per token
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors:    make(map[string]*visitor),
		limit:       rate.Every(refillRate),
		burst:       maxTokens,
		idle:        time.Hour,
		stopCleanup: make(chan struct{}),
	}

	rl.cleanupTicker = time.NewTicker(10 * time.Minute)
	go rl.cleanup()

	return rl
}

// NewPerWindowLimiter allows n requests per window for each identifier.
func NewPerWindowLimiter(n int, window time.Duration) *RateLimiter {
	if n <= 0 {
		n = 1
	}
	return NewRateLimiter(n, window/time.Duration(n))
}

func (rl *RateLimiter) get(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[identifier]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[identifier] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Allow reports whether a request from identifier may proceed, consuming a token if so.
func (rl *RateLimiter) Allow(identifier string) bool {
	return rl.get(identifier).Allow()
}

// Reset removes the rate limit state for identifier.
func (rl *RateLimiter) Reset(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.visitors, identifier)
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			for id, v := range rl.visitors {
				if time.Since(v.lastSeen) > rl.idle {
					delete(rl.visitors, id)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}

// AccountLockout tracks failed password attempts per signer and locks the signer out
// after a threshold.
type AccountLockout struct {
	lockouts map[string]*lockoutState
	mu       sync.Mutex

	threshold int
	duration  time.Duration
	now       func() time.Time
}

type lockoutState struct {
	failedAttempts int
	lockedUntil    time.Time
	lastAttempt    time.Time
}

// NewAccountLockout creates a lockout tracker.
//
// Example:
//
//	// Lock a signer for 30 minutes after 10 wrong passwords
//	lockout := NewAccountLockout(10, 30*time.Minute)
func NewAccountLockout(threshold int, duration time.Duration) *AccountLockout {
	return &AccountLockout{
		lockouts:  make(map[string]*lockoutState),
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (al *AccountLockout) WithClock(now func() time.Time) *AccountLockout {
	al.now = now
	return al
}

// RecordFailedAttempt records a failed attempt and reports whether identifier is now locked.
// The counter restarts when the previous failure is older than the lockout duration.
func (al *AccountLockout) RecordFailedAttempt(identifier string) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	state, ok := al.lockouts[identifier]
	if !ok || now.Sub(state.lastAttempt) > al.duration {
		state = &lockoutState{}
		al.lockouts[identifier] = state
	}

	state.failedAttempts++
	state.lastAttempt = now

	if state.failedAttempts >= al.threshold {
		state.lockedUntil = now.Add(al.duration)
		return true
	}
	return false
}

// IsLocked reports whether identifier is currently locked. An expired lockout is cleared.
func (al *AccountLockout) IsLocked(identifier string) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	state, ok := al.lockouts[identifier]
	if !ok || state.lockedUntil.IsZero() {
		return false
	}
	if al.now().After(state.lockedUntil) {
		delete(al.lockouts, identifier)
		return false
	}
	return true
}

// ResetAttempts clears the failure counter. Call it after a successful attempt.
func (al *AccountLockout) ResetAttempts(identifier string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.lockouts, identifier)
}

// LockoutTimeRemaining returns how long identifier stays locked, or 0.
func (al *AccountLockout) LockoutTimeRemaining(identifier string) time.Duration {
	al.mu.Lock()
	defer al.mu.Unlock()

	state, ok := al.lockouts[identifier]
	if !ok || state.lockedUntil.IsZero() {
		return 0
	}
	remaining := state.lockedUntil.Sub(al.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
