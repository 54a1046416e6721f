package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter provides rate limiting functionality
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// TokenBucketLimiter implements token bucket rate limiting. Each key starts with a full bucket
// of maxTokens and regains one token every refillRate.
type TokenBucketLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxTokens  int
	refillRate time.Duration
	idle       time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewTokenBucketLimiter creates a new token bucket rate limiter
func NewTokenBucketLimiter(maxTokens int, refillRate time.Duration) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		idle:       time.Hour,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// NewPerMinuteLimiter allows requestsPerMinute requests per key and minute, with bursts up to
// the same amount.
func NewPerMinuteLimiter(requestsPerMinute int) *TokenBucketLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return NewTokenBucketLimiter(requestsPerMinute, time.Minute/time.Duration(requestsPerMinute))
}

// Allow checks if a request is allowed
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: l.maxTokens, lastRefill: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if refill := int(now.Sub(b.lastRefill) / l.refillRate); refill > 0 {
		b.tokens = min(b.tokens+refill, l.maxTokens)
		b.lastRefill = b.lastRefill.Add(time.Duration(refill) * l.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Reset resets the rate limit for a key
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
	return nil
}

// StartCleanup removes idle buckets every interval until Stop is called.
func (l *TokenBucketLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.evictIdle()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop
func (l *TokenBucketLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *TokenBucketLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
		}
	}
}
