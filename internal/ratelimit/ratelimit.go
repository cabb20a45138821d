// Package ratelimit implements a per-identity token-bucket rate limiter.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/halcyonsec/aegis/internal/types"
)

const (
	// DefaultRate is tokens added per second.
	DefaultRate = 0.5
	// DefaultCapacity is the burst size.
	DefaultCapacity = 5
	// DefaultMaxIdentities bounds the bucket cache; least recently used
	// identities are evicted and start with a full bucket on return.
	DefaultMaxIdentities = 10000
)

// bucket holds one identity's token state. Refill and consume happen under
// the bucket's own lock so identities never contend with each other.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Limiter is a token-bucket rate limiter keyed by identity. Buckets are
// created lazily and held in a bounded LRU cache.
type Limiter struct {
	rate     float64
	capacity float64

	mu      sync.Mutex
	buckets *lru.Cache[string, *bucket]

	now func() time.Time
}

// New creates a Limiter. rate is tokens per second, capacity the burst
// size, maxIdentities the bucket cache bound. Invalid parameters are
// configuration errors.
func New(rate float64, capacity, maxIdentities int) (*Limiter, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %g", rate)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}
	if maxIdentities < 1 {
		return nil, fmt.Errorf("max identities must be at least 1, got %d", maxIdentities)
	}

	cache, err := lru.New[string, *bucket](maxIdentities)
	if err != nil {
		return nil, fmt.Errorf("creating bucket cache: %w", err)
	}

	return &Limiter{
		rate:     rate,
		capacity: float64(capacity),
		buckets:  cache,
		now:      time.Now,
	}, nil
}

// Allow reports whether the identity may proceed and consumes one token if
// so. The returned RateInfo carries remaining tokens and, when denied, the
// seconds until one token becomes available. Safe for concurrent use.
func (l *Limiter) Allow(identity string) (bool, types.RateInfo) {
	b := l.bucketFor(identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, types.RateInfo{
			TokensRemaining: int(b.tokens),
			ResetInSeconds:  l.resetIn(b.tokens),
		}
	}

	return false, types.RateInfo{
		TokensRemaining: 0,
		ResetInSeconds:  l.resetIn(b.tokens),
	}
}

// Tokens reports the identity's current token count without consuming.
// Mainly for status reporting and tests.
func (l *Limiter) Tokens(identity string) float64 {
	b := l.bucketFor(identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := l.now().Sub(b.lastRefill).Seconds()
	tokens := b.tokens + elapsed*l.rate
	if tokens > l.capacity {
		tokens = l.capacity
	}
	return tokens
}

// bucketFor returns the identity's bucket, creating a full one on first
// sight. The cache lock is held only for the lookup, never during refill.
func (l *Limiter) bucketFor(identity string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(identity); ok {
		return b
	}
	b := &bucket{tokens: l.capacity, lastRefill: l.now()}
	l.buckets.Add(identity, b)
	return b
}

// resetIn returns seconds until the bucket holds a full token again.
func (l *Limiter) resetIn(tokens float64) float64 {
	if tokens >= 1 {
		return 0
	}
	return (1 - tokens) / l.rate
}
