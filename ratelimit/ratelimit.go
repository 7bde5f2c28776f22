// Package ratelimit enforces a fixed-window request limit per user and
// endpoint, backed by an in-process TTL cache.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"
)

type window struct {
	start time.Time
	count int
}

// Limiter allows up to limit requests per (user, endpoint) pair in each
// fixed window. Expired windows age out of the cache on their own.
type Limiter struct {
	cache  otter.Cache[string, window]
	limit  int
	period time.Duration
	now    func() time.Time

	mu sync.Mutex
}

func NewLimiter(limit int, period time.Duration) (*Limiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", period)
	}

	cache, err := otter.MustBuilder[string, window](10_000).
		WithTTL(period).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build rate limit cache: %w", err)
	}

	return &Limiter{
		cache:  cache,
		limit:  limit,
		period: period,
		now:    time.Now,
	}, nil
}

// Check reports whether the request is allowed and counts it when so.
func (l *Limiter) Check(userID int64, endpoint string) bool {
	key := fmt.Sprintf("%d:%s", userID, endpoint)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.cache.Get(key)
	if !ok || now.Sub(current.start) >= l.period {
		l.cache.Set(key, window{start: now, count: 1})
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.cache.Set(key, current)
	return true
}

// Close releases the cache's background resources.
func (l *Limiter) Close() {
	l.cache.Close()
}
