package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiters holds one token bucket per route pattern.
type limiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// newLimiters allows perMinute requests per endpoint. perMinute <= 0 disables limiting.
func newLimiters(perMinute, burst int) *limiters {
	if perMinute <= 0 {
		return &limiters{}
	}
	if burst < 1 {
		burst = 1
	}
	return &limiters{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// get returns the limiter for pattern, or nil when limiting is disabled.
func (l *limiters) get(pattern string) *rate.Limiter {
	if l.buckets == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets[pattern]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.buckets[pattern] = lim
	}
	return lim
}
