package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Memory — token bucket на ключ, хранится в LRU с TTL.
// Ключ, не встречавшийся дольше окна, вытесняется и начинает с полного бакета.
type Memory struct {
	mu       sync.Mutex
	buckets  *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	requests int
}

// NewMemory создаёт лимитер: requests запросов за window, не более maxKeys ключей.
func NewMemory(requests int, window time.Duration, maxKeys int) *Memory {
	return &Memory{
		buckets:  expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, window),
		limit:    rate.Every(window / time.Duration(requests)),
		requests: requests,
	}
}

// Allow расходует один токен ключа.
func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now()

	m.mu.Lock()
	lim, ok := m.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(m.limit, m.requests)
	}
	// Add продлевает TTL активного ключа
	m.buckets.Add(key, lim)
	m.mu.Unlock()

	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Result{Allowed: false, Limit: m.requests, RetryAfter: delay}, nil
	}

	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: m.requests, Remaining: remaining}, nil
}
