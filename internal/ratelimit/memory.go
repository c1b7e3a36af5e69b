package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// StoreLimiter adapts a ulule limiter store to Allower. It serves as the
// in-process fallback when Redis is not configured.
type StoreLimiter struct {
	Store  limiter.Store
	Prefix string

	mu       sync.Mutex
	limiters map[string]*limiter.Limiter
}

// NewMemoryLimiter returns a StoreLimiter backed by ulule's in-memory store.
func NewMemoryLimiter(prefix string) *StoreLimiter {
	return &StoreLimiter{
		Store:  memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}),
		Prefix: prefix,
	}
}

// Allow counts one event for key under a fixed window of the given size.
func (s *StoreLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if s == nil || s.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := s.limiterFor(window, max)
	res, err := lim.Get(ctx, fmt.Sprintf("%d:%d:%s", window.Milliseconds(), max, key))
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}

func (s *StoreLimiter) limiterFor(window time.Duration, max int) *limiter.Limiter {
	id := fmt.Sprintf("%d/%d", window.Milliseconds(), max)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiters == nil {
		s.limiters = make(map[string]*limiter.Limiter)
	}
	if lim, ok := s.limiters[id]; ok {
		return lim
	}
	lim := limiter.New(s.Store, limiter.Rate{Period: window, Limit: int64(max)})
	s.limiters[id] = lim
	return lim
}
