package challenge

import (
	"context"
	"strings"
	"sync"
	"time"
)

type cachedSolver struct {
	base Solver
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedToken
}

type cachedToken struct {
	token   string
	expires time.Time
}

// NewCached wraps a Solver with short-lived payload-keyed token caching,
// so concurrent resolutions hitting the same challenge solve it once.
// Empty tokens are not cached. A ttl of 0 means 5 minutes.
func NewCached(base Solver, ttl time.Duration) Solver {
	if base == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &cachedSolver{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedToken),
	}
}

func (s *cachedSolver) Solve(ctx context.Context, payload string) (string, error) {
	key := strings.TrimSpace(payload)
	if key == "" {
		return s.base.Solve(ctx, payload)
	}

	s.mu.RLock()
	if c, ok := s.cache[key]; ok && c.token != "" && s.now().Before(c.expires) {
		s.mu.RUnlock()
		return c.token, nil
	}
	s.mu.RUnlock()

	token, err := s.base.Solve(ctx, payload)
	if err != nil || strings.TrimSpace(token) == "" {
		return token, err
	}

	s.mu.Lock()
	s.cache[key] = cachedToken{token: token, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}
