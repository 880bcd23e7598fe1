package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/fault"
)

// rateLimiter enforces fixed-window per-endpoint-class quotas keyed by
// remote address. WebSocket upgrades are exempt by simply not being
// wrapped; health endpoints are wrapped under their own generous class.
type rateLimiter struct {
	enabled bool
	quotas  map[string]int
	window  time.Duration

	mu       sync.Mutex
	counters map[string]*windowCounter
	clock    func() time.Time
}

type windowCounter struct {
	windowStart time.Time
	count       int
}

const defaultQuota = 200

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		enabled:  cfg.Enabled,
		quotas:   cfg.Quotas,
		window:   time.Minute,
		counters: make(map[string]*windowCounter),
		clock:    time.Now,
	}
}

// allow counts one request for class/source; within one window the Nth
// request succeeds iff N <= quota. retryAfter is the whole seconds until the
// window rolls.
func (l *rateLimiter) allow(class, source string) (bool, int) {
	if !l.enabled {
		return true, 0
	}
	quota, ok := l.quotas[class]
	if !ok {
		quota = defaultQuota
	}

	now := l.clock()
	windowStart := now.Truncate(l.window)
	key := class + "|" + source

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counters[key]
	if c == nil || !c.windowStart.Equal(windowStart) {
		c = &windowCounter{windowStart: windowStart}
		l.counters[key] = c
	}
	c.count++
	if c.count <= quota {
		return true, 0
	}
	retryAfter := int(windowStart.Add(l.window).Sub(now).Seconds()) + 1
	if retryAfter < 1 {
		retryAfter = 1
	}
	if retryAfter > int(l.window.Seconds()) {
		retryAfter = int(l.window.Seconds())
	}
	return false, retryAfter
}

// sweep drops counters from past windows; called opportunistically.
func (l *rateLimiter) sweep() {
	now := l.clock()
	windowStart := now.Truncate(l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if !c.windowStart.Equal(windowStart) {
			delete(l.counters, key)
		}
	}
}

// limit wraps a handler with the class quota.
func (s *Server) limit(class string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.countRequest(r, class)
		ok, retryAfter := s.limiter.allow(class, sourceOf(r))
		if !ok {
			s.metrics.countLimited(r, class)
			writeError(w, fault.New(fault.RateLimited,
				"rate limit exceeded for %s", class).WithRetryAfter(retryAfter))
			return
		}
		next(w, r)
	}
}

func sourceOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
