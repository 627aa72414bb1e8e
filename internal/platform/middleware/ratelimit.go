package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL is how long a client's limiter is kept after its last request.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		IdleTTL:           10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one token bucket per client key.
type limiterStore struct {
	mu        sync.Mutex
	clients   map[string]*client
	cfg       RateLimitConfig
	lastSweep time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &limiterStore{clients: make(map[string]*client), cfg: cfg}
}

func (s *limiterStore) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > s.cfg.IdleTTL {
		for k, cl := range s.clients {
			if now.Sub(cl.lastSeen) > s.cfg.IdleTTL {
				delete(s.clients, k)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimit limits each client IP to cfg.RequestsPerSecond with bursts of
// cfg.BurstSize. A non-positive rate disables limiting.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := newLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			lim := store.get(c.RealIP(), now)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			r := lim.ReserveN(now, 1)
			if !r.OK() {
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(lim.TokensAt(now))))
			return next(c)
		}
	}
}
