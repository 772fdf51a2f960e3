package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/jobchat/internal/metrics"
	"github.com/vovakirdan/jobchat/internal/proto"
)

// limiterPool keeps one token bucket per key. A zero rate disables limiting.
// Buckets idle long enough to have refilled completely are dropped; a fresh
// bucket behaves the same, so the map only holds recently active keys.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*pooledLimiter
	rps       float64
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type pooledLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const minLimiterIdle = time.Minute

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	idle := minLimiterIdle
	if rps > 0 {
		if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &limiterPool{
		m:     make(map[string]*pooledLimiter),
		rps:   rps,
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

func (p *limiterPool) allow(key string) bool {
	if p == nil || p.rps <= 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= p.idle {
		p.sweep(now)
	}
	e, ok := p.m[key]
	if !ok {
		e = &pooledLimiter{lim: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (p *limiterPool) sweep(now time.Time) {
	for key, e := range p.m {
		if now.Sub(e.lastSeen) >= p.idle {
			delete(p.m, key)
		}
	}
	p.lastSweep = now
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RateLimitMiddleware rejects requests of a user that exceed the pool's rate.
func RateLimitMiddleware(pool *limiterPool, route string, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := currentUserID(c)
		if pool.allow(route + ":" + userID) {
			c.Next()
			return
		}
		metrics.RateLimitHits.WithLabelValues(route).Inc()
		logger.Debug().Str("user_id", userID).Str("route", route).Msg("rate limited")
		c.Header("Retry-After", "1")
		abortWithError(c, http.StatusTooManyRequests, proto.CodeRateLimited, "too many requests")
	}
}
