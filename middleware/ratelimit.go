package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// bucketIdleTimeout is how long an unused client bucket is kept.
const bucketIdleTimeout = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client.
type clientLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rps       float64
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   burst,
		now:     time.Now,
	}
}

// allow takes one token from the bucket of client.
func (m *clientLimiter) allow(client string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) > bucketIdleTimeout {
		for k, b := range m.buckets {
			if now.Sub(b.lastSeen) > bucketIdleTimeout {
				delete(m.buckets, k)
			}
		}
		m.lastSweep = now
	}

	b, ok := m.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(m.rps), m.burst)}
		m.buckets[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimit 按客户端 IP 限制请求频率，超出时返回 429
func RateLimit(config *conf.RateLimit) gin.HandlerFunc {
	if !config.Enabled || config.RPS <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := newClientLimiter(config.RPS, burst)

	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			logging.FromContext(c.Request.Context()).Debug("Rate limit exceeded for %s.", c.ClientIP())
			c.Header("Retry-After", "1")
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		c.Next()
	}
}
