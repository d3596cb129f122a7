package middleware

import (
	"sync"
	"time"

	"github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"github.com/juju/ratelimit"
)

// IPLimiter one token bucket per client ip
// IPLimiter 每个客户端 IP 一个令牌桶
type IPLimiter struct {
	rate     float64
	capacity int64

	mu      sync.Mutex
	buckets map[string]*limiterEntry
	sweep   time.Time
}

type limiterEntry struct {
	bucket *ratelimit.Bucket
	seen   time.Time
}

const limiterIdle = 10 * time.Minute

// NewIPLimiter rate tokens per second with the given burst capacity
func NewIPLimiter(rate float64, capacity int64) *IPLimiter {
	if capacity <= 0 {
		capacity = int64(rate) + 1
	}
	return &IPLimiter{
		rate:     rate,
		capacity: capacity,
		buckets:  make(map[string]*limiterEntry),
		sweep:    time.Now(),
	}
}

// Take consumes one token of key, false when the bucket is empty
// Take 消耗 key 的一个令牌，桶空时返回 false
func (l *IPLimiter) Take(key string) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.sweep) > limiterIdle {
		for k, e := range l.buckets {
			if now.Sub(e.seen) > limiterIdle {
				delete(l.buckets, k)
			}
		}
		l.sweep = now
	}
	e, ok := l.buckets[key]
	if !ok {
		e = &limiterEntry{bucket: ratelimit.NewBucketWithRate(l.rate, l.capacity)}
		l.buckets[key] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.bucket.TakeAvailable(1) > 0
}

// RateLimiter creates rate limiting middleware (supports dependency injection)
// RateLimiter 创建限流中间件（支持依赖注入）
// A nil limiter lets every request through.
func RateLimiter(l *IPLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l != nil && !l.Take(app.GetRequestIP(c)) {
			response := app.NewResponse(c)
			response.ToResponse(code.ErrorTooManyRequests)
			c.Abort()
			return
		}

		c.Next()
	}
}
