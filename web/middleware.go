package web

import (
	"net/http"

	"github.com/deemkeen/anancus/metrics"
	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// ipLimiterCap bounds how many per-IP limiters are kept before the set
// is reset wholesale.
const ipLimiterCap = 10000

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	limiters *xsync.MapOf[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// NewRateLimiter builds a per-IP limiter allowing r requests per second
// with bursts of b.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: xsync.NewMapOf[string, *rate.Limiter](),
		rate:     r,
		burst:    b,
	}
}

// Allow reports whether a request from this IP may proceed. The limiter
// set is reset once it grows past ipLimiterCap, trading a brief burst
// allowance for bounded memory.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limiters.Size() > ipLimiterCap {
		rl.limiters.Clear()
	}
	limiter, _ := rl.limiters.LoadOrCompute(ip, func() *rate.Limiter {
		return rate.NewLimiter(rl.rate, rl.burst)
	})
	return limiter.Allow()
}

// RateLimitMiddleware rejects requests over the per-IP budget with 429.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			metrics.RateLimitedTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// MaxBytesMiddleware rejects oversized request bodies. Requests without
// a declared length are still capped by MaxBytesReader while the
// handler reads them.
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			metrics.OversizeRejectedTotal.Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
