package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.Use(RateLimitMiddleware(rl))
	g.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return g
}

func hit(g *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = ip + ":12345"
	g.ServeHTTP(w, req)
	return w
}

func TestRateLimiterAllowSameBucketPerIP(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 2)

	// one IP shares one bucket: burst of 2, then refusal
	if !rl.Allow("192.0.2.1") || !rl.Allow("192.0.2.1") {
		t.Fatal("burst requests should be allowed")
	}
	if rl.Allow("192.0.2.1") {
		t.Error("third request within the burst window should be refused")
	}

	// a different IP has its own budget
	if !rl.Allow("192.0.2.2") {
		t.Error("a fresh IP should not inherit another IP's exhaustion")
	}
}

func TestRateLimitMiddlewareBurstBoundary(t *testing.T) {
	g := limitedRouter(NewRateLimiter(rate.Limit(1), 5))

	for i := 0; i < 5; i++ {
		if w := hit(g, "192.0.2.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d should pass within the burst, got %d", i+1, w.Code)
		}
	}

	w := hit(g, "192.0.2.1")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("request past the burst should get 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Rate limit exceeded") {
		t.Errorf("unexpected 429 body: %s", w.Body.String())
	}
}

func TestRateLimitMiddlewareIPsAreIndependent(t *testing.T) {
	g := limitedRouter(NewRateLimiter(rate.Limit(1), 1))

	if w := hit(g, "192.0.2.1"); w.Code != http.StatusOK {
		t.Fatalf("first IP should pass, got %d", w.Code)
	}
	if w := hit(g, "192.0.2.1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("first IP should now be limited, got %d", w.Code)
	}
	if w := hit(g, "192.0.2.2"); w.Code != http.StatusOK {
		t.Errorf("second IP should be unaffected, got %d", w.Code)
	}
}

func TestRateLimiterCapResetsBuckets(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)

	for i := 0; i <= ipLimiterCap; i++ {
		rl.Allow(fmt.Sprintf("10.%d.%d.%d", i>>16, (i>>8)&0xff, i&0xff))
	}
	if rl.limiters.Size() <= ipLimiterCap {
		t.Fatalf("expected the set to exceed the cap, got %d", rl.limiters.Size())
	}

	// the next request tips the set over and starts fresh
	rl.Allow("192.0.2.1")
	if n := rl.limiters.Size(); n != 1 {
		t.Errorf("expected 1 limiter after the reset, got %d", n)
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		maxBytes int64
		bodySize int
		want     int
	}{
		{"under limit", 1024, 512, http.StatusOK},
		{"at limit", 1024, 1024, http.StatusOK},
		{"over limit", 1024, 2048, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gin.New()
			g.Use(MaxBytesMiddleware(tt.maxBytes))
			g.POST("/test", func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("x", tt.bodySize)))
			g.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("body of %d bytes with limit %d: expected %d, got %d",
					tt.bodySize, tt.maxBytes, tt.want, w.Code)
			}
		})
	}
}

func TestMaxBytesMiddlewareCapsUndeclaredBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	g := gin.New()
	g.Use(MaxBytesMiddleware(100))
	g.POST("/test", func(c *gin.Context) {
		// reading past the cap fails even without a Content-Length check
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("x", 200)))
	req.ContentLength = -1 // chunked upload, length unknown up front
	g.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized chunked body should be refused, got %d", w.Code)
	}
}
