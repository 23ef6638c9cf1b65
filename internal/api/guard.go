package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPGuard applies a process-local per-IP limit to the admission API itself.
// It protects the service from abusive clients; it is unrelated to the
// store-backed limits the service enforces for its callers.
type IPGuard struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int

	lastSweep time.Time
}

// NewIPGuard creates a guard allowing requestsPerMinute per client address
// with the given burst.
func NewIPGuard(requestsPerMinute, burst int) *IPGuard {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1000
	}
	if burst <= 0 {
		burst = 100
	}
	return &IPGuard{
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (g *IPGuard) allow(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Bound memory: drop all per-IP state occasionally. Buckets refill to
	// full burst on recreation, which only errs in the client's favor.
	if time.Since(g.lastSweep) > 10*time.Minute {
		g.limiters = make(map[string]*rate.Limiter)
		g.lastSweep = time.Now()
	}

	lim, ok := g.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(g.limit, g.burst)
		g.limiters[ip] = lim
	}
	return lim.Allow()
}

// guardMiddleware creates a Gin middleware for the per-IP guard
func guardMiddleware(guard *IPGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !guard.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "Too many requests. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

// bodyLimitMiddleware limits the size of request bodies
func bodyLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    "request body too large",
				"max_size": maxSize,
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
