package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/procflow/procflow/internal/ratelimit"
	"github.com/procflow/procflow/pkg/metrics"
)

// RateLimitMiddleware admits requests through the given bucket. Identity is
// the authenticated subject when present (per-user, NAT-friendly), otherwise
// the client IP, so anonymous and authenticated traffic are counted apart.
// Denials carry Retry-After and a retryAfterSeconds body field; an error from
// a fail-closed limiter maps to 503 rather than silently admitting.
func RateLimitMiddleware(lim ratelimit.Limiter, bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Subject(c)
		if identity == "" {
			ip := c.ClientIP()
			if ip == "" {
				ip = "unknown"
			}
			identity = "ip:" + ip
		} else {
			identity = "sub:" + identity
		}

		d, err := lim.Allow(c.Request.Context(), identity, bucket)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "rate limit check failed"})
			return
		}
		if d.Remaining >= 0 {
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
		}
		if !d.Reset.IsZero() {
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", d.Reset.Unix()))
		}
		if !d.Allowed {
			retry := int(d.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retry))
			metrics.RateLimitRejected.WithLabelValues(lim.Name(), bucket).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate limit exceeded",
				"retryAfterSeconds": retry,
			})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues(lim.Name(), bucket).Inc()
		c.Next()
	}
}
