package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jaecopzm/postcraft-sub000/internal/gate"
	"github.com/jaecopzm/postcraft-sub000/pkg/realip"
)

// GateMiddleware runs the admission pipeline in front of a gin handler, for
// host applications that embed the gate in-process instead of calling the
// admission API. The account is taken from the X-Account-ID header and the
// client address from forwarding headers. Rejections answer with the same
// status mapping as the admit endpoint.
func GateMiddleware(g *gate.Gate, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader("X-Account-ID")
		clientAddr := realip.FromRequest(c.Request)

		decision, err := g.Admit(c.Request.Context(), action, accountID, clientAddr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":  "admission unavailable",
				"reason": string(decision.Reason),
			})
			return
		}
		if !decision.Admitted {
			status := http.StatusForbidden
			if decision.Reason == gate.ReasonRateLimited {
				status = http.StatusTooManyRequests
				retryAfter := time.Until(time.UnixMilli(decision.ResetAt))
				if retryAfter > 0 {
					c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				}
			}
			c.AbortWithStatusJSON(status, gin.H{"reason": string(decision.Reason)})
			return
		}
		c.Next()
	}
}
