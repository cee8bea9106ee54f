package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/cardpipe/cardpipe/internal/http/response"
	"github.com/cardpipe/cardpipe/internal/platform/apierr"
	"github.com/cardpipe/cardpipe/internal/platform/drain"
)

// DrainGuard rejects every request with 503 once the gateway has begun a
// graceful shutdown (spec.md §6.1's "503 down"), rather than letting new
// work race the listener close.
func DrainGuard(d *drain.Flag) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Active() {
			response.RespondError(c, apierr.New(apierr.KindUnavailable, nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
