package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/cardpipe/cardpipe/internal/platform/ctxutil"
)

// AttachRequestContext lifts the job id path parameter (present on every
// job-scoped route) into the request context, so request logging can
// surface it without each handler threading it through explicitly.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.Param("id"); id != "" {
			ctx = ctxutil.WithJobID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
