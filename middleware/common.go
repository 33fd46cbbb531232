package middleware

import (
	"time"

	"github.com/cloudreve/davserver/application/constants"
	"github.com/cloudreve/davserver/application/dependency"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// CacheControl 屏蔽客户端缓存
func CacheControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "private, no-cache")
	}
}

// InitializeHandling is added at the beginning of handler chain, it did following setups:
// 1. Inject dependency manager into request context
// 2. Generate and inject correlation ID for diagnostic.
func InitializeHandling(dep dependency.Dep) gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := uuid.FromStringOrNil(c.GetHeader(constants.CorrelationHeader))
		if cid == uuid.Nil {
			cid = uuid.Must(uuid.NewV4())
		}

		ctx, l := logging.WithCorrelation(c.Request.Context(), dep.Logger(), cid)
		ctx = dep.ForkWithLogger(ctx, l)
		c.Request = c.Request.WithContext(ctx)
		c.Header(constants.CorrelationHeader, cid.String())

		c.Next()
	}
}

// Logging logs incoming request info
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Start timer
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		l := logging.FromContext(c.Request.Context())
		logging.Request(l, c.Writer.Status(), c.Request.Method, c.ClientIP(), path,
			c.Errors.ByType(gin.ErrorTypePrivate).String(), start)
	}
}
