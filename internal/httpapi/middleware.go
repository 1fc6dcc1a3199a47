package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	logFieldsKey = "log_fields"
)

// requestID tags every request with a uuid, honoring an id supplied by
// the caller so a request can be traced across services.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestDeadline puts a soft overall budget on each request. Downstream
// calls inherit the deadline through the request context.
func requestDeadline(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authRequired enforces the shared token when one is configured. Both
// Authorization: Bearer and X-API-Key carry the same token; the bearer
// header wins when both are present.
func authRequired(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		var got string
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			got = strings.TrimPrefix(h, "Bearer ")
		} else if k := c.GetHeader("X-API-Key"); k != "" {
			got = k
		}
		if got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
			return
		}
		c.Next()
	}
}

// accessLog emits one structured line per request, merging in any fields
// the handler attached under logFieldsKey.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if extra, ok := c.Get(logFieldsKey); ok {
			if kv, ok := extra.([]interface{}); ok {
				fields = append(fields, kv...)
			}
		}
		s.log.Info("request", fields...)
	}
}
