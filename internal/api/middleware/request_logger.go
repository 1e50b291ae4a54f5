package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/utils"
)

// RequestLogger logs one line per request. Paths in quiet (health probes)
// are only logged when they fail.
func RequestLogger(l *logrus.Logger, quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set("request_id", reqID)

		c.Next()

		status := c.Writer.Status()
		if _, ok := skip[c.FullPath()]; ok && status < 400 {
			return
		}

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"user_id":    c.GetString("user_id"),
		}
		if n := c.GetInt(TokensKey); n > 0 {
			fields["tokens"] = n
		}
		entry := l.WithFields(fields)

		if last := c.Errors.Last(); last != nil {
			entry = entry.WithFields(logrus.Fields{
				"code":  utils.CodeOf(last.Err),
				"error": last.Err.Error(),
			})
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
