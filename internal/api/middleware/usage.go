package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/models"
)

// TokensKey is set by handlers that know how many model tokens a request used.
const TokensKey = "usage_tokens"

type UsageRecorder interface {
	Record(ctx context.Context, u *models.APIUsage) error
}

// TrackUsage records one row per request after the handler finishes.
// Recording runs off the request path and never fails the request.
func TrackUsage(rec UsageRecorder, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if rec == nil {
			return
		}
		userID, _ := c.Get("user_id")
		uid, _ := userID.(string)
		tokens := c.GetInt(TokensKey)

		row := &models.APIUsage{
			UserID:    uid,
			Endpoint:  c.FullPath(),
			Method:    c.Request.Method,
			Status:    c.Writer.Status(),
			Tokens:    tokens,
			LatencyMS: time.Since(start).Milliseconds(),
			CreatedAt: start.UTC(),
		}
		ctx := context.WithoutCancel(c.Request.Context())
		go func() {
			if err := rec.Record(ctx, row); err != nil && log != nil {
				log.WithError(err).Warn("usage record failed")
			}
		}()
	}
}
