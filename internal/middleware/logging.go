package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/alimgiray/gitalizer/pkg/logger"
)

// RequestLogger logs every request with its status and latency
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last()).Error("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
