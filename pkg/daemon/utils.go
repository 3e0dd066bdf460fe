package daemon

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ginLogger routes gin request logs through logrus. Successful requests
// log at debug so a healthy UI polling the API stays quiet at info.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// later handlers can rewrite the path, capture it up front
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := time.Since(start).Round(time.Millisecond)
		statusCode := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency.String(),
			"method":     c.Request.Method,
			"path":       path,
		})

		switch {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		case statusCode >= http.StatusInternalServerError:
			entry.Errorf("%s %s %d", c.Request.Method, path, statusCode)
		case statusCode >= http.StatusBadRequest:
			entry.Warnf("%s %s %d", c.Request.Method, path, statusCode)
		default:
			entry.Debugf("%s %s %d", c.Request.Method, path, statusCode)
		}
	}
}
