package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestLogger tags every request with an id, logs it after completion and
// feeds the operation metrics. Only the console API endpoints are counted,
// probes of /healthz and /metrics stay out of the numbers.
func (api *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Writer.Header().Set("X-Request-Id", requestID)
		c.Next()

		if !strings.HasPrefix(c.FullPath(), "/api/") {
			return
		}

		status := c.Writer.Status()
		duration := time.Since(start)
		operation := operationName(c)
		namespace := c.Param("namespace")

		api.recorder.SetDuration(operation, namespace, duration)
		switch {
		case status >= http.StatusInternalServerError:
			api.recorder.IncFailure(operation, namespace)
		case status < http.StatusBadRequest:
			api.recorder.IncSuccess(operation, namespace)
		}

		api.logger.With("requestID", requestID).
			Infof("%s %s %d %s", c.Request.Method, c.Request.URL.Path, status, duration)
	}
}

// operationName derives a short metric label from the matched route, for
// example "put basic-auth" or "get access".
func operationName(c *gin.Context) string {
	pattern := c.FullPath()
	if i := strings.LastIndex(pattern, "/"); i != -1 {
		pattern = pattern[i+1:]
	}
	return strings.ToLower(c.Request.Method) + " " + pattern
}
