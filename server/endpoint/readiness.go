package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/beachhead/component"
)

// Readiness returns a handler for readiness probes. The service is ready
// once every component is healthy and the first reconciliation tick has
// completed, so records are known to be in the store.
func Readiness(serviceName string, checker HealthChecker, src StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ready"
		reason := ""

		if checker != nil && aggregate(checker(c.Request.Context())) == component.StatusUnhealthy {
			status, reason = "not_ready", "unhealthy components"
		}
		if src != nil && status == "ready" {
			if _, ok := src.Status(); !ok {
				status, reason = "not_ready", "no tick completed yet"
			}
		}

		httpStatus := http.StatusOK
		if status != "ready" {
			httpStatus = http.StatusServiceUnavailable
		}
		body := gin.H{
			"status":    status,
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if reason != "" {
			body["reason"] = reason
		}
		c.JSON(httpStatus, body)
	}
}
