package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Liveness returns a handler for liveness probes. The process counts as
// stalled, and the probe fails, when the last completed tick ended more
// than stallAfter ago. Before the first tick, or with a zero stallAfter,
// serving HTTP is enough.
func Liveness(serviceName string, src StatusSource, stallAfter time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		body := gin.H{
			"status":    "alive",
			"service":   serviceName,
			"timestamp": now.UTC().Format(time.RFC3339),
		}
		if src == nil || stallAfter <= 0 {
			c.JSON(http.StatusOK, body)
			return
		}
		report, ok := src.Status()
		if !ok {
			c.JSON(http.StatusOK, body)
			return
		}
		idle := now.Sub(report.Started.Add(report.Duration))
		body["last_tick_age_ms"] = idle.Milliseconds()
		if idle > stallAfter {
			body["status"] = "stalled"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}
