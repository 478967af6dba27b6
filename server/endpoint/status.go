package endpoint

import (
	"github.com/gin-gonic/gin"

	"github.com/kbukum/beachhead/reconciler"
)

// StatusSource exposes the loop's progress.
type StatusSource interface {
	Status() (reconciler.TickReport, bool)
	State() reconciler.State
}

// Status reports the loop state and the last tick.
func Status(src StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"state": src.State()}
		if report, ok := src.Status(); ok {
			body["last_tick"] = report
		}
		RespondOK(c, body)
	}
}
