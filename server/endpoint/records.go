package endpoint

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/beachhead/publisher"
)

// Querier reads published entries back from the store.
type Querier interface {
	Query(ctx context.Context, prefix string) ([]publisher.Entry, error)
}

// Records lists the entries currently published under prefix. The optional
// domain query parameter narrows the listing to one domain.
func Records(q Querier, prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := prefix
		if domain := strings.ToLower(strings.TrimSpace(c.Query("domain"))); domain != "" {
			p += domain + ":"
		}

		entries, err := q.Query(c.Request.Context(), p)
		if err != nil {
			RespondWithError(c, err)
			return
		}
		if entries == nil {
			entries = []publisher.Entry{}
		}
		RespondOKWithCount(c, entries, len(entries))
	}
}
