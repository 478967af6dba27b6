package reconciler

import "time"

// Tick outcomes.
const (
	TickOK        = "ok"
	TickPartial   = "partial"
	TickFailed    = "failed"
	TickCancelled = "cancelled"
)

// TickReport summarizes one tick.
type TickReport struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Status   string        `json:"status"`

	Declarations  int `json:"declarations"`
	Missing       int `json:"missing"`
	InvalidTokens int `json:"invalid_tokens"`
	Rejected      int `json:"rejected"`
	Records       int `json:"records"`
	Published     int `json:"published"`
	PublishErrors int `json:"publish_errors"`

	// Error is set when the inspector failed and nothing was published.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the tick lost any work.
func (r TickReport) Failed() bool {
	return r.Status == TickFailed || r.PublishErrors > 0
}
