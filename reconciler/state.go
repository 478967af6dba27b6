package reconciler

// State is the phase the loop is in.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateParsing
	StatePublishing
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateParsing:
		return "parsing"
	case StatePublishing:
		return "publishing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
