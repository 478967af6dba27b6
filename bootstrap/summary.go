package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kbukum/beachhead/component"
)

// Summary renders the startup overview: what each component is, how it is
// configured, and whether it is healthy.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	notes           []string
}

// NewSummary creates a new bootstrap summary tracker.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// AddNote appends a free-form line, such as the derived poll interval.
func (s *Summary) AddNote(format string, args ...any) {
	s.notes = append(s.notes, fmt.Sprintf(format, args...))
}

// Write prints the summary with live health from the registry.
func (s *Summary) Write(ctx context.Context, w io.Writer, registry *component.Registry) {
	version := s.version
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(w, "\n%s %s started in %.2fs\n", s.serviceName, version, s.startupDuration.Seconds())

	var comps []component.Component
	if registry != nil {
		comps = registry.All()
	}
	if len(comps) == 0 {
		fmt.Fprintf(w, "   └── No components registered\n")
	} else {
		fmt.Fprintf(w, "\nComponents\n")
		healthy := 0
		for i, c := range comps {
			h := c.Health(ctx)
			if h.Status == component.StatusHealthy {
				healthy++
			}
			line := c.Name()
			if d, ok := c.(component.Describable); ok {
				desc := d.Describe()
				if desc.Name != "" {
					line = desc.Name
				}
				if desc.Details != "" {
					line += ": " + desc.Details
				}
			}
			if h.Message != "" {
				line += " (" + h.Message + ")"
			}
			fmt.Fprintf(w, "   %s %s %s\n", treePrefix(i, len(comps)), healthIcon(h.Status), line)
		}
		if healthy == len(comps) {
			fmt.Fprintf(w, "\nAll components healthy (%d/%d)\n", healthy, len(comps))
		} else {
			fmt.Fprintf(w, "\nSome components have issues (%d/%d healthy)\n", healthy, len(comps))
		}
	}

	if len(s.notes) > 0 {
		fmt.Fprintf(w, "\nSettings\n")
		for i, n := range s.notes {
			fmt.Fprintf(w, "   %s %s\n", treePrefix(i, len(s.notes)), n)
		}
	}
	fmt.Fprintln(w)
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "[ok]"
	case component.StatusDegraded:
		return "[degraded]"
	case component.StatusUnhealthy:
		return "[down]"
	default:
		return "[?]"
	}
}
