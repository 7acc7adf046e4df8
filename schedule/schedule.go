// Package schedule provides recurring execution of configured jobs.
package schedule

import (
	"strings"
	"time"

	"github.com/flowd-sh/flowd/errors"
)

// Schedule represents one recurring execution of a job.
type Schedule struct {
	ID              string
	JobID           string
	Spec            string // original interval spec, for display
	IntervalSeconds int
	State           string
	NextRunAt       *time.Time
	LastRunAt       *time.Time
	LastHistoryID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// State constants for schedules
const (
	StateActive = "active" // runs on schedule
	StatePaused = "paused" // temporarily paused by user
)

// ParseSpec parses an interval spec of the form "every <duration>"
// (e.g. "every 15m", "every 24h") or a bare Go duration.
func ParseSpec(spec string) (time.Duration, error) {
	s := strings.TrimSpace(spec)
	s = strings.TrimPrefix(s, "every ")

	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidConfig, "invalid schedule spec %q: %v", spec, err)
	}
	if d < time.Second {
		return 0, errors.Wrapf(errors.ErrInvalidConfig, "schedule interval %q below 1s", spec)
	}
	return d, nil
}
