// Package followup implements the interval grammar, variable
// substitution, and scheduling glue for the Follow-up Scheduler
// (spec.md §4.4), grounded on the teacher's cron-driven scheduled send
// in cmd/gateway_cron.go generalized to a per-state sequence.
package followup

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var intervalPattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

// ParseInterval parses the follow-up interval grammar — an integer
// followed by a unit in {s, m, h, d, w} (spec.md §6 "Follow-up interval
// grammar").
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q: want ^\\d+[smhdw]$", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid interval magnitude %q: %w", s, err)
	}
	unit := m[2]
	var base time.Duration
	switch unit {
	case "s":
		base = time.Second
	case "m":
		base = time.Minute
	case "h":
		base = time.Hour
	case "d":
		base = 24 * time.Hour
	case "w":
		base = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval unit %q", unit)
	}
	return time.Duration(n) * base, nil
}
