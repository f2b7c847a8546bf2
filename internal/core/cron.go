package core

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var sweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSweepSpec validates the cadence of automatic sweeps. Both 5-field
// expressions and descriptors such as "@every 1m" are accepted.
func ParseSweepSpec(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("sweep spec is required")
	}
	schedule, err := sweepParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep spec: %w", err)
	}
	return schedule, nil
}
