package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule is the part of a settings entity that determines when it fires.
type Schedule struct {
	Frequency Frequency
	RunTime   string
	RunDays   []string
	LastRun   *time.Time
}

var weekdayCodes = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseRunTime parses an "HH:MM" time of day.
func ParseRunTime(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("run_time %q must be HH:MM", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("run_time %q has an invalid hour", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("run_time %q has an invalid minute", value)
	}
	return hour, minute, nil
}

// RunDayIndices maps weekday codes to sorted, de-duplicated weekday indices.
// Unrecognized codes are dropped.
func RunDayIndices(days []string) []int {
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		wd, ok := weekdayCodes[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			continue
		}
		if _, dup := seen[int(wd)]; dup {
			continue
		}
		seen[int(wd)] = struct{}{}
		out = append(out, int(wd))
	}
	sort.Ints(out)
	return out
}

// ComputeNextRun returns the next execution time for the schedule relative to now,
// or nil when there is no further run. Results are expressed in now's location.
func ComputeNextRun(now time.Time, s Schedule) *time.Time {
	switch s.Frequency {
	case FrequencyDaily:
		hour, minute, err := ParseRunTime(s.RunTime)
		if err != nil {
			return nil
		}
		next := atTimeOfDay(now, 0, hour, minute)
		if !next.After(now) {
			next = atTimeOfDay(now, 1, hour, minute)
		}
		return &next
	case FrequencyWeekly:
		hour, minute, err := ParseRunTime(s.RunTime)
		if err != nil {
			return nil
		}
		days := RunDayIndices(s.RunDays)
		if len(days) == 0 {
			return nil
		}
		current := int(now.Weekday())
		delta := -1
		for _, d := range days {
			if d > current || (d == current && !passedToday(now, hour, minute)) {
				delta = d - current
				break
			}
		}
		if delta < 0 {
			delta = 7 - current + days[0]
		}
		next := atTimeOfDay(now, delta, hour, minute)
		return &next
	case FrequencyOnce:
		if s.LastRun != nil {
			return nil
		}
		next := now
		return &next
	default:
		return nil
	}
}

// PreviewRuns returns up to count successive fire times starting from now.
func PreviewRuns(now time.Time, s Schedule, count int) []time.Time {
	times := make([]time.Time, 0, count)
	cursor := now
	for i := 0; i < count; i++ {
		next := ComputeNextRun(cursor, s)
		if next == nil {
			break
		}
		times = append(times, *next)
		if s.Frequency == FrequencyOnce {
			break
		}
		cursor = *next
	}
	return times
}

// passedToday reports whether today's hour:minute:00 is at or before now.
func passedToday(now time.Time, hour, minute int) bool {
	return !atTimeOfDay(now, 0, hour, minute).After(now)
}

func atTimeOfDay(now time.Time, addDays, hour, minute int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+addDays, hour, minute, 0, 0, now.Location())
}
