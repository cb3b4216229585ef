package config

import (
	"fmt"
	"strconv"
	"strings"
)

// week is Monday-first, matching how people write "mon-sun".
var week = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func dayIndex(name string) int {
	for i, d := range week {
		if d == name {
			return i
		}
	}
	return -1
}

// ParseDays normalizes a day-of-week expression made of three-letter day
// names, comma lists and ranges ("mon", "mon,thu", "mon-fri").
// Numeric days are rejected: cron counts from Sunday, the old scheduler
// counted from Monday, and a silent off-by-one is worse than an error.
func ParseDays(expr string) (string, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return "", fmt.Errorf("day of week is required")
	}

	parts := strings.Split(expr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		bounds := strings.Split(part, "-")
		if len(bounds) > 2 {
			return "", fmt.Errorf("bad day range %q", part)
		}
		for _, b := range bounds {
			if dayIndex(b) < 0 {
				return "", fmt.Errorf("unknown day %q (use mon..sun)", b)
			}
		}
		if len(bounds) == 2 {
			from, to := dayIndex(bounds[0]), dayIndex(bounds[1])
			if from > to {
				return "", fmt.Errorf("day range %q runs backwards", part)
			}
			// cron numbers Sunday 0, so a range ending on it is spelled out.
			if bounds[1] == "sun" {
				part = strings.Join(week[from:to+1], ",")
			}
		}
		parts[i] = part
	}
	return strings.Join(parts, ","), nil
}

// ParseClock parses a 24h "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour, minute, nil
}

// CronSpec renders the schedule as a five-field cron expression.
func (s ScheduleConfig) CronSpec() (string, error) {
	days, err := ParseDays(s.Day)
	if err != nil {
		return "", err
	}
	hour, minute, err := ParseClock(s.Time)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, days), nil
}
