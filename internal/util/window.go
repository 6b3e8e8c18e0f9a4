package util

import (
	"fmt"
	"time"
)

// InWindow returns true if now is within the configured maintenance
// window. Empty window values mean no restriction.
func InWindow(now time.Time, start, end, tz string) (bool, error) {
	if start == "" && end == "" {
		return true, nil
	}
	loc := now.Location()
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return false, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	parse := func(v string) (time.Time, error) {
		if v == "" {
			return time.Time{}, nil
		}
		return time.ParseInLocation("15:04", v, loc)
	}
	startTime, err := parse(start)
	if err != nil {
		return false, fmt.Errorf("invalid window start: %w", err)
	}
	endTime, err := parse(end)
	if err != nil {
		return false, fmt.Errorf("invalid window end: %w", err)
	}

	local := now.In(loc)
	current := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, loc)
	at := func(t time.Time) time.Time {
		return time.Date(current.Year(), current.Month(), current.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	}

	switch {
	case end == "":
		return !current.Before(at(startTime)), nil
	case start == "":
		return !current.After(at(endTime)), nil
	}

	startToday, endToday := at(startTime), at(endTime)
	if endToday.After(startToday) {
		return !current.Before(startToday) && !current.After(endToday), nil
	}
	// Window wraps past midnight.
	return !current.Before(startToday) || !current.After(endToday), nil
}
