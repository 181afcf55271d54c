package util

import (
	"fmt"
	"time"
)

// InWindow reports whether now falls inside the configured run window.
// start and end are "15:04" wall-clock times in tz; empty values leave
// that side unbounded, and a window with end before start wraps past
// midnight (the usual off-peak shape, e.g. 22:00-05:00).
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

	local := now.In(loc)
	atToday := func(v string) (time.Time, error) {
		parsed, err := time.ParseInLocation("15:04", v, loc)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(local.Year(), local.Month(), local.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
	}
	current := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, loc)

	switch {
	case end == "":
		from, err := atToday(start)
		if err != nil {
			return false, fmt.Errorf("invalid window start: %w", err)
		}
		return !current.Before(from), nil
	case start == "":
		until, err := atToday(end)
		if err != nil {
			return false, fmt.Errorf("invalid window end: %w", err)
		}
		return !current.After(until), nil
	}

	from, err := atToday(start)
	if err != nil {
		return false, fmt.Errorf("invalid window start: %w", err)
	}
	until, err := atToday(end)
	if err != nil {
		return false, fmt.Errorf("invalid window end: %w", err)
	}
	if until.After(from) {
		return !current.Before(from) && !current.After(until), nil
	}
	// Window wraps past midnight.
	return !current.Before(from) || !current.After(until), nil
}
