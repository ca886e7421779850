package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// inSchedule reports whether now falls inside [start, end] (minute precision, inclusive).
// An unset bound, an unparsable bound, or start == end leaves the gate open.
func inSchedule(start, end string, now time.Time) bool {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return true
	}
	s, err := ParseClock(start)
	if err != nil {
		return true
	}
	e, err := ParseClock(end)
	if err != nil {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	switch {
	case s == e:
		return true
	case s < e:
		return cur >= s && cur <= e
	default:
		// Wraps past midnight.
		return cur >= s || cur <= e
	}
}

// ParseClock parses "HH:MM" (or "HH:MM:SS") into minutes after midnight.
func ParseClock(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return h*60 + m, nil
}
