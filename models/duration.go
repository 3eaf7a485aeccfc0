package models

import (
	"strconv"
	"strings"
)

// MinutesPerDay is the length of a work day used by the analysis service
// when it reports remediation effort in days.
const MinutesPerDay = 8 * 60

var durationUnits = []struct {
	suffix  string
	minutes int64
}{
	{"min", 1},
	{"d", MinutesPerDay},
	{"h", 60},
}

// ParseDurationMinutes converts a service duration such as "5min", "1h30min"
// or "2d 4h" into minutes. A bare integer is read as minutes. The second
// return value is false for empty or malformed input.
func ParseDurationMinutes(raw string) (int64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, false
		}
		return n, true
	}

	var total int64
	for s != "" {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, false
		}
		n, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return 0, false
		}
		s = s[i:]

		matched := false
		for _, u := range durationUnits {
			if strings.HasPrefix(s, u.suffix) {
				total += n * u.minutes
				s = s[len(u.suffix):]
				matched = true
				break
			}
		}
		if !matched {
			return 0, false
		}
	}
	return total, true
}
