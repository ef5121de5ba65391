package youtube

import (
	"fmt"
	"strings"
)

// ParseDuration converts an ISO 8601 duration as returned in
// contentDetails.duration (e.g. "PT1M30S", "PT2H", "P1DT3M") into whole
// seconds. Absent units count as zero.
func ParseDuration(s string) (int, error) {
	rest, ok := strings.CutPrefix(s, "P")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	total := 0
	num := -1
	inTime := false
	for _, r := range rest {
		if r >= '0' && r <= '9' {
			if num < 0 {
				num = 0
			}
			num = num*10 + int(r-'0')
			continue
		}
		if r == 'T' {
			if inTime || num >= 0 {
				return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
			}
			inTime = true
			continue
		}
		if num < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}

		mult := unitSeconds(r, inTime)
		if mult == 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		total += num * mult
		num = -1
	}
	if num >= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return total, nil
}

// unitSeconds returns the length of a designator in seconds, or 0 if the
// designator is not valid in its position. Year and month designators are
// rejected since their length is ambiguous.
func unitSeconds(r rune, inTime bool) int {
	if inTime {
		switch r {
		case 'H':
			return 3600
		case 'M':
			return 60
		case 'S':
			return 1
		}
		return 0
	}
	switch r {
	case 'W':
		return 7 * 86400
	case 'D':
		return 86400
	}
	return 0
}
