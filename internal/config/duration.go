package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration string in either ISO-8601 form ("PT5S",
// "PT1H30M", "P1DT2H") or Go form ("5s", "1h30m"). ISO-8601 is what the job
// table historically used; Go form is accepted for convenience.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	body := s
	neg := false
	switch body[0] {
	case '-':
		neg = true
		body = body[1:]
	case '+':
		body = body[1:]
	}
	if len(body) > 0 && (body[0] == 'P' || body[0] == 'p') {
		d, err := parseISO8601(body)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", raw, err)
		}
		if neg {
			d = -d
		}
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (expected ISO-8601 like PT30S or Go form like 30s)", raw)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty.
func ParseDurationOrDefault(raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseDuration(raw)
}

// ParsePositiveDuration parses and requires a strictly positive duration.
func ParsePositiveDuration(raw string) (time.Duration, error) {
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", raw)
	}
	return d, nil
}

// parseISO8601 parses the date-time duration subset PnDTnHnMn.nS. Weeks,
// months and years are not supported. Input starts with 'P' or 'p'.
func parseISO8601(s string) (time.Duration, error) {
	rest := s[1:] // skip P
	if rest == "" {
		return 0, fmt.Errorf("missing components")
	}

	var total time.Duration
	inTime := false
	seen := false

	for rest != "" {
		if rest[0] == 'T' || rest[0] == 't' {
			if inTime {
				return 0, fmt.Errorf("duplicate T designator")
			}
			inTime = true
			rest = rest[1:]
			continue
		}

		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("malformed component at %q", rest)
		}
		num := rest[:i]
		unit := rest[i]
		rest = rest[i+1:]

		val, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", num)
		}

		switch {
		case !inTime && (unit == 'D' || unit == 'd'):
			total += time.Duration(val * float64(24*time.Hour))
		case inTime && (unit == 'H' || unit == 'h'):
			total += time.Duration(val * float64(time.Hour))
		case inTime && (unit == 'M' || unit == 'm'):
			total += time.Duration(val * float64(time.Minute))
		case inTime && (unit == 'S' || unit == 's'):
			total += time.Duration(val * float64(time.Second))
		default:
			return 0, fmt.Errorf("unexpected designator %q", string(unit))
		}
		seen = true
	}

	if !seen {
		return 0, fmt.Errorf("missing components")
	}
	return total, nil
}
