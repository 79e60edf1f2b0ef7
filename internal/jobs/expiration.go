package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"github.com/petrijr/procflow/pkg/api"
)

// ParseExpiration normalizes a timer definition into an expiration:
//
//	TIME_CYCLE     "count#delay#period", "delay#period" or "delay"
//	TIME_DURATION  a single duration, repeated indefinitely
//	TIME_DATE      an RFC 3339 timestamp
//
// A missing or negative count means unbounded repetition.
func ParseExpiration(kind api.TimerKind, expr string) (api.ExpirationTime, error) {
	expr = strings.TrimSpace(expr)
	switch kind {
	case api.TimeCycle:
		return parseCycle(expr)
	case api.TimeDuration:
		d, err := ParseDuration(expr)
		if err != nil {
			return api.ExpirationTime{}, err
		}
		return api.RepeatExpiration(d, d, -1), nil
	case api.TimeDate:
		at, err := time.Parse(time.RFC3339, expr)
		if err != nil {
			return api.ExpirationTime{}, fmt.Errorf("invalid timer date %q: %w", expr, err)
		}
		return api.ExactExpiration(at), nil
	default:
		return api.ExpirationTime{}, fmt.Errorf("%w: timer kind %q", api.ErrUnsupportedOperation, kind)
	}
}

func parseCycle(expr string) (api.ExpirationTime, error) {
	parts := strings.Split(expr, "#")
	count := -1
	switch len(parts) {
	case 1:
		d, err := ParseDuration(parts[0])
		if err != nil {
			return api.ExpirationTime{}, err
		}
		return api.RepeatExpiration(d, d, count), nil
	case 2:
	case 3:
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return api.ExpirationTime{}, fmt.Errorf("invalid cycle count %q: %w", parts[0], err)
		}
		if n >= 0 {
			count = n
		}
		parts = parts[1:]
	default:
		return api.ExpirationTime{}, fmt.Errorf("invalid cycle expression %q", expr)
	}
	delay, err := ParseDuration(parts[0])
	if err != nil {
		return api.ExpirationTime{}, err
	}
	period, err := ParseDuration(parts[1])
	if err != nil {
		return api.ExpirationTime{}, err
	}
	return api.RepeatExpiration(delay, period, count), nil
}

// ParseDuration accepts Go durations ("5s", "1h30m") and ISO-8601
// durations ("PT5S", "P1DT2H"). A day is 24 hours; years and months are
// rejected since their length depends on the calendar.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if s[0] != 'P' && s[0] != 'p' {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return d, nil
	}
	if !strings.ContainsAny(s, "0123456789") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	d, err := duration.Parse(strings.ToUpper(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d.Years != 0 || d.Months != 0 {
		return 0, fmt.Errorf("unsupported duration %q", s)
	}
	return d.ToTimeDuration(), nil
}
