package schedule

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCron is wrapped by every parse and validation error.
var ErrInvalidCron = errors.New("schedule: invalid cron expression")

// searchHorizon bounds NextRun: 366 days of minutes.
const searchHorizon = 366 * 24 * 60

type field struct {
	label  string
	lo, hi int
}

var fields = [5]field{
	{"minute(0-59)", 0, 59},
	{"hour(0-23)", 0, 23},
	{"day(1-31)", 1, 31},
	{"month(1-12)", 1, 12},
	{"weekday(0-6)", 0, 6},
}

// set is a bitmask of field values; bit n is value n.
type set uint64

func (s set) has(v int) bool { return s&(1<<uint(v)) != 0 }

func (s set) values() []int {
	out := make([]int, 0, bits.OnesCount64(uint64(s)))
	for v := 0; v < 64; v++ {
		if s.has(v) {
			out = append(out, v)
		}
	}
	return out
}

// addRange adds every step-th value of [from, to] that lies within [lo, hi].
func (s *set) addRange(from, to, step, lo, hi int) {
	if from < lo {
		// Keep the progression aligned with its base.
		from += (lo - from + step - 1) / step * step
	}
	to = min(to, hi)
	for v := from; v <= to; v += step {
		*s |= 1 << uint(v)
	}
}

// ParseField returns the sorted values a single field selects within
// [lo, hi]. ok is false when a token does not parse or nothing is selected.
func ParseField(expr string, lo, hi int) (values []int, ok bool) {
	s, ok := parseField(expr, lo, hi)
	if !ok {
		return nil, false
	}
	return s.values(), true
}

func parseField(expr string, lo, hi int) (set, bool) {
	var s set
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "*":
			s.addRange(lo, hi, 1, lo, hi)

		case strings.Contains(part, "/"):
			base, stepStr, _ := strings.Cut(part, "/")
			step, err := strconv.Atoi(stepStr)
			if err != nil || step <= 0 {
				return 0, false
			}
			start := lo
			if base != "*" {
				if start, err = strconv.Atoi(base); err != nil {
					return 0, false
				}
			}
			s.addRange(start, hi, step, lo, hi)

		case strings.Contains(part, "-"):
			loStr, hiStr, _ := strings.Cut(part, "-")
			from, err1 := strconv.Atoi(loStr)
			to, err2 := strconv.Atoi(hiStr)
			if err1 != nil || err2 != nil {
				return 0, false
			}
			s.addRange(from, to, 1, lo, hi)

		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, false
			}
			if v >= lo && v <= hi {
				s |= 1 << uint(v)
			}
		}
	}
	return s, s != 0
}

// Expr is a parsed cron expression.
type Expr struct {
	source                                 string
	minutes, hours, days, months, weekdays set
}

// Parse parses a five-field expression.
func Parse(expr string) (*Expr, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(fields) {
		return nil, fmt.Errorf("%w: expected 5 fields: minute hour day month weekday", ErrInvalidCron)
	}

	var sets [5]set
	for i, f := range fields {
		s, ok := parseField(parts[i], f.lo, f.hi)
		if !ok {
			return nil, fmt.Errorf("%w: invalid %s: '%s'", ErrInvalidCron, f.label, parts[i])
		}
		sets[i] = s
	}
	return &Expr{
		source:   expr,
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

// String returns the expression as it was parsed.
func (e *Expr) String() string { return e.source }

// Next returns the earliest whole minute strictly after the given time at
// which every field matches, in UTC. It returns the zero time when nothing
// matches within 366 days.
func (e *Expr) Next(after time.Time) time.Time {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	for range searchHorizon {
		if e.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (e *Expr) matches(t time.Time) bool {
	return e.months.has(int(t.Month())) &&
		e.days.has(t.Day()) &&
		e.weekdays.has(weekday(t)) &&
		e.hours.has(t.Hour()) &&
		e.minutes.has(t.Minute())
}

// weekday numbers days from Monday=0 to Sunday=6.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Validate reports why expr is not a valid expression, or nil.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextRun parses expr and returns its next run after the given time. The
// zero time means the expression is invalid or never matches within a year.
func NextRun(expr string, after time.Time) time.Time {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}
	}
	return e.Next(after)
}
