// Package recurrence implements the schedule recurrence engine: parsing of
// 5-field cron-style expressions, timezone-aware occurrence enumeration,
// conformance checking of user-chosen timestamps, and human-readable
// descriptions of common pattern shapes.
//
// The engine is pure computation: no I/O, no shared state, safe for
// concurrent use.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrFieldCount is returned when an expression does not split into exactly
// five whitespace-separated fields.
var ErrFieldCount = errors.New("recurrence: expression must have exactly 5 fields")

// ValueError reports a field value that is not an integer within the
// field's domain.
type ValueError struct {
	Field    string
	Value    string
	Min, Max int
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("recurrence: %s value %q must be an integer between %d and %d",
		e.Field, e.Value, e.Min, e.Max)
}

// bounds describes the acceptable value range for one field.
type bounds struct {
	name     string
	min, max int
}

var (
	minuteBounds = bounds{"minute", 0, 59}
	hourBounds   = bounds{"hour", 0, 23}
	domBounds    = bounds{"day-of-month", 1, 31}
	monthBounds  = bounds{"month", 1, 12}
	dowBounds    = bounds{"day-of-week", 0, 6}
)

// starBit marks a field that was given as "*". A starred day field changes
// the day-of-month / day-of-week combination rule (see dayMatches).
const starBit = 1 << 63

// Pattern is an immutable, parsed 5-field recurrence expression. Each field
// is a bit set of allowed values; the zero Pattern matches nothing.
type Pattern struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	expr string
}

// Parse parses a 5-field expression (minute, hour, day-of-month, month,
// day-of-week; 0 = Sunday). Each field is "*", a single integer, or a
// comma-separated integer list. Ranges and step syntax are not accepted.
func Parse(expr string) (Pattern, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Pattern{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(fields))
	}

	var p Pattern
	var err error
	if p.minute, err = parseField(fields[0], minuteBounds); err != nil {
		return Pattern{}, err
	}
	if p.hour, err = parseField(fields[1], hourBounds); err != nil {
		return Pattern{}, err
	}
	if p.dom, err = parseField(fields[2], domBounds); err != nil {
		return Pattern{}, err
	}
	if p.month, err = parseField(fields[3], monthBounds); err != nil {
		return Pattern{}, err
	}
	if p.dow, err = parseField(fields[4], dowBounds); err != nil {
		return Pattern{}, err
	}
	p.expr = strings.Join(fields, " ")
	return p, nil
}

// Expr returns the normalized expression text the pattern was parsed from.
func (p Pattern) Expr() string { return p.expr }

// IsZero reports whether p is the zero (unparsed) pattern.
func (p Pattern) IsZero() bool { return p.minute == 0 }

// parseField turns one field into a bit set. "*" sets every value in range
// plus the star bit.
func parseField(field string, b bounds) (uint64, error) {
	if field == "*" {
		var bits uint64 = starBit
		for v := b.min; v <= b.max; v++ {
			bits |= 1 << uint(v)
		}
		return bits, nil
	}

	var bits uint64
	for _, part := range strings.Split(field, ",") {
		n, err := strconv.Atoi(part)
		if err != nil || n < b.min || n > b.max {
			return 0, &ValueError{Field: b.name, Value: part, Min: b.min, Max: b.max}
		}
		bits |= 1 << uint(n)
	}
	return bits, nil
}

// Matches reports whether the wall-clock components of t satisfy the
// pattern. The caller is responsible for evaluating t in the intended
// timezone.
func (p Pattern) Matches(t time.Time) bool {
	return bitSet(p.minute, t.Minute()) &&
		bitSet(p.hour, t.Hour()) &&
		bitSet(p.month, int(t.Month())) &&
		p.dayMatches(t)
}

// dayMatches applies the cron day combination rule: when both day-of-month
// and day-of-week are restricted, a day qualifies if EITHER matches; when
// at least one is a wildcard, both must match (the wildcard side always
// does).
func (p Pattern) dayMatches(t time.Time) bool {
	domMatch := bitSet(p.dom, t.Day())
	dowMatch := bitSet(p.dow, int(t.Weekday()))
	if p.dom&starBit > 0 || p.dow&starBit > 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

func bitSet(bits uint64, v int) bool {
	return bits&(1<<uint(v)) != 0
}
