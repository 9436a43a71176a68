package recurrence

import (
	"errors"
	"time"
)

// maxSearchYears bounds the forward search. A pattern whose fields can
// never co-occur (e.g. day 31 of February) stops here instead of looping
// forever.
const maxSearchYears = 5

// DefaultWindow is the occurrence count used when a caller does not
// specify one.
const DefaultWindow = 10

// ErrExhaustedSearch is returned by NextAfter when no matching instant
// exists within the search horizon.
var ErrExhaustedSearch = errors.New("recurrence: no occurrence within search horizon")

// Next returns the first instant strictly after t that satisfies the
// pattern, evaluated against loc's wall clock. It returns the zero time if
// no match exists within maxSearchYears. The result carries t's location;
// field matching always happens in loc.
//
// The search walks the calendar field by field (month, day, hour, minute),
// resetting finer fields whenever a coarser one advances, so invalid
// day-of-month values for a given month are skipped naturally.
func (p Pattern) Next(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	orig := t.Location()
	t = t.In(loc)

	// Occurrences are strictly after t: start at the next whole minute.
	t = t.Truncate(time.Minute).Add(time.Minute)

	yearLimit := t.Year() + maxSearchYears
	added := false

WRAP:
	if t.Year() > yearLimit {
		return time.Time{}
	}

	for !bitSet(p.month, int(t.Month())) {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		}
		t = t.AddDate(0, 1, 0)
		if t.Month() == time.January {
			goto WRAP
		}
	}

	for !p.dayMatches(t) {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		}
		t = t.AddDate(0, 0, 1)
		// DST can make midnight not exist (e.g. Sao Paulo's historical
		// spring forward moved 00:00 to 01:00); renormalize to the start
		// of the day.
		t = normalizeDay(t)
		if t.Day() == 1 {
			goto WRAP
		}
	}

	for !bitSet(p.hour, t.Hour()) {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
		}
		day := t.Day()
		t = t.Add(time.Hour)
		// Wrap on any date change, not just hour 0: a DST jump can erase
		// midnight, and the day fields must be re-validated either way.
		if t.Day() != day {
			goto WRAP
		}
	}

	for !bitSet(p.minute, t.Minute()) {
		if !added {
			added = true
			t = t.Truncate(time.Minute)
		}
		hour := t.Hour()
		t = t.Add(time.Minute)
		if t.Hour() != hour {
			goto WRAP
		}
	}

	return t.In(orig)
}

// normalizeDay pushes t back (or forward) to the earliest existing
// wall-clock instant of its day after a date increment landed on a
// nonexistent midnight.
func normalizeDay(t time.Time) time.Time {
	if t.Hour() == 0 {
		return t
	}
	if t.Hour() > 12 {
		return t.Add(time.Duration(24-t.Hour()) * time.Hour)
	}
	back := t.Add(time.Duration(-t.Hour()) * time.Hour)
	if back.Day() != t.Day() {
		// The day's midnight was erased; t is already the earliest
		// existing instant of the day.
		return t
	}
	return back
}

// NextAfter is Next with an explicit exhausted-search error instead of a
// zero time.
func NextAfter(p Pattern, t time.Time, loc *time.Location) (time.Time, error) {
	n := p.Next(t, loc)
	if n.IsZero() {
		return time.Time{}, ErrExhaustedSearch
	}
	return n, nil
}

// NextN returns up to n occurrences strictly after from, in increasing
// order. An exhausted search yields a short (possibly empty) list, never an
// error: occurrence suggestion is an enrichment, not a precondition, for
// callers. n <= 0 selects DefaultWindow.
func NextN(p Pattern, from time.Time, loc *time.Location, n int) []time.Time {
	if n <= 0 {
		n = DefaultWindow
	}
	out := make([]time.Time, 0, n)
	t := from
	for len(out) < n {
		next := p.Next(t, loc)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}
