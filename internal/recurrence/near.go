package recurrence

import "time"

// DefaultTolerance is how far a user-chosen timestamp may drift from a true
// occurrence and still count as conforming. Manual entry and client clock
// skew routinely produce sub-minute offsets.
const DefaultTolerance = time.Minute

// nearWindow is how many occurrences are examined around the candidate.
const nearWindow = 5

// IsNear reports whether candidate lies within tolerance of some occurrence
// of the pattern. The occurrence window starts a full day before the
// candidate so that an occurrence just before it is not skipped by the
// strictly-after enumeration. Advisory only: a zero pattern or an empty
// window yields false, never an error.
func IsNear(p Pattern, candidate time.Time, loc *time.Location, tolerance time.Duration) bool {
	if p.IsZero() {
		return false
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	start := candidate.Add(-24 * time.Hour)
	for _, occ := range NextN(p, start, loc, nearWindow) {
		d := occ.Sub(candidate)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return true
		}
	}
	return false
}
