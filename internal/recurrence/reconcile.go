package recurrence

import (
	"fmt"
	"time"
)

// Reconciliation is the outcome of checking a proposed mass timestamp
// against a config's recurrence patterns. Both outcomes are successful;
// a non-conforming timestamp is a user-facing nudge, never a veto.
type Reconciliation struct {
	Conforming bool   `json:"conforming"`
	Message    string `json:"message,omitempty"`
}

// Reconcile checks the proposed timestamp against each of a config's
// pattern strings. Conforming when it is near any of them. Patterns that
// fail to parse are skipped; if none parse (or none exist) the result
// degrades to conforming so a broken config can never block a save.
func Reconcile(patterns []string, proposed time.Time, loc *time.Location) Reconciliation {
	anyValid := false
	for _, raw := range patterns {
		p, err := Parse(raw)
		if err != nil {
			continue
		}
		anyValid = true
		if IsNear(p, proposed, loc, DefaultTolerance) {
			return Reconciliation{Conforming: true}
		}
	}
	if !anyValid {
		return Reconciliation{Conforming: true}
	}
	return Reconciliation{
		Conforming: false,
		Message: fmt.Sprintf("the chosen time does not match the recurring schedule (%s); it will be saved anyway",
			Describe(patterns[0])),
	}
}
