// Package ics renders a tenant's mass schedule as an iCalendar document for
// the public feed endpoint. Persisted masses become plain VEVENTs; schedule
// configs whose patterns have a canonical shape (weekly, daily, monthly on a
// fixed day) additionally become recurring VEVENTs carrying an RRULE.
package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "masscal/internal/log"
	"masscal/internal/model"
	"masscal/internal/recurrence"
)

const (
	// defaultDuration is assumed for every celebration; the system stores
	// start times only.
	defaultDuration = time.Hour

	uidSuffix = "@masscal"
)

// Export serializes the tenant's masses and recurring configs into a single
// VCALENDAR. Patterns that fail to parse or have no canonical RRULE shape
// are skipped with a log line; the export never fails on bad pattern input.
func Export(tenant model.Tenant, configs []model.ScheduleConfig, masses []model.Mass, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.UTC
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//masscal//Mass schedule//EN")
	cal.SetXWRCalName(tenant.Name)

	for _, m := range masses {
		ev := cal.AddEvent(m.ID + uidSuffix)
		ev.SetDtStampTime(now)
		ev.SetStartAt(m.StartsAt.In(loc))
		ev.SetEndAt(m.StartsAt.Add(defaultDuration).In(loc))
		ev.SetSummary(massSummary(m))
		if m.Location != "" {
			ev.SetLocation(m.Location)
		}
		if m.Notes != "" {
			ev.SetDescription(m.Notes)
		}
	}

	for _, c := range configs {
		for i, raw := range c.Patterns {
			rule, start, ok := ruleForPattern(raw, now, loc)
			if !ok {
				appLog.Debug("ics export: pattern has no canonical RRULE shape, skipping",
					"config_id", c.ID, "pattern", raw)
				continue
			}

			ev := cal.AddEvent(fmt.Sprintf("%s-%d%s", c.ID, i, uidSuffix))
			ev.SetDtStampTime(now)
			ev.SetStartAt(start)
			ev.SetEndAt(start.Add(defaultDuration))
			ev.SetSummary(c.Name)
			ev.SetDescription(recurrence.Describe(raw))
			ev.SetProperty(ical.ComponentPropertyRrule, rule)
		}
	}

	return cal.Serialize()
}

func massSummary(m model.Mass) string {
	if m.Title != "" {
		return m.Title
	}
	return "Mass"
}

// ruleForPattern converts a canonical-shape pattern into an RRULE value and
// the DTSTART to anchor it at (the pattern's first occurrence after now).
// Shapes mirror recurrence.Describe: weekly, daily, and monthly on a fixed
// day. Anything else has no RRULE rendering.
func ruleForPattern(raw string, now time.Time, loc *time.Location) (rule string, start time.Time, ok bool) {
	p, err := recurrence.Parse(raw)
	if err != nil {
		return "", time.Time{}, false
	}
	first := p.Next(now.In(loc), loc)
	if first.IsZero() {
		return "", time.Time{}, false
	}

	fields := strings.Fields(raw)
	dom, month, dow := fields[2], fields[3], fields[4]

	opt := rrule.ROption{Dtstart: first}
	switch {
	case dom == "*" && month == "*" && dow != "*":
		days, err := rruleWeekdays(dow)
		if err != nil {
			return "", time.Time{}, false
		}
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = days
	case dom == "*" && month == "*" && dow == "*":
		opt.Freq = rrule.DAILY
	case month == "*" && dow == "*" && !strings.Contains(dom, ","):
		day, err := strconv.Atoi(dom)
		if err != nil {
			return "", time.Time{}, false
		}
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{day}
	default:
		return "", time.Time{}, false
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return "", time.Time{}, false
	}
	return r.String(), first, true
}

var rruleDays = [...]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

func rruleWeekdays(dow string) ([]rrule.Weekday, error) {
	parts := strings.Split(dow, ",")
	out := make([]rrule.Weekday, 0, len(parts))
	for _, part := range parts {
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 6 {
			return nil, fmt.Errorf("weekday %q out of range", part)
		}
		out = append(out, rruleDays[d])
	}
	return out, nil
}
