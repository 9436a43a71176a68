package recurrence

import (
	"fmt"
	"strconv"
	"strings"
)

var weekdayNames = [...]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

// Describe renders a canonical natural-language description for the common
// pattern shapes:
//
//	"30 19 * * 6"  ->  "Every Saturday at 19:30"
//	"0 8 * * *"    ->  "Every day at 08:00"
//	"0 9 1 * *"    ->  "Every day 1 at 09:00"
//
// Anything else, including malformed input, is echoed back unchanged. The
// inspection is purely textual; no enumeration happens here.
func Describe(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	clock, ok := clockLabel(minute, hour)
	if !ok {
		return expr
	}

	switch {
	case dom == "*" && month == "*" && dow != "*":
		days, ok := weekdayLabel(dow)
		if !ok {
			return expr
		}
		return fmt.Sprintf("Every %s at %s", days, clock)
	case dom == "*" && month == "*" && dow == "*":
		return fmt.Sprintf("Every day at %s", clock)
	case dom != "*" && month == "*" && dow == "*":
		if _, err := strconv.Atoi(dom); err != nil {
			return expr
		}
		return fmt.Sprintf("Every day %s at %s", dom, clock)
	}
	return expr
}

// clockLabel formats single-valued minute and hour fields as HH:MM.
func clockLabel(minute, hour string) (string, bool) {
	m, err := strconv.Atoi(minute)
	if err != nil || m < 0 || m > 59 {
		return "", false
	}
	h, err := strconv.Atoi(hour)
	if err != nil || h < 0 || h > 23 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// weekdayLabel renders a comma-list weekday field as English day names.
func weekdayLabel(dow string) (string, bool) {
	parts := strings.Split(dow, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 6 {
			return "", false
		}
		names = append(names, weekdayNames[d])
	}
	return strings.Join(names, ", "), true
}
