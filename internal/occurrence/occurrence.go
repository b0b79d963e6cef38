// Package occurrence derives the concrete next date of an occasion and its
// milestone ordinal. All functions are pure and operate on civil dates: only
// the year, month and day of a time.Time are read, and results are midnight UTC.
package occurrence

import (
	"fmt"
	"time"
)

// Date returns the civil date of t as midnight UTC.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the civil date of now as seen in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Date(now.In(loc))
}

// NextOccurrence returns the next date on or after today on which the occasion falls.
// Non-recurring occasions always return their base date, even when it is in the past.
// A Feb 29 base date projected onto a non-leap year rolls over to Mar 1.
func NextOccurrence(base time.Time, recurring bool, today time.Time) time.Time {
	base = Date(base)
	if !recurring {
		return base
	}

	today = Date(today)
	projected := time.Date(today.Year(), base.Month(), base.Day(), 0, 0, 0, 0, time.UTC)
	if !projected.Before(today) {
		return projected
	}
	return time.Date(today.Year()+1, base.Month(), base.Day(), 0, 0, 0, 0, time.UTC)
}

// Milestone returns the number of years between the base date and the occurrence year.
// ok is false for non-recurring occasions.
func Milestone(base time.Time, recurring bool, nextOccurrenceYear int) (n int, ok bool) {
	if !recurring {
		return 0, false
	}
	return nextOccurrenceYear - base.Year(), true
}

// DaysUntil returns the whole days from today to date. Negative when date has passed.
func DaysUntil(today, date time.Time) int {
	return int(Date(date).Sub(Date(today)).Hours() / 24)
}

// OrdinalSuffix returns the English ordinal suffix for n ("st", "nd", "rd" or "th").
func OrdinalSuffix(n int) string {
	if n < 0 {
		n = -n
	}
	switch n % 100 {
	case 11, 12, 13:
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

// Ordinal formats n with its suffix, e.g. 21 -> "21st".
func Ordinal(n int) string {
	return fmt.Sprintf("%d%s", n, OrdinalSuffix(n))
}
