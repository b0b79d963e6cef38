package scheduler

import (
	"fmt"
	"time"
)

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InWindow reports whether localM (minutes since midnight) is inside [fromM, toM).
// Windows wrap around midnight when fromM > toM, e.g. 22:00-07:00.
func InWindow(localM, fromM, toM int) bool {
	if fromM == toM {
		return false
	}
	if fromM < toM {
		return localM >= fromM && localM < toM
	}
	return localM >= fromM || localM < toM
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
