package occurrence

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name      string
		base      time.Time
		recurring bool
		today     time.Time
		want      time.Time
	}{
		{"later this year", day(1990, time.June, 5), true, day(2025, time.June, 1), day(2025, time.June, 5)},
		{"today counts", day(1990, time.June, 5), true, day(2025, time.June, 5), day(2025, time.June, 5)},
		{"already passed rolls to next year", day(1990, time.June, 5), true, day(2025, time.June, 6), day(2026, time.June, 5)},
		{"year end wrap", day(2000, time.January, 2), true, day(2025, time.December, 30), day(2026, time.January, 2)},
		{"non recurring unchanged", day(2024, time.March, 1), false, day(2025, time.June, 1), day(2024, time.March, 1)},
		{"leap day on non-leap year", day(2000, time.February, 29), true, day(2025, time.January, 10), day(2025, time.March, 1)},
		{"leap day on leap year", day(2000, time.February, 29), true, day(2028, time.January, 10), day(2028, time.February, 29)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.base, tt.recurring, tt.today)
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence() = %s, want %s", got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestNextOccurrence_WithinOneYearOfToday(t *testing.T) {
	today := day(2025, time.June, 15)
	for m := time.January; m <= time.December; m++ {
		for _, d := range []int{1, 14, 15, 16, 28} {
			base := day(1980, m, d)
			next := NextOccurrence(base, true, today)
			if next.Before(today) {
				t.Fatalf("base %s: next %s is before today", base.Format("01-02"), next.Format("2006-01-02"))
			}
			if next.After(today.AddDate(1, 0, 0)) {
				t.Fatalf("base %s: next %s is more than a year out", base.Format("01-02"), next.Format("2006-01-02"))
			}
			if n, ok := Milestone(base, true, next.Year()); !ok || n != next.Year()-1980 || n < 0 {
				t.Fatalf("base %s: milestone %d, ok %v", base.Format("01-02"), n, ok)
			}
		}
	}
}

func TestMilestone(t *testing.T) {
	if n, ok := Milestone(day(1990, time.June, 5), true, 2025); !ok || n != 35 {
		t.Errorf("Milestone() = %d, %v; want 35, true", n, ok)
	}
	if n, ok := Milestone(day(2025, time.June, 5), true, 2025); !ok || n != 0 {
		t.Errorf("Milestone() = %d, %v; want 0, true", n, ok)
	}
	if _, ok := Milestone(day(1990, time.June, 5), false, 2025); ok {
		t.Error("Milestone() for non-recurring occasion should not be ok")
	}
}

func TestOrdinal(t *testing.T) {
	cases := map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 10: "10th",
		11: "11th", 12: "12th", 13: "13th", 21: "21st", 22: "22nd",
		23: "23rd", 35: "35th", 101: "101st", 111: "111th", 112: "112th", 113: "113th",
	}
	for n, want := range cases {
		if got := Ordinal(n); got != want {
			t.Errorf("Ordinal(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestDaysUntilAndToday(t *testing.T) {
	if got := DaysUntil(day(2025, time.June, 1), day(2025, time.June, 5)); got != 4 {
		t.Errorf("DaysUntil() = %d, want 4", got)
	}
	if got := DaysUntil(day(2025, time.June, 5), day(2025, time.June, 1)); got != -4 {
		t.Errorf("DaysUntil() = %d, want -4", got)
	}

	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	now := time.Date(2025, time.June, 1, 20, 0, 0, 0, time.UTC) // 05:00 on Jun 2 in Tokyo
	if got := Today(now, loc); !got.Equal(day(2025, time.June, 2)) {
		t.Errorf("Today() = %s, want 2025-06-02", got.Format("2006-01-02"))
	}
}
