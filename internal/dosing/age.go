// Package dosing computes substance eligibility for a participant from their age and
// vaccination history. Everything here is pure: no I/O and no blocking.
package dosing

import (
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

const hoursPerDay = 24

// DaysBetween returns the number of calendar days from the date of from to the date of to.
// Each instant is read as a calendar date in its own location.
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / hoursPerDay)
}

// AgeInWeeks returns ceil(DaysBetween(birth, now) / 7).
func AgeInWeeks(birth, now time.Time) int {
	return ceilDiv(DaysBetween(birth, now), 7)
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}

// InWindow reports whether ageInWeeks lies in [WeeksAfterBirth-Low, WeeksAfterBirth+Up].
func InWindow(s models.SubstanceConfig, ageInWeeks int) bool {
	return ageInWeeks >= s.MinWeek() && ageInWeeks <= s.MaxWeek()
}
