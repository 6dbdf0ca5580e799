package visit

import (
	"log/slog"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/dosing"
	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// NextVisitDate computes the date of the next dosing visit after the given substances were
// administered.
//
// The candidate is the catalog entry with the smallest WeeksAfterBirth strictly greater than
// the largest WeeksAfterBirth among the administered substances, whose window has not closed
// at now. The date is birth + WeeksAfterBirth weeks, moved up to today when that day has
// already passed. An operator override always wins; with no override and no candidate,
// ErrOverrideDateRequired is returned.
func NextVisitDate(catalog models.Catalog, birth time.Time, administered []string, now time.Time, override *time.Time) (time.Time, error) {
	if override != nil {
		return models.DateOnly(*override), nil
	}

	offset := -1
	for _, concept := range administered {
		if s, ok := catalog.Substance(concept); ok && s.WeeksAfterBirth > offset {
			offset = s.WeeksAfterBirth
		}
	}

	age := dosing.AgeInWeeks(birth, now)
	var next *models.SubstanceConfig
	for i := range catalog.Substances {
		s := catalog.Substances[i]
		if s.WeeksAfterBirth <= offset || age > s.MaxWeek() {
			continue
		}
		if next == nil || s.WeeksAfterBirth < next.WeeksAfterBirth {
			next = &catalog.Substances[i]
		}
	}
	if next == nil {
		slog.Debug("visit.NextVisitDate: no automatic candidate", "offset", offset, "ageInWeeks", age)
		return time.Time{}, models.ErrOverrideDateRequired
	}

	date := models.DateOnly(birth).AddDate(0, 0, 7*next.WeeksAfterBirth)
	if today := models.DateOnly(now.In(birth.Location())); date.Before(today) {
		date = today
	}
	slog.Debug("visit.NextVisitDate", "concept", next.ConceptName, "weeksAfterBirth", next.WeeksAfterBirth, "date", date)
	return date, nil
}
