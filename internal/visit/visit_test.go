package visit

import (
	"errors"
	"testing"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

var d0 = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func dosingVisit(uuid string, status models.VisitStatus, start time.Time) models.VisitDetail {
	return models.VisitDetail{UUID: uuid, Type: models.VisitTypeDosing, Status: status, StartDate: start, EndDate: start}
}

func TestOpenDosingVisit(t *testing.T) {
	visits := []models.VisitDetail{
		dosingVisit("occurred", models.VisitStatusOccurred, d0),
		dosingVisit("scheduled", models.VisitStatusScheduled, d0.AddDate(0, 1, 0)),
	}
	v, ok := OpenDosingVisit(visits)
	if !ok || v.UUID != "scheduled" {
		t.Fatalf("expected the scheduled visit, got %+v (ok=%v)", v, ok)
	}
}

func TestOpenDosingVisitUsesChronologicalOrder(t *testing.T) {
	visits := []models.VisitDetail{
		dosingVisit("later", models.VisitStatusScheduled, d0.AddDate(0, 2, 0)),
		dosingVisit("earlier", models.VisitStatusScheduled, d0),
		{UUID: "followup", Type: models.VisitTypeFollowUp, Status: models.VisitStatusScheduled, StartDate: d0.AddDate(0, 3, 0)},
		dosingVisit("missed", models.VisitStatusMissed, d0.AddDate(0, 4, 0)),
	}
	v, ok := OpenDosingVisit(visits)
	if !ok || v.UUID != "later" {
		t.Fatalf("expected the chronologically last open dosing visit, got %+v", v)
	}
	if _, ok := OpenDosingVisit([]models.VisitDetail{dosingVisit("x", models.VisitStatusOccurred, d0)}); ok {
		t.Error("expected no open visit")
	}
}

func TestInDosingWindowBoundaries(t *testing.T) {
	v := dosingVisit("v", models.VisitStatusScheduled, d0.Add(9*time.Hour))
	v.EndDate = d0.Add(17 * time.Hour)

	inside := []time.Time{d0, d0.Add(12 * time.Hour), d0.Add(24*time.Hour - time.Nanosecond)}
	for _, now := range inside {
		if !InDosingWindow(v, now) {
			t.Errorf("expected %v to be inside the window", now)
		}
	}
	outside := []time.Time{d0.Add(-time.Nanosecond), d0.Add(24 * time.Hour), d0.Add(36 * time.Hour)}
	for _, now := range outside {
		if InDosingWindow(v, now) {
			t.Errorf("expected %v to be outside the window", now)
		}
	}
}

func TestClassify(t *testing.T) {
	c := Classify([]models.VisitDetail{
		dosingVisit("s", models.VisitStatusScheduled, d0.AddDate(0, 0, 2)),
		dosingVisit("o", models.VisitStatusOccurred, d0),
		dosingVisit("m", models.VisitStatusMissed, d0.AddDate(0, 0, 1)),
	})
	if len(c.Scheduled) != 1 || len(c.Occurred) != 1 || len(c.Missed) != 1 {
		t.Fatalf("unexpected classification %+v", c)
	}
}

func TestApplyStatus(t *testing.T) {
	v := dosingVisit("v", models.VisitStatusScheduled, d0)
	v, err := ApplyStatus(v, models.VisitStatusOccurred)
	if err != nil || v.Status != models.VisitStatusOccurred {
		t.Fatalf("expected occurred, got %s (%v)", v.Status, err)
	}
	if _, err := ApplyStatus(v, models.VisitStatusScheduled); !errors.Is(err, models.ErrInvalidDraft) {
		t.Errorf("expected terminal status to stay put, got %v", err)
	}
}

func TestNextDoseNumber(t *testing.T) {
	a := dosingVisit("a", models.VisitStatusOccurred, d0)
	a.DoseNumber = 2
	b := dosingVisit("b", models.VisitStatusScheduled, d0)
	b.DoseNumber = 3
	if got := NextDoseNumber([]models.VisitDetail{a, b}); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func nextCatalog() models.Catalog {
	return models.Catalog{Substances: []models.SubstanceConfig{
		{ConceptName: "A", WeeksAfterBirth: 0, WeeksAfterBirthUpWindow: 2},
		{ConceptName: "B", WeeksAfterBirth: 6, WeeksAfterBirthLowWindow: 1, WeeksAfterBirthUpWindow: 2},
		{ConceptName: "C", WeeksAfterBirth: 10, WeeksAfterBirthLowWindow: 1, WeeksAfterBirthUpWindow: 2},
	}}
}

func TestNextVisitDate(t *testing.T) {
	birth := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := birth.AddDate(0, 0, 3)

	got, err := NextVisitDate(nextCatalog(), birth, []string{"A"}, now, nil)
	if err != nil {
		t.Fatalf("NextVisitDate: %v", err)
	}
	if want := birth.AddDate(0, 0, 42); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// B's window closed at week 8; C is the next candidate.
	now = birth.AddDate(0, 0, 63)
	got, err = NextVisitDate(nextCatalog(), birth, []string{"A"}, now, nil)
	if err != nil {
		t.Fatalf("NextVisitDate: %v", err)
	}
	if want := birth.AddDate(0, 0, 70); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextVisitDateOverride(t *testing.T) {
	birth := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := birth.AddDate(0, 0, 70)

	if _, err := NextVisitDate(nextCatalog(), birth, []string{"C"}, now, nil); !errors.Is(err, models.ErrOverrideDateRequired) {
		t.Fatalf("expected ErrOverrideDateRequired, got %v", err)
	}
	override := now.AddDate(0, 0, 5).Add(13 * time.Hour)
	got, err := NextVisitDate(nextCatalog(), birth, []string{"C"}, now, &override)
	if err != nil {
		t.Fatalf("NextVisitDate with override: %v", err)
	}
	if !got.Equal(models.DateOnly(override)) {
		t.Errorf("expected override date, got %v", got)
	}
}

func TestCheckDosingVisit(t *testing.T) {
	v := dosingVisit("v", models.VisitStatusScheduled, d0)
	due := []models.SubstanceConfig{{ConceptName: "Polio0", Label: "Polio 0"}, {ConceptName: "BCG"}}

	events := CheckDosingVisit(CheckInput{Visit: v, Now: d0.Add(2 * time.Hour), Due: due, Administered: []string{"Polio0", "BCG"}})
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}

	events = CheckDosingVisit(CheckInput{Visit: v, Now: d0.AddDate(0, 0, 3), Due: due, Administered: []string{"BCG"}})
	if len(events) != 2 {
		t.Fatalf("expected two events, got %+v", events)
	}
	if events[0].Kind != EventOutsideWindow || !events[0].WindowEnd.Equal(d0.AddDate(0, 0, 1)) {
		t.Errorf("unexpected window event %+v", events[0])
	}
	if events[1].Kind != EventMissingSubstances || len(events[1].MissingLabels) != 1 || events[1].MissingLabels[0] != "Polio 0" {
		t.Errorf("unexpected missing event %+v", events[1])
	}

	override := d0.AddDate(0, 0, 14)
	events = CheckDosingVisit(CheckInput{Visit: v, Now: d0.AddDate(0, 0, 3), Due: due, Administered: []string{"BCG"}, OverrideDate: &override})
	if len(events) != 0 {
		t.Errorf("override date should resolve both events, got %+v", events)
	}
}
