// Package visit tracks the longitudinal visit schedule of a participant: which visits are
// scheduled, occurred or missed, which dosing visit is currently open, whether now falls in
// its dosing window and when the next dosing visit should be.
//
// Terminal statuses are always written by someone else (the operator or the backend); this
// package only reads them and validates transitions.
package visit

import (
	"fmt"
	"sort"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// Classification groups a visit list by status, each group in chronological order.
type Classification struct {
	Scheduled []models.VisitDetail
	Occurred  []models.VisitDetail
	Missed    []models.VisitDetail
}

// Chronological returns a copy of visits sorted by start date. Ties keep input order.
func Chronological(visits []models.VisitDetail) []models.VisitDetail {
	out := make([]models.VisitDetail, len(visits))
	copy(out, visits)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

// Classify splits visits by status.
func Classify(visits []models.VisitDetail) Classification {
	var c Classification
	for _, v := range Chronological(visits) {
		switch v.Status {
		case models.VisitStatusOccurred:
			c.Occurred = append(c.Occurred, v)
		case models.VisitStatusMissed:
			c.Missed = append(c.Missed, v)
		default:
			c.Scheduled = append(c.Scheduled, v)
		}
	}
	return c
}

// OpenDosingVisit returns the last DOSING visit, in chronological order, whose status is
// not terminal.
func OpenDosingVisit(visits []models.VisitDetail) (models.VisitDetail, bool) {
	var open models.VisitDetail
	found := false
	for _, v := range Chronological(visits) {
		if v.Type == models.VisitTypeDosing && !v.Status.IsTerminal() {
			open = v
			found = true
		}
	}
	return open, found
}

// Window returns the dosing window [start of StartDate, start of EndDate + 1 day).
func Window(v models.VisitDetail) (start, end time.Time) {
	return models.DateOnly(v.StartDate), models.DateOnly(v.EndDate).AddDate(0, 0, 1)
}

// InDosingWindow reports whether now lies in the visit's dosing window.
func InDosingWindow(v models.VisitDetail, now time.Time) bool {
	start, end := Window(v)
	return !now.Before(start) && now.Before(end)
}

// CanTransition reports whether a visit may move between two statuses.
// SCHEDULED -> OCCURRED and SCHEDULED -> MISSED are the only moves; terminal statuses stay put.
func CanTransition(from, to models.VisitStatus) bool {
	if from == to {
		return true
	}
	return from == models.VisitStatusScheduled && to.IsTerminal()
}

// ApplyStatus returns v with its status set to to, or an error for a disallowed move.
func ApplyStatus(v models.VisitDetail, to models.VisitStatus) (models.VisitDetail, error) {
	if !CanTransition(v.Status, to) {
		return v, fmt.Errorf("%w: visit %s cannot move from %s to %s", models.ErrInvalidDraft, v.UUID, v.Status, to)
	}
	v.Status = to
	return v, nil
}

// NextDoseNumber is one past the highest dose number among occurred dosing visits.
func NextDoseNumber(visits []models.VisitDetail) int {
	highest := 0
	for _, v := range visits {
		if v.Type == models.VisitTypeDosing && v.Status == models.VisitStatusOccurred && v.DoseNumber > highest {
			highest = v.DoseNumber
		}
	}
	return highest + 1
}
