package visit

import (
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// EventKind names a condition the operator must resolve before a visit is finalized.
type EventKind string

const (
	// EventOutsideWindow: the dose is being recorded outside the open visit's window.
	EventOutsideWindow EventKind = "OUTSIDE_WINDOW"
	// EventMissingSubstances: substances that are due were not administered.
	EventMissingSubstances EventKind = "MISSING_SUBSTANCES"
)

// Event is one confirmation request raised while finalizing a dosing visit.
type Event struct {
	Kind          EventKind `json:"kind"`
	VisitUUID     string    `json:"visit_uuid"`
	WindowStart   time.Time `json:"window_start,omitempty"`
	WindowEnd     time.Time `json:"window_end,omitempty"`
	MissingLabels []string  `json:"missing_labels,omitempty"`
}

// CheckInput is everything CheckDosingVisit looks at.
type CheckInput struct {
	Visit        models.VisitDetail
	Now          time.Time
	Due          []models.SubstanceConfig
	Administered []string
	// OverrideDate is an operator-confirmed reschedule date.
	OverrideDate *time.Time
	// ConfirmedOutsideWindow records that the operator accepted an out-of-window dose.
	ConfirmedOutsideWindow bool
}

// CheckDosingVisit returns the events that block finalization. An empty result means the
// visit can be recorded as is.
func CheckDosingVisit(in CheckInput) []Event {
	var events []Event

	if !InDosingWindow(in.Visit, in.Now) && in.OverrideDate == nil && !in.ConfirmedOutsideWindow {
		start, end := Window(in.Visit)
		events = append(events, Event{
			Kind:        EventOutsideWindow,
			VisitUUID:   in.Visit.UUID,
			WindowStart: start,
			WindowEnd:   end,
		})
	}

	given := make(map[string]bool, len(in.Administered))
	for _, c := range in.Administered {
		given[c] = true
	}
	var missing []string
	for _, s := range in.Due {
		if !given[s.ConceptName] {
			missing = append(missing, s.DisplayLabel())
		}
	}
	if len(missing) > 0 && in.OverrideDate == nil {
		events = append(events, Event{
			Kind:          EventMissingSubstances,
			VisitUUID:     in.Visit.UUID,
			MissingLabels: missing,
		})
	}
	return events
}
