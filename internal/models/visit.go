package models

import (
	"fmt"
	"time"
)

// VisitType identifies the purpose of a visit.
type VisitType string

const (
	VisitTypeDosing   VisitType = "DOSING"
	VisitTypeFollowUp VisitType = "IN_PERSON_FOLLOW_UP"
	VisitTypeOther    VisitType = "OTHER"
)

// VisitStatus is written externally; SCHEDULED is the only non-terminal status.
type VisitStatus string

const (
	VisitStatusScheduled VisitStatus = "SCHEDULED"
	VisitStatusOccurred  VisitStatus = "OCCURRED"
	VisitStatusMissed    VisitStatus = "MISSED"
)

// IsTerminal reports whether the status closes the visit.
func (s VisitStatus) IsTerminal() bool {
	return s == VisitStatusOccurred || s == VisitStatusMissed
}

// VisitDetail is one scheduled or recorded encounter.
type VisitDetail struct {
	UUID         string       `json:"uuid"`
	Type         VisitType    `json:"type"`
	Status       VisitStatus  `json:"status"`
	DoseNumber   int          `json:"dose_number,omitempty"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	Observations Observations `json:"observations,omitempty"`
}

// DraftVisit is a locally recorded visit creation or update.
type DraftVisit struct {
	VisitDetail
	ParticipantUUID string       `json:"participant_uuid"`
	IsNew           bool         `json:"is_new"`
	State           DraftState   `json:"state"`
	Upload          UploadStatus `json:"upload"`
	Revision        int64        `json:"revision"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Validate checks the fields required to persist a visit draft.
func (d DraftVisit) Validate() error {
	if d.UUID == "" {
		return fmt.Errorf("%w: visit uuid is required", ErrInvalidDraft)
	}
	if d.ParticipantUUID == "" {
		return fmt.Errorf("%w: participant uuid is required", ErrInvalidDraft)
	}
	if d.Type == "" {
		return fmt.Errorf("%w: visit type is required", ErrInvalidDraft)
	}
	return nil
}
