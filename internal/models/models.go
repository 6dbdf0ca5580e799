// Package models defines the core data structures for the vaccination field tool.
//
// It includes participants (synced and draft), visits, substance configuration and the
// typed observation structure shared by the dosing engine, the draft store and the
// upload pipeline.
package models

import "time"

// DraftState tracks whether a locally originated record has been applied remotely.
type DraftState string

const (
	// DraftStatePendingUpload is the state of every draft when it is first committed.
	DraftStatePendingUpload DraftState = "PENDING_UPLOAD"
	// DraftStateUploaded is reached once, after the remote acknowledged the write.
	DraftStateUploaded DraftState = "UPLOADED"
)

// IsValidDraftState checks if the given draft state is supported.
func IsValidDraftState(s DraftState) bool {
	switch s {
	case DraftStatePendingUpload, DraftStateUploaded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a draft may move from one state to another.
// The lifecycle is forward-only: PENDING_UPLOAD -> UPLOADED.
func (s DraftState) CanTransition(to DraftState) bool {
	return s == DraftStatePendingUpload && to == DraftStateUploaded
}

// DraftKind distinguishes the two kinds of draft rows.
type DraftKind string

const (
	DraftKindParticipant DraftKind = "participant"
	DraftKindVisit       DraftKind = "visit"
)

// UploadStatus is the sync loop's bookkeeping for a pending draft.
type UploadStatus struct {
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	// Blocked drafts wait for an operator decision and are skipped by the sync loop.
	Blocked bool `json:"blocked"`
}

// DateOnly truncates t to the start of its calendar day in t's location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
