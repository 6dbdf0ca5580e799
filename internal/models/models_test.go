package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDraftStateTransitions(t *testing.T) {
	if !DraftStatePendingUpload.CanTransition(DraftStateUploaded) {
		t.Error("expected PENDING_UPLOAD -> UPLOADED to be allowed")
	}
	if DraftStateUploaded.CanTransition(DraftStatePendingUpload) {
		t.Error("expected UPLOADED -> PENDING_UPLOAD to be rejected")
	}
	if DraftStateUploaded.CanTransition(DraftStateUploaded) {
		t.Error("expected UPLOADED -> UPLOADED to be rejected")
	}
	if IsValidDraftState("SOMETHING") {
		t.Error("unexpected valid state")
	}
}

func TestObservationsWireEncoding(t *testing.T) {
	d := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	obs := Observations{
		"Polio0": {AdministeredDate: d, BarcodeID: "ABC123", Manufacturer: "Bharat"},
		"Weight": {FreeValue: "4.2"},
	}
	flat := EncodeObservations(obs)

	want := map[string]string{
		"Polio0 Date":         "2024-03-05",
		"Polio0 Barcode":      "ABC123",
		"Polio0 Manufacturer": "Bharat",
		"Weight":              "4.2",
	}
	if len(flat) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(flat), flat)
	}
	for k, v := range want {
		if flat[k] != v {
			t.Errorf("key %q: expected %q, got %q", k, v, flat[k])
		}
	}

	back := DecodeObservations(flat)
	if !back["Polio0"].AdministeredDate.Equal(d) {
		t.Errorf("date not decoded: %v", back["Polio0"].AdministeredDate)
	}
	if back["Polio0"].BarcodeID != "ABC123" || back["Polio0"].Manufacturer != "Bharat" {
		t.Errorf("unexpected Polio0 observation: %+v", back["Polio0"])
	}
	if back["Weight"].FreeValue != "4.2" {
		t.Errorf("unexpected Weight observation: %+v", back["Weight"])
	}
}

func TestObservationsHasIgnoresEmpty(t *testing.T) {
	obs := Observations{"Polio0": {}, "BCG": {BarcodeID: "x"}}
	if obs.Has("Polio0") {
		t.Error("empty observation should not count as recorded")
	}
	if !obs.Has("BCG") {
		t.Error("expected BCG to be recorded")
	}
	if got := obs.Concepts(); len(got) != 1 || got[0] != "BCG" {
		t.Errorf("unexpected concepts %v", got)
	}
}

func TestParticipantRecordProjection(t *testing.T) {
	base := ParticipantBase{UUID: "p-1", Attributes: map[string]string{AttrPhone: "+2547000"}}
	synced := FromSynced(Participant{ParticipantBase: base, Visits: []VisitDetail{{UUID: "v-1"}}})
	if synced.Base().Phone() != "+2547000" {
		t.Errorf("unexpected phone %q", synced.Base().Phone())
	}
	if len(synced.Visits()) != 1 {
		t.Errorf("expected synced visits to be exposed")
	}

	draft := FromDraft(DraftFromParticipant(*synced.Synced, time.Now()))
	if draft.Source != SourceDraft || !draft.Draft.IsUpdate {
		t.Fatalf("expected update draft, got %+v", draft)
	}
	if draft.Draft.State != DraftStatePendingUpload {
		t.Errorf("expected pending state, got %s", draft.Draft.State)
	}
	draft.Draft.Attributes[AttrPhone] = "changed"
	if synced.Base().Phone() != "+2547000" {
		t.Error("conversion must not alias the synced attribute map")
	}
	if draft.Visits() != nil {
		t.Error("drafts carry no visit history")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("upload: %w", ErrAlreadyUploaded)
	if !IsPrecondition(wrapped) || IsConflict(wrapped) || IsTransient(wrapped) {
		t.Errorf("expected precondition classification for %v", wrapped)
	}
	if !IsConflict(fmt.Errorf("register: %w", ErrParticipantExists)) {
		t.Error("expected conflict classification")
	}
	if !IsTransient(fmt.Errorf("network: %w", ErrTransient)) {
		t.Error("expected transient classification")
	}
	if !errors.Is((Identity{SiteUUID: "s"}).Validate(), ErrMissingIdentity) {
		t.Error("expected missing operator to fail validation")
	}
}
