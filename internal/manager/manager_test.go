package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/remote"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
	"github.com/ConnectForLife/vxnaid-sub000/internal/testutil"
	"github.com/ConnectForLife/vxnaid-sub000/internal/upload"
	"github.com/ConnectForLife/vxnaid-sub000/internal/visit"
)

// now is three weeks into the life of testutil.Birth.
var now = time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

type staticConfig struct {
	catalog  models.Catalog
	identity models.Identity
}

func (c staticConfig) Catalog(context.Context) (models.Catalog, error) { return c.catalog, nil }
func (c staticConfig) Identity() (models.Identity, error)             { return c.identity, c.identity.Validate() }

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger() { c.n.Add(1) }

type fixture struct {
	store   *store.SQLiteStore
	remote  *testutil.FakeRemote
	trigger *countingTrigger
	m       *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "vxnaid.db")))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	fs := testutil.NewMemFiles()
	fr := testutil.NewFakeRemote()
	cfg := staticConfig{catalog: testutil.PolioCatalog(), identity: testutil.Identity()}
	trig := &countingTrigger{}
	pipeline := upload.NewPipeline(s, fs, fr, cfg, nil)
	m := New(store.NewDraftStore(s, fs, nil), s, pipeline, fr, cfg,
		WithClock(testutil.FixedClock(now)), WithSyncTrigger(trig))
	return &fixture{store: s, remote: fr, trigger: trig, m: m}
}

func (f *fixture) addRemote(p models.Participant) {
	f.remote.Participants[p.UUID] = remote.ParticipantResult{UUID: p.UUID, Participant: &p}
}

func remoteParticipant(uuid string, visits ...models.VisitDetail) models.Participant {
	return models.Participant{
		ParticipantBase: models.ParticipantBase{UUID: uuid, ParticipantID: "VX-" + uuid, Gender: "M", BirthDate: testutil.Birth},
		Visits:          visits,
	}
}

func concepts(subs []models.SubstanceConfig) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ConceptName)
	}
	return out
}

func TestInsertParticipantDraftFillsIdentifiers(t *testing.T) {
	f := newFixture(t)
	d := testutil.NewParticipantDraft("")
	d.ParticipantID = ""
	d.Attributes = map[string]string{models.AttrPhone: "+256 (700) 000-001"}

	got, err := f.m.InsertParticipantDraft(context.Background(), d, false)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if got.UUID == "" || got.ParticipantID == "" {
		t.Fatalf("expected generated identifiers, got uuid=%q id=%q", got.UUID, got.ParticipantID)
	}
	if got.Phone() != "+256700000001" {
		t.Errorf("expected normalized phone, got %q", got.Phone())
	}
	if n := f.trigger.n.Load(); n != 1 {
		t.Errorf("expected one sync trigger, got %d", n)
	}

	bad := testutil.NewParticipantDraft("p-bad")
	bad.Attributes = map[string]string{models.AttrPhone: "12"}
	if _, err := f.m.InsertParticipantDraft(context.Background(), bad, false); !errors.Is(err, models.ErrInvalidDraft) {
		t.Fatalf("expected ErrInvalidDraft for a short phone, got %v", err)
	}
}

func TestFindParticipantPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.m.InsertParticipantDraft(ctx, testutil.NewParticipantDraft("p-1"), false); err != nil {
		t.Fatal(err)
	}
	rec, err := f.m.FindParticipant(ctx, "p-1")
	if err != nil || rec.Source != models.SourceDraft {
		t.Fatalf("expected pending draft, got %v, %v", rec.Source, err)
	}

	if err := f.m.UploadParticipant(ctx, "p-1"); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	rec, err = f.m.FindParticipant(ctx, "p-1")
	if err != nil || rec.Source != models.SourceSynced {
		t.Fatalf("expected synced record after upload, got %v, %v", rec.Source, err)
	}

	f.addRemote(remoteParticipant("r-1"))
	for i := 0; i < 2; i++ {
		rec, err = f.m.FindParticipant(ctx, "r-1")
		if err != nil || rec.Base().ParticipantID != "VX-r-1" {
			t.Fatalf("expected remote participant, got %+v, %v", rec, err)
		}
	}
	if n := f.remote.CallCount("getParticipantsByUuids"); n != 1 {
		t.Errorf("expected the second lookup to hit the cache, got %d remote calls", n)
	}

	f.remote.Participants["r-2"] = remote.ParticipantResult{UUID: "r-2", Deleted: true}
	if _, err := f.m.FindParticipant(ctx, "r-2"); !errors.Is(err, models.ErrParticipantDeleted) {
		t.Fatalf("expected ErrParticipantDeleted, got %v", err)
	}
	if _, err := f.m.FindParticipant(ctx, "nobody"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVisitsForShadowsSyncedVisits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := models.DateOnly(now)
	f.addRemote(remoteParticipant("r-1", models.VisitDetail{
		UUID: "v-1", Type: models.VisitTypeDosing, Status: models.VisitStatusScheduled, StartDate: start, EndDate: start,
	}))

	occurred := testutil.NewVisitDraft("v-1", "r-1")
	occurred.IsNew = false
	if _, err := f.m.InsertVisitDraft(ctx, occurred, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.InsertVisitDraft(ctx, testutil.NewVisitDraft("v-2", "r-1"), false); err != nil {
		t.Fatal(err)
	}

	visits, err := f.m.VisitsFor(ctx, "r-1")
	if err != nil {
		t.Fatalf("VisitsFor failed: %v", err)
	}
	if len(visits) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(visits))
	}
	for _, v := range visits {
		if v.UUID == "v-1" && v.Status != models.VisitStatusOccurred {
			t.Errorf("expected pending draft to shadow synced visit, got %s", v.Status)
		}
	}
}

func TestInsertVisitDraftNormalizesBarcodes(t *testing.T) {
	f := newFixture(t)
	d := testutil.NewVisitDraft("v-1", "p-1")
	d.Observations = models.Observations{"Polio0": {BarcodeID: " lot-7 "}}
	got, err := f.m.InsertVisitDraft(context.Background(), d, false)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if got.Observations["Polio0"].BarcodeID != "LOT-7" {
		t.Errorf("expected normalized barcode, got %q", got.Observations["Polio0"].BarcodeID)
	}

	d.UUID = "v-2"
	d.Observations = models.Observations{"Polio0": {BarcodeID: "x"}}
	if _, err := f.m.InsertVisitDraft(context.Background(), d, false); !errors.Is(err, models.ErrInvalidDraft) {
		t.Fatalf("expected ErrInvalidDraft, got %v", err)
	}
}

func TestComputeDueSubstancesAndNextDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.m.InsertParticipantDraft(ctx, testutil.NewParticipantDraft("p-1"), false); err != nil {
		t.Fatal(err)
	}

	due, err := f.m.ComputeDueSubstances(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	got := concepts(due)
	if len(got) != 2 || got[0] != "Polio0" || got[1] != "BCG" {
		t.Fatalf("expected [Polio0 BCG], got %v", got)
	}

	next, err := f.m.ComputeNextVisitDate(ctx, "p-1", []string{"Polio0", "BCG"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := testutil.Birth.AddDate(0, 0, 42); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}

	open, err := f.m.ComputeOpenDosingVisit(ctx, "p-1")
	if err != nil || open != nil {
		t.Fatalf("expected no open visit, got %+v, %v", open, err)
	}
}

func TestFinalizeDosingVisitRequiresAllDueSubstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.m.InsertParticipantDraft(ctx, testutil.NewParticipantDraft("p-1"), false); err != nil {
		t.Fatal(err)
	}
	given := models.Observations{"Polio0": {AdministeredDate: now, BarcodeID: "LOT-1"}}

	res, err := f.m.FinalizeDosingVisit(ctx, FinalizeRequest{ParticipantUUID: "p-1", Observations: given})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || res.Events[0].Kind != visit.EventMissingSubstances {
		t.Fatalf("expected a missing substances event, got %+v", res.Events)
	}
	if res.Visit != nil {
		t.Fatal("nothing may be written while events are outstanding")
	}

	given["BCG"] = models.SubstanceObservation{AdministeredDate: now, BarcodeID: "LOT-2"}
	res, err = f.m.FinalizeDosingVisit(ctx, FinalizeRequest{ParticipantUUID: "p-1", Observations: given})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 || res.Visit == nil || res.NextVisit == nil {
		t.Fatalf("expected recorded and scheduled visits, got %+v", res)
	}
	if !res.Visit.IsNew || res.Visit.Status != models.VisitStatusOccurred || res.Visit.DoseNumber != 1 {
		t.Errorf("unexpected recorded visit %+v", res.Visit)
	}
	if want := testutil.Birth.AddDate(0, 0, 42); !res.NextVisit.StartDate.Equal(want) || res.NextVisit.DoseNumber != 2 {
		t.Errorf("unexpected next visit %+v", res.NextVisit)
	}

	open, err := f.m.ComputeOpenDosingVisit(ctx, "p-1")
	if err != nil || open == nil || open.Visit.UUID != res.NextVisit.UUID || open.InWindow {
		t.Fatalf("expected the scheduled visit to be open and not yet in window, got %+v, %v", open, err)
	}
}

func TestFinalizeDosingVisitOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	f.addRemote(remoteParticipant("r-1", models.VisitDetail{
		UUID: "v-9", Type: models.VisitTypeDosing, Status: models.VisitStatusScheduled, StartDate: past, EndDate: past,
	}))
	req := FinalizeRequest{
		ParticipantUUID: "r-1",
		Observations: models.Observations{
			"Polio0": {AdministeredDate: now},
			"BCG":    {AdministeredDate: now},
		},
	}

	res, err := f.m.FinalizeDosingVisit(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || res.Events[0].Kind != visit.EventOutsideWindow || res.Events[0].VisitUUID != "v-9" {
		t.Fatalf("expected an outside window event for v-9, got %+v", res.Events)
	}

	req.ConfirmedOutsideWindow = true
	res, err = f.m.FinalizeDosingVisit(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Visit == nil || res.Visit.UUID != "v-9" || res.Visit.IsNew {
		t.Fatalf("expected synced visit v-9 to be updated, got %+v", res.Visit)
	}
}

func TestFinalizeDosingVisitOverrideRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.m.InsertParticipantDraft(ctx, testutil.NewParticipantDraft("p-1"), false); err != nil {
		t.Fatal(err)
	}
	req := FinalizeRequest{
		ParticipantUUID: "p-1",
		Observations: models.Observations{
			"Polio0": {AdministeredDate: now},
			"Polio2": {AdministeredDate: now},
			"BCG":    {AdministeredDate: now},
		},
	}
	if _, err := f.m.FinalizeDosingVisit(ctx, req); !errors.Is(err, models.ErrOverrideDateRequired) {
		t.Fatalf("expected ErrOverrideDateRequired, got %v", err)
	}

	req.EndOfSchedule = true
	res, err := f.m.FinalizeDosingVisit(ctx, req)
	if err != nil || res.Visit == nil || res.NextVisit != nil {
		t.Fatalf("expected a recorded visit without a next visit, got %+v, %v", res, err)
	}
}
