package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ConnectForLife/vxnaid-sub000/internal/connectivity"
	"github.com/ConnectForLife/vxnaid-sub000/internal/manager"
	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
	"github.com/ConnectForLife/vxnaid-sub000/internal/syncer"
	"github.com/ConnectForLife/vxnaid-sub000/internal/testutil"
	"github.com/ConnectForLife/vxnaid-sub000/internal/upload"
)

var now = time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

type staticConfig struct{}

func (staticConfig) Catalog(context.Context) (models.Catalog, error) { return testutil.PolioCatalog(), nil }
func (staticConfig) Identity() (models.Identity, error)             { return testutil.Identity(), nil }

type fakeStatus struct{ s connectivity.Status }

func (f fakeStatus) Status() connectivity.Status { return f.s }

type fakeSync struct{ report syncer.Report }

func (f fakeSync) RunOnce(context.Context) (syncer.Report, error) { return f.report, nil }

type recordingOperator struct{ got string }

func (r *recordingOperator) SetOperator(uuid string) { r.got = uuid }

type envelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Result  map[string]any `json:"result"`
}

type listEnvelope struct {
	Status string           `json:"status"`
	Result []map[string]any `json:"result"`
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "vxnaid.db")))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	fs := testutil.NewMemFiles()
	fr := testutil.NewFakeRemote()
	pipeline := upload.NewPipeline(s, fs, fr, staticConfig{}, nil)
	mgr := manager.New(store.NewDraftStore(s, fs, nil), s, pipeline, fr, staticConfig{},
		manager.WithClock(testutil.FixedClock(now)))
	return NewServer(mgr, append([]Option{WithDebounceDelay(0)}, opts...)...)
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func participantBody() ParticipantDraftRequest {
	d := testutil.NewParticipantDraft("p-1")
	return ParticipantDraftRequest{DraftParticipant: d, Photo: []byte("jpeg-bytes")}
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t)
	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	var resp envelope
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Status != StatusOK || resp.Result["status"] != "healthy" {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestParticipantDraftLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/drafts/participants", participantBody()))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "insert draft")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/drafts/participants", participantBody()))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "insert without overwrite")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/drafts/participants?overwrite=true", participantBody()))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "overwrite pending draft")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get participant")
	var got envelope
	testutil.DecodeJSON(t, rr, &got)
	if got.Result["source"] != "draft" || got.Result["state"] != string(models.DraftStatePendingUpload) {
		t.Errorf("expected pending draft record, got %+v", got.Result)
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/drafts/participants?state=PENDING_UPLOAD", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list drafts")
	var list listEnvelope
	testutil.DecodeJSON(t, rr, &list)
	if len(list.Result) != 1 {
		t.Errorf("expected one pending draft, got %d", len(list.Result))
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/drafts/participants/p-1/upload", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "upload")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/drafts/participants/p-1/upload", nil))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "second upload")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1", nil))
	testutil.DecodeJSON(t, rr, &got)
	if got.Result["source"] != "synced" {
		t.Errorf("expected synced record after upload, got %+v", got.Result)
	}
}

func TestInvalidRequests(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, "/drafts/visits", strings.NewReader("{not json"))
	rr := serve(srv, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad json")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/drafts/visits?state=BOGUS", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad state filter")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/nobody", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown participant")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/connectivity", nil))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "no monitor")
}

func TestScheduleEndpoints(t *testing.T) {
	srv := newTestServer(t)
	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/drafts/participants", participantBody()))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "insert draft")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1/due-substances", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "due substances")
	var due listEnvelope
	testutil.DecodeJSON(t, rr, &due)
	if len(due.Result) != 2 || due.Result[0]["concept_name"] != "Polio0" {
		t.Errorf("expected Polio0 and BCG due, got %+v", due.Result)
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1/open-visit", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "no open visit")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1/next-visit-date?administered=Polio0,BCG", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "next visit date")
	var next envelope
	testutil.DecodeJSON(t, rr, &next)
	if next.Result["date"] != "2024-02-12" {
		t.Errorf("expected 2024-02-12, got %v", next.Result["date"])
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1/next-visit-date?administered=Polio2", nil))
	testutil.AssertHTTPStatus(t, http.StatusUnprocessableEntity, rr.Code, "override required")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1/next-visit-date?override=12-02-2024", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad override")

	partial := manager.FinalizeRequest{Observations: models.Observations{"Polio0": {AdministeredDate: now}}}
	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants/p-1/dosing-visit", partial))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "missing substances")

	full := manager.FinalizeRequest{Observations: models.Observations{
		"Polio0": {AdministeredDate: now},
		"BCG":    {AdministeredDate: now},
	}}
	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants/p-1/dosing-visit", full))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "finalize")

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/p-1/visits", nil))
	var visits listEnvelope
	testutil.DecodeJSON(t, rr, &visits)
	if len(visits.Result) != 2 {
		t.Errorf("expected recorded and scheduled visits, got %d", len(visits.Result))
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/substances?visit_type=DOSING", nil))
	var subs listEnvelope
	testutil.DecodeJSON(t, rr, &subs)
	if len(subs.Result) != 4 {
		t.Errorf("expected the whole catalog for DOSING, got %d", len(subs.Result))
	}
}

func TestValidateHandler(t *testing.T) {
	srv := newTestServer(t)

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/validate/barcode", ValidateRequest{Key: "f1", Value: " lot-9 "}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "barcode")
	var resp envelope
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Result["valid"] != true || resp.Result["normalized"] != "LOT-9" {
		t.Errorf("unexpected barcode result %+v", resp.Result)
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/validate/phone", ValidateRequest{Key: "f2", Value: "12"}))
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Result["valid"] != false || resp.Result["reason"] == "" {
		t.Errorf("unexpected phone result %+v", resp.Result)
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/validate/zip", ValidateRequest{Value: "x"}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown field")
}

func TestOperationalEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetOnline(true)
	op := &recordingOperator{}
	srv := newTestServer(t,
		WithConnectivity(fakeStatus{connectivity.Status{Online: true, CheckedAt: now}}),
		WithSync(fakeSync{syncer.Report{Uploaded: 3}}),
		WithGatherer(reg),
		WithOperatorSetter(op),
	)

	rr := serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/connectivity", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "connectivity")
	var resp envelope
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Result["online"] != true {
		t.Errorf("expected online, got %+v", resp.Result)
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPost, "/sync", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "sync")
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Result["uploaded"] != float64(3) {
		t.Errorf("expected 3 uploaded, got %+v", resp.Result)
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodPut, "/identity/operator", map[string]string{"operator_uuid": "op-7"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "set operator")
	if op.got != "op-7" {
		t.Errorf("expected operator op-7, got %q", op.got)
	}

	rr = serve(srv, testutil.CreateHTTPRequest(t, http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), "vxnaid_") {
		t.Errorf("expected vxnaid metrics in scrape output")
	}
}

func TestParticipantDraftRequestDropsStoreAssignedFields(t *testing.T) {
	req := participantBody()
	req.AssetKeys = map[models.AssetKind]string{models.AssetPhoto: "photo/other-participant.jpg"}
	req.State = models.DraftStateUploaded
	req.Upload = models.UploadStatus{Attempts: 3, Blocked: true}

	d := req.draft()
	if d.AssetKeys != nil {
		t.Errorf("expected caller asset keys to be dropped, got %v", d.AssetKeys)
	}
	if d.State != "" || d.Upload.Blocked || d.Upload.Attempts != 0 {
		t.Errorf("expected state and upload status to be dropped, got %s %+v", d.State, d.Upload)
	}
	if len(d.Assets) != 1 || d.Assets[0].Kind != models.AssetPhoto {
		t.Errorf("expected the photo to become an asset, got %+v", d.Assets)
	}
}
