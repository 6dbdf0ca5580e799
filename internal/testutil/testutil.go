// Package testutil provides common test utilities and helpers for vxnaid tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSON decodes the recorded response body into target and fails the test on error.
func DecodeJSON(t testing.TB, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode JSON response: %v (body=%q)", err, rr.Body.String())
	}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body any) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// FixedClock returns a clock that always reports now.
func FixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

// Birth is the birth date used by the fixtures.
var Birth = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// PolioCatalog is a catalog with a three-dose Polio group and an ungrouped BCG.
func PolioCatalog() models.Catalog {
	return models.Catalog{
		Substances: []models.SubstanceConfig{
			{ConceptName: "Polio0", Label: "OPV 0", Group: "Polio", WeeksAfterBirth: 2, WeeksAfterBirthLowWindow: 2, WeeksAfterBirthUpWindow: 2},
			{ConceptName: "Polio1", Label: "OPV 1", Group: "Polio", WeeksAfterBirth: 6, WeeksAfterBirthLowWindow: 2, WeeksAfterBirthUpWindow: 4},
			{ConceptName: "Polio2", Label: "OPV 2", Group: "Polio", WeeksAfterBirth: 10, WeeksAfterBirthLowWindow: 2, WeeksAfterBirthUpWindow: 4},
			{ConceptName: "BCG", WeeksAfterBirth: 0, WeeksAfterBirthLowWindow: 0, WeeksAfterBirthUpWindow: 8},
		},
		Groups: []models.SubstanceGroup{{Name: "Polio", Options: []string{"Polio0", "Polio1", "Polio2"}}},
	}
}

// Identity is a configured site/operator identity.
func Identity() models.Identity {
	return models.Identity{SiteUUID: "site-1", OperatorUUID: "operator-1"}
}

// NewParticipantDraft builds a registration draft with a photo asset.
func NewParticipantDraft(uuid string) models.DraftParticipant {
	return models.DraftParticipant{
		ParticipantBase: models.ParticipantBase{
			UUID:          uuid,
			ParticipantID: "VX-" + uuid,
			Gender:        "F",
			BirthDate:     Birth,
			Attributes:    map[string]string{models.AttrPhone: "+256700000001"},
		},
		RegistrationDate: Birth.AddDate(0, 0, 10),
		Assets:           []models.Asset{{Kind: models.AssetPhoto, Bytes: []byte("jpeg-bytes")}},
	}
}

// NewVisitDraft builds a new dosing visit draft for a participant.
func NewVisitDraft(uuid, participantUUID string) models.DraftVisit {
	start := models.DateOnly(Birth.AddDate(0, 0, 14))
	return models.DraftVisit{
		VisitDetail: models.VisitDetail{
			UUID:      uuid,
			Type:      models.VisitTypeDosing,
			Status:    models.VisitStatusOccurred,
			StartDate: start,
			EndDate:   start,
			Observations: models.Observations{
				"Polio0": {AdministeredDate: start, BarcodeID: "LOT-1", Manufacturer: "Acme"},
			},
		},
		ParticipantUUID: participantUUID,
		IsNew:           true,
	}
}
