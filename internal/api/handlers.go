package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ConnectForLife/vxnaid-sub000/internal/manager"
	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
	"github.com/ConnectForLife/vxnaid-sub000/internal/validation"
)

// dateLayout is the format of date-only query parameters.
const dateLayout = "2006-01-02"

// ParticipantDraftRequest is a participant draft with its binary assets. The byte fields
// travel base64-encoded.
type ParticipantDraftRequest struct {
	models.DraftParticipant
	Photo              []byte `json:"photo,omitempty"`
	BiometricsTemplate []byte `json:"biometrics_template,omitempty"`
}

// draft drops the fields only the store assigns.
func (req ParticipantDraftRequest) draft() models.DraftParticipant {
	d := req.DraftParticipant
	d.Assets = nil
	d.AssetKeys = nil
	d.State = ""
	d.Upload = models.UploadStatus{}
	d.Revision = 0
	if len(req.Photo) > 0 {
		d.Assets = append(d.Assets, models.Asset{Kind: models.AssetPhoto, Bytes: req.Photo})
	}
	if len(req.BiometricsTemplate) > 0 {
		d.Assets = append(d.Assets, models.Asset{Kind: models.AssetBiometricTemplate, Bytes: req.BiometricsTemplate})
	}
	return d
}

// ValidateRequest is one field value typed by the operator. Key identifies the input
// field; a newer value for the same key supersedes an older one still waiting.
type ValidateRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ValidateResult is the outcome of a field validation.
type ValidateResult struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type operatorRequest struct {
	OperatorUUID string `json:"operator_uuid"`
}

type nextVisitDateResult struct {
	Date string `json:"date"`
}

func overwriteParam(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("overwrite"))
	return err == nil && v
}

func decodeBody(w http.ResponseWriter, r *http.Request, op string, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		slog.Warn("Server."+op+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid JSON format"))
		return false
	}
	return true
}

func draftFilter(r *http.Request) (store.DraftFilter, error) {
	q := r.URL.Query()
	f := store.DraftFilter{
		State:           models.DraftState(q.Get("state")),
		ParticipantUUID: q.Get("participant_uuid"),
	}
	if f.State != "" && !models.IsValidDraftState(f.State) {
		return f, fmt.Errorf("%w: unknown state %q", models.ErrInvalidDraft, f.State)
	}
	return f, nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, Success(map[string]string{"status": "healthy"}))
}

func (s *Server) connectivityHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Connectivity == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, Error("Connectivity monitor not configured"))
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(s.opts.Connectivity.Status()))
}

func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sync == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, Error("Sync loop not configured"))
		return
	}
	report, err := s.opts.Sync.RunOnce(r.Context())
	if err != nil {
		writeError(w, "syncHandler", err)
		return
	}
	slog.Info("Server.syncHandler: pass finished", "uploaded", report.Uploaded, "skipped", report.Skipped)
	writeJSONResponse(w, http.StatusOK, Success(report))
}

func (s *Server) setOperatorHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Operator == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, Error("Operator sign-in not configured"))
		return
	}
	var req operatorRequest
	if !decodeBody(w, r, "setOperatorHandler", &req) {
		return
	}
	if strings.TrimSpace(req.OperatorUUID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, Error("operator_uuid is required"))
		return
	}
	s.opts.Operator.SetOperator(req.OperatorUUID)
	writeJSONResponse(w, http.StatusOK, SuccessWithMessage("Operator set", nil))
}

func (s *Server) insertParticipantDraftHandler(w http.ResponseWriter, r *http.Request) {
	var req ParticipantDraftRequest
	if !decodeBody(w, r, "insertParticipantDraftHandler", &req) {
		return
	}
	d, err := s.mgr.InsertParticipantDraft(r.Context(), req.draft(), overwriteParam(r))
	if err != nil {
		writeError(w, "insertParticipantDraftHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, SuccessWithMessage("Draft saved", d))
}

func (s *Server) insertVisitDraftHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DraftVisit
	if !decodeBody(w, r, "insertVisitDraftHandler", &req) {
		return
	}
	d, err := s.mgr.InsertVisitDraft(r.Context(), req, overwriteParam(r))
	if err != nil {
		writeError(w, "insertVisitDraftHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, SuccessWithMessage("Draft saved", d))
}

func (s *Server) listParticipantDraftsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := draftFilter(r)
	if err != nil {
		writeError(w, "listParticipantDraftsHandler", err)
		return
	}
	drafts, err := s.mgr.ParticipantDrafts(r.Context(), f)
	if err != nil {
		writeError(w, "listParticipantDraftsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(drafts))
}

func (s *Server) listVisitDraftsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := draftFilter(r)
	if err != nil {
		writeError(w, "listVisitDraftsHandler", err)
		return
	}
	drafts, err := s.mgr.VisitDrafts(r.Context(), f)
	if err != nil {
		writeError(w, "listVisitDraftsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(drafts))
}

func (s *Server) uploadParticipantHandler(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	if err := s.mgr.UploadParticipant(r.Context(), uuid); err != nil {
		writeError(w, "uploadParticipantHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, SuccessWithMessage("Participant uploaded", nil))
}

func (s *Server) uploadVisitHandler(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	if err := s.mgr.UploadVisit(r.Context(), uuid); err != nil {
		writeError(w, "uploadVisitHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, SuccessWithMessage("Visit uploaded", nil))
}

// participantView flattens a ParticipantRecord for the UI.
type participantView struct {
	Source string `json:"source"`
	models.ParticipantBase
	State models.DraftState `json:"state,omitempty"`
}

func (s *Server) getParticipantHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.mgr.FindParticipant(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, "getParticipantHandler", err)
		return
	}
	view := participantView{Source: rec.Source.String(), ParticipantBase: rec.Base()}
	if rec.Draft != nil {
		view.State = rec.Draft.State
	}
	writeJSONResponse(w, http.StatusOK, Success(view))
}

func (s *Server) visitsHandler(w http.ResponseWriter, r *http.Request) {
	visits, err := s.mgr.VisitsFor(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, "visitsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(visits))
}

func (s *Server) dueSubstancesHandler(w http.ResponseWriter, r *http.Request) {
	due, err := s.mgr.ComputeDueSubstances(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, "dueSubstancesHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(due))
}

func (s *Server) openVisitHandler(w http.ResponseWriter, r *http.Request) {
	open, err := s.mgr.ComputeOpenDosingVisit(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, "openVisitHandler", err)
		return
	}
	if open == nil {
		writeJSONResponse(w, http.StatusNotFound, Error("No open dosing visit"))
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(open))
}

func (s *Server) nextVisitDateHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var administered []string
	for _, c := range strings.Split(q.Get("administered"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			administered = append(administered, c)
		}
	}
	var override *time.Time
	if raw := q.Get("override"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, Error("override must be YYYY-MM-DD"))
			return
		}
		override = &t
	}
	date, err := s.mgr.ComputeNextVisitDate(r.Context(), chi.URLParam(r, "uuid"), administered, override)
	if err != nil {
		writeError(w, "nextVisitDateHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(nextVisitDateResult{Date: date.Format(dateLayout)}))
}

func (s *Server) finalizeDosingVisitHandler(w http.ResponseWriter, r *http.Request) {
	var req manager.FinalizeRequest
	if !decodeBody(w, r, "finalizeDosingVisitHandler", &req) {
		return
	}
	req.ParticipantUUID = chi.URLParam(r, "uuid")
	res, err := s.mgr.FinalizeDosingVisit(r.Context(), req)
	if err != nil {
		writeError(w, "finalizeDosingVisitHandler", err)
		return
	}
	if len(res.Events) > 0 {
		writeJSONResponse(w, http.StatusConflict, Response{Status: StatusError, Message: "Confirmation required", Result: res})
		return
	}
	writeJSONResponse(w, http.StatusCreated, SuccessWithMessage("Visit recorded", res))
}

func (s *Server) substancesHandler(w http.ResponseWriter, r *http.Request) {
	subs, err := s.mgr.Substances(r.Context(), models.VisitType(r.URL.Query().Get("visit_type")))
	if err != nil {
		writeError(w, "substancesHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(subs))
}

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	var check func(string) (string, error)
	switch field {
	case "barcode":
		check = validation.ValidateBarcode
	case "phone":
		check = validation.ValidatePhone
	default:
		writeJSONResponse(w, http.StatusNotFound, Error("Unknown field "+field))
		return
	}
	var req ValidateRequest
	if !decodeBody(w, r, "validateHandler", &req) {
		return
	}
	key := field + ":" + req.Key

	var result ValidateResult
	normalized, err := s.debounce.Do(r.Context(), key, func(ctx context.Context) (string, error) {
		return check(req.Value)
	})
	switch {
	case errors.Is(err, validation.ErrSuperseded):
		writeJSONResponse(w, http.StatusConflict, Error(err.Error()))
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		result = ValidateResult{Valid: false, Reason: err.Error()}
	default:
		result = ValidateResult{Valid: true, Normalized: normalized}
	}
	writeJSONResponse(w, http.StatusOK, Success(result))
}
