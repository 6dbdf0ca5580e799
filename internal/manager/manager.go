// Package manager is the facade the UI talks to. It combines the draft store, the synced
// participant cache, the remote API and the dosing and visit engines.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/config"
	"github.com/ConnectForLife/vxnaid-sub000/internal/dosing"
	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/remote"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
	"github.com/ConnectForLife/vxnaid-sub000/internal/util"
	"github.com/ConnectForLife/vxnaid-sub000/internal/validation"
	"github.com/ConnectForLife/vxnaid-sub000/internal/visit"
)

// ParticipantIDPrefix prefixes generated participant ids.
const ParticipantIDPrefix = "VX"

// Uploader submits a single pending draft.
type Uploader interface {
	UploadParticipant(ctx context.Context, uuid string) error
	UploadVisit(ctx context.Context, uuid string) error
}

// SyncTrigger asks the sync loop for a pass.
type SyncTrigger interface {
	Trigger()
}

// TriggerFunc adapts a function to SyncTrigger.
type TriggerFunc func()

func (f TriggerFunc) Trigger() { f() }

// Opts holds manager configuration.
type Opts struct {
	Now  func() time.Time
	Sync SyncTrigger
}

// Option configures a Manager.
type Option func(*Opts)

// WithClock overrides the clock used by the engines.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithSyncTrigger makes every committed draft request a sync pass.
func WithSyncTrigger(t SyncTrigger) Option {
	return func(o *Opts) { o.Sync = t }
}

// Manager is the UI facade.
type Manager struct {
	drafts   *store.DraftStore
	repo     store.Store
	uploader Uploader
	remote   remote.API
	config   config.Provider
	now      func() time.Time
	sync     SyncTrigger
}

// New creates a Manager.
func New(drafts *store.DraftStore, repo store.Store, uploader Uploader, api remote.API, cfg config.Provider, opts ...Option) *Manager {
	o := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	slog.Debug("Manager.New: created")
	return &Manager{
		drafts:   drafts,
		repo:     repo,
		uploader: uploader,
		remote:   api,
		config:   cfg,
		now:      o.Now,
		sync:     o.Sync,
	}
}

// Config returns the configuration provider.
func (m *Manager) Config() config.Provider { return m.config }

// InsertParticipantDraft commits a registration or update draft. A new registration without
// a participant id gets a generated one; a phone attribute is normalized first.
func (m *Manager) InsertParticipantDraft(ctx context.Context, d models.DraftParticipant, overwrite bool) (models.DraftParticipant, error) {
	if d.UUID == "" && !d.IsUpdate {
		d.UUID = util.NewUUID()
	}
	if d.ParticipantID == "" && !d.IsUpdate {
		d.ParticipantID = util.GenerateParticipantID(ParticipantIDPrefix)
	}
	if phone := d.Phone(); phone != "" {
		normalized, err := validation.ValidatePhone(phone)
		if err != nil {
			return d, fmt.Errorf("%w: %v", models.ErrInvalidDraft, err)
		}
		attrs := make(map[string]string, len(d.Attributes))
		for k, v := range d.Attributes {
			attrs[k] = v
		}
		attrs[models.AttrPhone] = normalized
		d.Attributes = attrs
	}
	if d.RegistrationDate.IsZero() {
		d.RegistrationDate = m.now()
	}

	if err := m.drafts.InsertParticipant(ctx, d, overwrite); err != nil {
		slog.Error("Manager.InsertParticipantDraft: insert failed", "uuid", d.UUID, "error", err)
		return d, err
	}
	slog.Info("Manager.InsertParticipantDraft: draft committed", "uuid", d.UUID, "isUpdate", d.IsUpdate, "overwrite", overwrite)
	m.triggerSync()
	return d, nil
}

// InsertVisitDraft commits a visit draft after normalizing its barcodes.
func (m *Manager) InsertVisitDraft(ctx context.Context, d models.DraftVisit, overwrite bool) (models.DraftVisit, error) {
	if d.UUID == "" && d.IsNew {
		d.UUID = util.NewUUID()
	}
	if len(d.Observations) > 0 {
		obs := make(models.Observations, len(d.Observations))
		for concept, o := range d.Observations {
			if o.BarcodeID != "" {
				code, err := validation.ValidateBarcode(o.BarcodeID)
				if err != nil {
					return d, fmt.Errorf("%w: %s: %v", models.ErrInvalidDraft, concept, err)
				}
				o.BarcodeID = code
			}
			obs[concept] = o
		}
		d.Observations = obs
	}

	if err := m.drafts.InsertVisit(ctx, d, overwrite); err != nil {
		slog.Error("Manager.InsertVisitDraft: insert failed", "uuid", d.UUID, "participantUUID", d.ParticipantUUID, "error", err)
		return d, err
	}
	slog.Info("Manager.InsertVisitDraft: draft committed", "uuid", d.UUID, "participantUUID", d.ParticipantUUID, "isNew", d.IsNew)
	m.triggerSync()
	return d, nil
}

func (m *Manager) triggerSync() {
	if m.sync != nil {
		m.sync.Trigger()
	}
}

// UploadParticipant uploads one participant draft now and refreshes the synced cache on
// success.
func (m *Manager) UploadParticipant(ctx context.Context, uuid string) error {
	if err := m.uploader.UploadParticipant(ctx, uuid); err != nil {
		return err
	}
	d, err := m.repo.GetParticipantDraft(ctx, uuid)
	if err != nil || d == nil {
		return err
	}
	p := models.Participant{ParticipantBase: d.ParticipantBase}
	if cached, err := m.repo.GetParticipant(ctx, uuid); err == nil && cached != nil {
		p.Visits = cached.Visits
	}
	if err := m.repo.SaveParticipant(ctx, p); err != nil {
		slog.Warn("Manager.UploadParticipant: cache refresh failed", "uuid", uuid, "error", err)
	}
	return nil
}

// UploadVisit uploads one visit draft now and folds it into the cached participant.
func (m *Manager) UploadVisit(ctx context.Context, uuid string) error {
	if err := m.uploader.UploadVisit(ctx, uuid); err != nil {
		return err
	}
	d, err := m.repo.GetVisitDraft(ctx, uuid)
	if err != nil || d == nil {
		return err
	}
	cached, err := m.repo.GetParticipant(ctx, d.ParticipantUUID)
	if err != nil || cached == nil {
		return err
	}
	cached.Visits = shadow(cached.Visits, []models.DraftVisit{*d})
	if err := m.repo.SaveParticipant(ctx, *cached); err != nil {
		slog.Warn("Manager.UploadVisit: cache refresh failed", "uuid", uuid, "error", err)
	}
	return nil
}

// FindParticipant resolves a participant draft-first, then from the synced cache, then from
// the remote. A remote deleted marker evicts the cache and returns ErrParticipantDeleted.
func (m *Manager) FindParticipant(ctx context.Context, uuid string) (models.ParticipantRecord, error) {
	d, err := m.repo.GetParticipantDraft(ctx, uuid)
	if err != nil {
		return models.ParticipantRecord{}, err
	}
	if d != nil && d.State == models.DraftStatePendingUpload {
		slog.Debug("Manager.FindParticipant: pending draft", "uuid", uuid)
		return models.FromDraft(*d), nil
	}

	cached, err := m.repo.GetParticipant(ctx, uuid)
	if err != nil {
		return models.ParticipantRecord{}, err
	}
	if cached != nil {
		slog.Debug("Manager.FindParticipant: synced cache", "uuid", uuid)
		return models.FromSynced(*cached), nil
	}

	results, err := m.remote.GetParticipantsByUUIDs(ctx, []string{uuid})
	if err != nil {
		if d != nil && models.IsTransient(err) {
			slog.Warn("Manager.FindParticipant: remote unavailable, using uploaded draft", "uuid", uuid, "error", err)
			return models.FromDraft(*d), nil
		}
		return models.ParticipantRecord{}, err
	}
	for _, r := range results {
		if r.UUID != uuid {
			continue
		}
		if r.Deleted {
			if err := m.repo.DeleteParticipant(ctx, uuid); err != nil {
				slog.Warn("Manager.FindParticipant: cache eviction failed", "uuid", uuid, "error", err)
			}
			return models.ParticipantRecord{}, fmt.Errorf("participant %s: %w", uuid, models.ErrParticipantDeleted)
		}
		if r.Participant == nil {
			break
		}
		if err := m.repo.SaveParticipant(ctx, *r.Participant); err != nil {
			slog.Warn("Manager.FindParticipant: cache write failed", "uuid", uuid, "error", err)
		}
		slog.Debug("Manager.FindParticipant: remote", "uuid", uuid)
		return models.FromSynced(*r.Participant), nil
	}
	if d != nil {
		return models.FromDraft(*d), nil
	}
	return models.ParticipantRecord{}, fmt.Errorf("participant %s: %w", uuid, models.ErrNotFound)
}

// VisitsFor returns the participant's visits in chronological order. Pending visit drafts
// shadow the synced visit with the same uuid; uploaded drafts only fill gaps the cache has
// not caught up with yet.
func (m *Manager) VisitsFor(ctx context.Context, participantUUID string) ([]models.VisitDetail, error) {
	rec, err := m.FindParticipant(ctx, participantUUID)
	if err != nil {
		return nil, err
	}
	return m.visitsFor(ctx, rec)
}

func (m *Manager) visitsFor(ctx context.Context, rec models.ParticipantRecord) ([]models.VisitDetail, error) {
	drafts, err := m.repo.ListVisitDrafts(ctx, store.DraftFilter{ParticipantUUID: rec.Base().UUID})
	if err != nil {
		return nil, fmt.Errorf("list visit drafts: %w", err)
	}
	return visit.Chronological(shadow(rec.Visits(), drafts)), nil
}

func shadow(synced []models.VisitDetail, drafts []models.DraftVisit) []models.VisitDetail {
	out := make([]models.VisitDetail, 0, len(synced)+len(drafts))
	index := make(map[string]int, len(synced))
	for _, v := range synced {
		index[v.UUID] = len(out)
		out = append(out, v)
	}
	for _, d := range drafts {
		i, ok := index[d.UUID]
		switch {
		case !ok:
			index[d.UUID] = len(out)
			out = append(out, d.VisitDetail)
		case d.State == models.DraftStatePendingUpload:
			out[i] = d.VisitDetail
		}
	}
	return out
}

type subject struct {
	base   models.ParticipantBase
	visits []models.VisitDetail
	sched  *dosing.Scheduler
}

func (m *Manager) load(ctx context.Context, participantUUID string) (subject, error) {
	rec, err := m.FindParticipant(ctx, participantUUID)
	if err != nil {
		return subject{}, err
	}
	visits, err := m.visitsFor(ctx, rec)
	if err != nil {
		return subject{}, err
	}
	catalog, err := m.config.Catalog(ctx)
	if err != nil {
		return subject{}, err
	}
	return subject{base: rec.Base(), visits: visits, sched: dosing.NewScheduler(catalog)}, nil
}

// ComputeDueSubstances returns the substances due for the participant now.
func (m *Manager) ComputeDueSubstances(ctx context.Context, participantUUID string) ([]models.SubstanceConfig, error) {
	s, err := m.load(ctx, participantUUID)
	if err != nil {
		return nil, err
	}
	return s.sched.DueSubstances(s.base.BirthDate, m.now(), s.visits), nil
}

// OpenVisit is the open dosing visit together with the window check for now.
type OpenVisit struct {
	Visit    models.VisitDetail `json:"visit"`
	InWindow bool               `json:"in_window"`
}

// ComputeOpenDosingVisit returns the open dosing visit, or nil when there is none.
func (m *Manager) ComputeOpenDosingVisit(ctx context.Context, participantUUID string) (*OpenVisit, error) {
	s, err := m.load(ctx, participantUUID)
	if err != nil {
		return nil, err
	}
	v, ok := visit.OpenDosingVisit(s.visits)
	if !ok {
		return nil, nil
	}
	return &OpenVisit{Visit: v, InWindow: visit.InDosingWindow(v, m.now())}, nil
}

// ComputeNextVisitDate returns the next dosing visit date after administered was given.
func (m *Manager) ComputeNextVisitDate(ctx context.Context, participantUUID string, administered []string, override *time.Time) (time.Time, error) {
	s, err := m.load(ctx, participantUUID)
	if err != nil {
		return time.Time{}, err
	}
	return visit.NextVisitDate(s.sched.Catalog(), s.base.BirthDate, administered, m.now(), override)
}

// FinalizeRequest records a dosing visit.
type FinalizeRequest struct {
	ParticipantUUID string              `json:"participant_uuid"`
	Observations    models.Observations `json:"observations"`
	// OverrideDate is the operator-confirmed date of the next visit.
	OverrideDate           *time.Time `json:"override_date,omitempty"`
	ConfirmedOutsideWindow bool       `json:"confirmed_outside_window"`
	// EndOfSchedule finalizes without scheduling another dosing visit.
	EndOfSchedule bool `json:"end_of_schedule"`
}

// FinalizeResult is either a list of events to resolve, or the drafts written.
type FinalizeResult struct {
	Events    []visit.Event      `json:"events,omitempty"`
	Visit     *models.DraftVisit `json:"visit,omitempty"`
	NextVisit *models.DraftVisit `json:"next_visit,omitempty"`
}

// FinalizeDosingVisit records the administered substances on the open dosing visit, or on a
// new one when none is open, and schedules the next dosing visit.
//
// Nothing is written while events are outstanding. Without an automatic next date and
// without an override, ErrOverrideDateRequired is returned unless EndOfSchedule is set.
func (m *Manager) FinalizeDosingVisit(ctx context.Context, req FinalizeRequest) (FinalizeResult, error) {
	if len(req.Observations.Concepts()) == 0 {
		return FinalizeResult{}, fmt.Errorf("%w: no substances administered", models.ErrInvalidDraft)
	}
	s, err := m.load(ctx, req.ParticipantUUID)
	if err != nil {
		return FinalizeResult{}, err
	}
	now := m.now()
	administered := req.Observations.Concepts()

	open, found := visit.OpenDosingVisit(s.visits)
	if !found {
		today := models.DateOnly(now)
		open = models.VisitDetail{
			UUID:      util.NewUUID(),
			Type:      models.VisitTypeDosing,
			Status:    models.VisitStatusScheduled,
			StartDate: today,
			EndDate:   today,
		}
	}

	events := visit.CheckDosingVisit(visit.CheckInput{
		Visit:                  open,
		Now:                    now,
		Due:                    s.sched.DueSubstances(s.base.BirthDate, now, s.visits),
		Administered:           administered,
		OverrideDate:           req.OverrideDate,
		ConfirmedOutsideWindow: req.ConfirmedOutsideWindow,
	})
	if len(events) > 0 {
		slog.Info("Manager.FinalizeDosingVisit: confirmation required", "participantUUID", req.ParticipantUUID, "events", len(events))
		return FinalizeResult{Events: events}, nil
	}

	var next time.Time
	if !req.EndOfSchedule {
		next, err = visit.NextVisitDate(s.sched.Catalog(), s.base.BirthDate, administered, now, req.OverrideDate)
		if err != nil {
			return FinalizeResult{}, err
		}
	}

	recorded, err := visit.ApplyStatus(open, models.VisitStatusOccurred)
	if err != nil {
		return FinalizeResult{}, err
	}
	recorded.Observations = req.Observations
	if recorded.DoseNumber == 0 {
		recorded.DoseNumber = visit.NextDoseNumber(s.visits)
	}
	isNew := !found
	if found {
		existing, err := m.repo.GetVisitDraft(ctx, open.UUID)
		if err != nil {
			return FinalizeResult{}, err
		}
		// A scheduled visit that never left the device is still a creation.
		isNew = existing != nil && existing.IsNew && existing.State == models.DraftStatePendingUpload
	}
	vd, err := m.InsertVisitDraft(ctx, models.DraftVisit{
		VisitDetail:     recorded,
		ParticipantUUID: req.ParticipantUUID,
		IsNew:           isNew,
	}, true)
	if err != nil {
		return FinalizeResult{}, err
	}
	result := FinalizeResult{Visit: &vd}

	if req.EndOfSchedule {
		slog.Info("Manager.FinalizeDosingVisit: schedule complete", "participantUUID", req.ParticipantUUID, "visitUUID", vd.UUID)
		return result, nil
	}
	nd, err := m.InsertVisitDraft(ctx, models.DraftVisit{
		VisitDetail: models.VisitDetail{
			UUID:       util.NewUUID(),
			Type:       models.VisitTypeDosing,
			Status:     models.VisitStatusScheduled,
			DoseNumber: recorded.DoseNumber + 1,
			StartDate:  next,
			EndDate:    next,
		},
		ParticipantUUID: req.ParticipantUUID,
		IsNew:           true,
	}, false)
	if err != nil {
		return result, fmt.Errorf("schedule next visit: %w", err)
	}
	result.NextVisit = &nd
	slog.Info("Manager.FinalizeDosingVisit: visit recorded", "participantUUID", req.ParticipantUUID, "visitUUID", vd.UUID, "nextVisit", next)
	return result, nil
}

// IsNotFound reports whether err means the participant does not exist anywhere.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

// ParticipantDrafts lists participant drafts.
func (m *Manager) ParticipantDrafts(ctx context.Context, f store.DraftFilter) ([]models.DraftParticipant, error) {
	return m.repo.ListParticipantDrafts(ctx, f)
}

// VisitDrafts lists visit drafts.
func (m *Manager) VisitDrafts(ctx context.Context, f store.DraftFilter) ([]models.DraftVisit, error) {
	return m.repo.ListVisitDrafts(ctx, f)
}

// Substances lists the catalog for manual entry, narrowed to a visit type when one is given.
// No age window applies.
func (m *Manager) Substances(ctx context.Context, visitType models.VisitType) ([]models.SubstanceConfig, error) {
	catalog, err := m.config.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	sched := dosing.NewScheduler(catalog)
	if visitType == "" {
		return sched.AllSubstances(), nil
	}
	return sched.SubstancesForVisitType(visitType), nil
}
