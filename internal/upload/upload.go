// Package upload converts pending drafts into remote requests and submits them.
//
// A draft is uploaded with exactly one remote write per call. The draft only moves to
// UPLOADED after the remote acknowledged it, or answered that the same request id was
// already applied. Scheduling and retries belong to the sync loop.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/files"
	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/remote"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
)

// Outcome labels the result of one upload attempt.
type Outcome string

const (
	OutcomeUploaded     Outcome = "uploaded"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeConflict     Outcome = "conflict"
	OutcomeTransient    Outcome = "transient"
	OutcomePrecondition Outcome = "precondition"
	OutcomeError        Outcome = "error"
)

// Classify maps an upload error onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeUploaded
	case models.IsPrecondition(err):
		return OutcomePrecondition
	case models.IsConflict(err):
		return OutcomeConflict
	case models.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTransient
	default:
		return OutcomeError
	}
}

// IdentityProvider supplies the configured site and operator.
type IdentityProvider interface {
	Identity() (models.Identity, error)
}

// Pipeline uploads drafts one at a time.
type Pipeline struct {
	drafts   store.DraftRepo
	files    files.Store
	remote   remote.API
	identity IdentityProvider
	metrics  *metrics.Metrics
}

// NewPipeline creates a Pipeline.
func NewPipeline(drafts store.DraftRepo, fs files.Store, api remote.API, identity IdentityProvider, m *metrics.Metrics) *Pipeline {
	return &Pipeline{drafts: drafts, files: fs, remote: api, identity: identity, metrics: m}
}

// UploadParticipant submits the pending participant draft with the given uuid.
//
// A draft that is not PENDING_UPLOAD fails with ErrAlreadyUploaded before any remote call.
// A first-time registration rejected as already existing is returned as ErrParticipantExists
// for the operator to resolve. When the draft was overwritten while the request was in
// flight, the newer revision stays pending and a transient error is returned.
func (p *Pipeline) UploadParticipant(ctx context.Context, uuid string) (err error) {
	var duplicate bool
	defer func() { p.record(models.DraftKindParticipant, err, duplicate) }()

	d, err := p.drafts.GetParticipantDraft(ctx, uuid)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("participant draft %s: %w", uuid, models.ErrNotFound)
	}
	if d.State != models.DraftStatePendingUpload {
		return fmt.Errorf("%w: participant %s is %s", models.ErrAlreadyUploaded, uuid, d.State)
	}
	id, err := p.resolveIdentity()
	if err != nil {
		return err
	}
	req, err := p.participantRequest(ctx, *d, id)
	if err != nil {
		// An overwrite may have replaced the assets this revision referenced.
		if cur, curErr := p.drafts.GetParticipantDraft(ctx, uuid); curErr == nil && cur != nil && cur.Revision != d.Revision {
			return fmt.Errorf("%w: participant %s changed while reading its assets: %w", models.ErrTransient, uuid, store.ErrRevisionChanged)
		}
		return err
	}

	if d.IsUpdate {
		err = p.remote.UpdateParticipant(ctx, req)
	} else {
		_, err = p.remote.RegisterParticipant(ctx, req)
	}
	if err != nil {
		if !remote.IsDuplicate(err) {
			slog.Warn("Pipeline.UploadParticipant: remote rejected draft", "participantUUID", uuid, "isUpdate", d.IsUpdate, "error", err)
			return fmt.Errorf("upload participant %s: %w", uuid, err)
		}
		duplicate = true
		slog.Info("Pipeline.UploadParticipant: request already applied remotely", "participantUUID", uuid)
	}

	if err := p.drafts.MarkParticipantDraftUploaded(ctx, uuid, d.Revision); err != nil {
		if errors.Is(err, store.ErrRevisionChanged) {
			return fmt.Errorf("%w: %w", models.ErrTransient, err)
		}
		return fmt.Errorf("mark participant %s uploaded: %w", uuid, err)
	}
	slog.Info("Pipeline.UploadParticipant: draft uploaded", "participantUUID", uuid, "isUpdate", d.IsUpdate)
	return nil
}

// UploadVisit submits the pending visit draft with the given uuid. A visit whose
// participant still has a pending registration is held back as transient.
func (p *Pipeline) UploadVisit(ctx context.Context, uuid string) (err error) {
	var duplicate bool
	defer func() { p.record(models.DraftKindVisit, err, duplicate) }()

	d, err := p.drafts.GetVisitDraft(ctx, uuid)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("visit draft %s: %w", uuid, models.ErrNotFound)
	}
	if d.State != models.DraftStatePendingUpload {
		return fmt.Errorf("%w: visit %s is %s", models.ErrAlreadyUploaded, uuid, d.State)
	}
	id, err := p.resolveIdentity()
	if err != nil {
		return err
	}
	owner, err := p.drafts.GetParticipantDraft(ctx, d.ParticipantUUID)
	if err != nil {
		return err
	}
	if owner != nil && owner.State == models.DraftStatePendingUpload {
		return fmt.Errorf("%w: participant %s of visit %s is not uploaded yet", models.ErrTransient, d.ParticipantUUID, uuid)
	}

	req := visitRequest(*d, id)
	if d.IsNew {
		_, err = p.remote.CreateVisit(ctx, req)
	} else {
		err = p.remote.UpdateVisit(ctx, req)
	}
	if err != nil {
		if !remote.IsDuplicate(err) {
			slog.Warn("Pipeline.UploadVisit: remote rejected draft", "visitUUID", uuid, "isNew", d.IsNew, "error", err)
			return fmt.Errorf("upload visit %s: %w", uuid, err)
		}
		duplicate = true
		slog.Info("Pipeline.UploadVisit: request already applied remotely", "visitUUID", uuid)
	}

	if err := p.drafts.MarkVisitDraftUploaded(ctx, uuid, d.Revision); err != nil {
		if errors.Is(err, store.ErrRevisionChanged) {
			return fmt.Errorf("%w: %w", models.ErrTransient, err)
		}
		return fmt.Errorf("mark visit %s uploaded: %w", uuid, err)
	}
	slog.Info("Pipeline.UploadVisit: draft uploaded", "visitUUID", uuid, "participantUUID", d.ParticipantUUID)
	return nil
}

func (p *Pipeline) resolveIdentity() (models.Identity, error) {
	if p.identity == nil {
		return models.Identity{}, models.ErrMissingIdentity
	}
	id, err := p.identity.Identity()
	if err != nil {
		return models.Identity{}, err
	}
	if err := id.Validate(); err != nil {
		return models.Identity{}, err
	}
	return id, nil
}

func (p *Pipeline) record(kind models.DraftKind, err error, duplicate bool) {
	outcome := Classify(err)
	if err == nil && duplicate {
		outcome = OutcomeDuplicate
	}
	p.metrics.IncrementUploadOutcome(string(kind), string(outcome))
}

// participantRequest builds the wire request, embedding assets base64-encoded.
func (p *Pipeline) participantRequest(ctx context.Context, d models.DraftParticipant, id models.Identity) (remote.ParticipantRequest, error) {
	req := remote.ParticipantRequest{
		RequestID:        requestID(d.UUID, d.IsUpdate, d.Revision),
		ParticipantUUID:  d.UUID,
		ParticipantID:    d.ParticipantID,
		Gender:           d.Gender,
		BirthDate:        d.BirthDate.Format(time.DateOnly),
		RegistrationDate: d.RegistrationDate,
		Attributes:       remote.AttributesFrom(d.Attributes),
		Address:          d.Address,
		SiteUUID:         id.SiteUUID,
		OperatorUUID:     id.OperatorUUID,
	}
	for kind, key := range d.AssetKeys {
		if p.files == nil {
			return req, fmt.Errorf("draft %s references assets but no file store is configured", d.UUID)
		}
		data, err := p.files.ReadFile(ctx, key)
		if err != nil {
			return req, fmt.Errorf("read %s asset of %s: %w", kind, d.UUID, err)
		}
		if data == nil {
			return req, fmt.Errorf("%w: %s asset %s of %s is missing", models.ErrInvalidDraft, kind, key, d.UUID)
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		switch kind {
		case models.AssetPhoto:
			req.Image = encoded
		case models.AssetBiometricTemplate:
			req.BiometricsTemplate = encoded
		}
	}
	return req, nil
}

func visitRequest(d models.DraftVisit, id models.Identity) remote.VisitRequest {
	return remote.VisitRequest{
		RequestID:       requestID(d.UUID, !d.IsNew, d.Revision),
		VisitUUID:       d.UUID,
		ParticipantUUID: d.ParticipantUUID,
		VisitType:       string(d.Type),
		VisitStatus:     string(d.Status),
		DoseNumber:      d.DoseNumber,
		StartDatetime:   d.StartDate,
		EndDatetime:     d.EndDate,
		Observations:    models.EncodeObservations(d.Observations),
		SiteUUID:        id.SiteUUID,
		OperatorUUID:    id.OperatorUUID,
	}
}

// requestID is stable for one draft revision. Creations are keyed by uuid alone; updates
// also carry the revision so a later update of the same entity is not taken for a replay
// of an earlier one.
func requestID(uuid string, isUpdate bool, revision int64) string {
	if !isUpdate {
		return uuid
	}
	return uuid + ":r" + strconv.FormatInt(revision, 10)
}
