package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ConnectForLife/vxnaid-sub000/internal/files"
	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// DraftStore commits drafts together with their binary assets.
//
// Assets are written to the content store before the row referencing them is committed.
// If the commit fails the just-written assets are deleted again; the row's absence is
// authoritative, so a failed deletion is only logged. A replacement asset goes to a new
// content-derived key and the one it replaces is deleted only after the commit.
type DraftStore struct {
	repo    DraftRepo
	files   files.Store
	metrics *metrics.Metrics
}

// NewDraftStore creates a DraftStore over repo and the asset store fs.
func NewDraftStore(repo DraftRepo, fs files.Store, m *metrics.Metrics) *DraftStore {
	return &DraftStore{repo: repo, files: fs, metrics: m}
}

// Repo returns the underlying draft repository.
func (s *DraftStore) Repo() DraftRepo {
	return s.repo
}

// InsertParticipant persists a participant draft and its assets.
func (s *DraftStore) InsertParticipant(ctx context.Context, d models.DraftParticipant, overwrite bool) error {
	if err := d.Validate(); err != nil {
		return err
	}
	existing, err := s.repo.GetParticipantDraft(ctx, d.UUID)
	if err != nil {
		return err
	}
	var prior map[models.AssetKind]string
	// Asset keys are assigned here only.
	d.AssetKeys = nil
	if existing != nil {
		// Checked again inside the commit; this only avoids writing assets that would be rejected.
		uploaded := existing.State == models.DraftStateUploaded
		if uploaded && !d.IsUpdate {
			return fmt.Errorf("%w: %s", models.ErrAlreadyUploaded, d.UUID)
		}
		if !uploaded && !overwrite {
			return fmt.Errorf("%w: %s", models.ErrDraftExists, d.UUID)
		}
		prior = existing.AssetKeys
		d.AssetKeys = mergeKeys(prior, nil)
	}

	written, superseded, err := s.writeAssets(ctx, &d, prior)
	if err != nil {
		s.compensate(ctx, d.UUID, written)
		s.metrics.IncrementDraftWrite(string(models.DraftKindParticipant), err)
		return err
	}

	err = s.repo.SaveParticipantDraft(ctx, d, overwrite)
	s.metrics.IncrementDraftWrite(string(models.DraftKindParticipant), err)
	if err != nil {
		s.compensate(ctx, d.UUID, written)
		return err
	}
	s.release(ctx, d.UUID, superseded)
	slog.Info("DraftStore.InsertParticipant: draft committed", "participantUUID", d.UUID, "isUpdate", d.IsUpdate, "assets", len(d.Assets))
	return nil
}

// InsertVisit persists a visit draft.
func (s *DraftStore) InsertVisit(ctx context.Context, d models.DraftVisit, overwrite bool) error {
	err := s.repo.SaveVisitDraft(ctx, d, overwrite)
	s.metrics.IncrementDraftWrite(string(models.DraftKindVisit), err)
	if err != nil {
		return err
	}
	slog.Info("DraftStore.InsertVisit: draft committed", "visitUUID", d.UUID, "participantUUID", d.ParticipantUUID, "isNew", d.IsNew)
	return nil
}

// writeAssets stores every in-memory asset and records its key on the draft. It returns the
// keys written that no committed row referenced before, also on error, and the prior keys
// the draft no longer references.
func (s *DraftStore) writeAssets(ctx context.Context, d *models.DraftParticipant, prior map[models.AssetKind]string) (written, superseded []string, err error) {
	if len(d.Assets) == 0 {
		return nil, nil, nil
	}
	if s.files == nil {
		return nil, nil, fmt.Errorf("draft %s carries assets but no file store is configured", d.UUID)
	}
	if d.AssetKeys == nil {
		d.AssetKeys = make(map[models.AssetKind]string, len(d.Assets))
	}
	for _, a := range d.Assets {
		key := files.AssetKey(d.UUID, a.Kind)
		old := prior[a.Kind]
		if old != "" {
			key = files.RevisionAssetKey(d.UUID, a.Kind, a.Bytes)
			if key == old {
				d.AssetKeys[a.Kind] = key
				continue
			}
		}
		if err := s.files.WriteFile(ctx, key, a.Bytes, true); err != nil {
			slog.Error("DraftStore.writeAssets: asset write failed", "participantUUID", d.UUID, "kind", a.Kind, "error", err)
			return written, nil, fmt.Errorf("write %s asset for %s: %w", a.Kind, d.UUID, err)
		}
		written = append(written, key)
		if old != "" {
			superseded = append(superseded, old)
		}
		d.AssetKeys[a.Kind] = key
	}
	return written, superseded, nil
}

// compensate deletes assets written for a commit that did not happen.
func (s *DraftStore) compensate(ctx context.Context, uuid string, keys []string) {
	// The caller's context may already be cancelled; the cleanup must still run.
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		err := s.files.DeleteFile(ctx, key)
		s.metrics.IncrementAssetCompensation(err)
		if err != nil {
			slog.Warn("DraftStore.compensate: failed to delete orphaned asset", "participantUUID", uuid, "key", key, "error", err)
			continue
		}
		slog.Warn("DraftStore.compensate: deleted asset after failed commit", "participantUUID", uuid, "key", key)
	}
}

// release deletes assets replaced by a committed revision.
func (s *DraftStore) release(ctx context.Context, uuid string, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.files.DeleteFile(ctx, key); err != nil {
			slog.Warn("DraftStore.release: failed to delete replaced asset", "participantUUID", uuid, "key", key, "error", err)
			continue
		}
		slog.Debug("DraftStore.release: deleted replaced asset", "participantUUID", uuid, "key", key)
	}
}

func mergeKeys(old, updated map[models.AssetKind]string) map[models.AssetKind]string {
	if len(old) == 0 {
		return updated
	}
	out := make(map[models.AssetKind]string, len(old)+len(updated))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range updated {
		out[k] = v
	}
	return out
}
