package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
)

// AssetCheck verifies that every pending participant draft can still read the assets it
// references. A draft whose asset is missing or corrupt can never upload, so it is parked
// as blocked until the operator captures the asset again and overwrites the draft.
type AssetCheck struct{}

func (AssetCheck) RecoverState(ctx context.Context, r *RecoveryRegistry) error {
	pending, err := r.Drafts().ListParticipantDrafts(ctx, store.DraftFilter{
		State:          models.DraftStatePendingUpload,
		ExcludeBlocked: true,
	})
	if err != nil {
		return fmt.Errorf("list pending participant drafts: %w", err)
	}

	parked := 0
	for _, d := range pending {
		reason := ""
		for kind, key := range d.AssetKeys {
			data, err := r.Files().ReadFile(ctx, key)
			switch {
			case err != nil:
				reason = fmt.Sprintf("%s asset unreadable: %v", kind, err)
			case data == nil:
				reason = fmt.Sprintf("%s asset missing", kind)
			}
			if reason != "" {
				break
			}
		}
		if reason == "" {
			continue
		}
		slog.Warn("AssetCheck.RecoverState: parking draft", "participantUUID", d.UUID, "reason", reason)
		if err := r.Drafts().RecordUploadFailure(ctx, models.DraftKindParticipant, d.UUID, reason, true); err != nil {
			return fmt.Errorf("park draft %s: %w", d.UUID, err)
		}
		parked++
	}
	slog.Info("AssetCheck.RecoverState: assets verified", "drafts", len(pending), "parked", parked)
	return nil
}

// PendingGauge publishes the pending draft counts left over from the previous run.
type PendingGauge struct{}

func (PendingGauge) RecoverState(ctx context.Context, r *RecoveryRegistry) error {
	participants, visits, err := r.Drafts().CountPending(ctx)
	if err != nil {
		return fmt.Errorf("count pending drafts: %w", err)
	}
	r.Metrics().SetPending(participants, visits)
	slog.Info("PendingGauge.RecoverState: pending drafts", "participants", participants, "visits", visits)
	return nil
}
