// Package syncer is the background loop that uploads pending drafts.
//
// Each pass lists pending drafts, uploads participants first and then the visits whose
// participant is no longer pending. Conflicts park a draft until the operator overwrites
// it; transient failures only bump its attempt counter and are retried on the next pass.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ConnectForLife/vxnaid-sub000/internal/connectivity"
	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
)

// DefaultConcurrency bounds concurrent uploads within a pass.
const DefaultConcurrency = 4

// Uploader uploads a single draft.
type Uploader interface {
	UploadParticipant(ctx context.Context, uuid string) error
	UploadVisit(ctx context.Context, uuid string) error
}

// Connectivity reports backend reachability.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan connectivity.Status, func())
}

// Report summarizes one pass.
type Report struct {
	Skipped     bool `json:"skipped"`
	Uploaded    int  `json:"uploaded"`
	Transient   int  `json:"transient"`
	Blocked     int  `json:"blocked"`
	HeldBack    int  `json:"held_back"`
	Unprocessed int  `json:"unprocessed"`
}

// Loop drives uploads of pending drafts.
type Loop struct {
	drafts      store.DraftRepo
	uploader    Uploader
	conn        Connectivity
	concurrency int
	metrics     *metrics.Metrics

	passMu  sync.Mutex
	trigger chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithConcurrency bounds concurrent uploads within a pass.
func WithConcurrency(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithConnectivity skips passes while offline and runs a pass when the backend comes back.
func WithConnectivity(c Connectivity) Option {
	return func(l *Loop) { l.conn = c }
}

// WithMetrics records pass durations and pending gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop creates a Loop.
func NewLoop(drafts store.DraftRepo, uploader Uploader, opts ...Option) *Loop {
	l := &Loop{
		drafts:      drafts,
		uploader:    uploader,
		concurrency: DefaultConcurrency,
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Trigger requests a pass. Requests made while one is already queued coalesce.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run performs passes on Trigger and on connectivity recovery until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("Loop.Run: starting sync loop", "concurrency", l.concurrency)

	var online <-chan connectivity.Status
	if l.conn != nil {
		ch, unsubscribe := l.conn.Subscribe()
		defer unsubscribe()
		online = ch
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Loop.Run: stopping")
			return
		case s, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			if !s.Online {
				continue
			}
			slog.Debug("Loop.Run: backend reachable again, syncing")
		case <-l.trigger:
		}
		if _, err := l.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Loop.Run: sync pass failed", "error", err)
		}
	}
}

type tally struct {
	mu sync.Mutex
	r  Report
}

func (t *tally) add(fn func(r *Report)) {
	t.mu.Lock()
	fn(&t.r)
	t.mu.Unlock()
}

// RunOnce performs a single pass. Passes never overlap.
func (l *Loop) RunOnce(ctx context.Context) (Report, error) {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	if l.conn != nil && !l.conn.Online() {
		slog.Debug("Loop.RunOnce: offline, skipping pass")
		return Report{Skipped: true}, nil
	}

	start := time.Now()
	defer func() { l.metrics.ObserveSyncPass(time.Since(start)) }()

	var t tally
	participants, err := l.drafts.ListParticipantDrafts(ctx, store.DraftFilter{State: models.DraftStatePendingUpload, ExcludeBlocked: true})
	if err != nil {
		return Report{}, fmt.Errorf("list pending participants: %w", err)
	}
	uuids := make([]string, len(participants))
	for i, d := range participants {
		uuids[i] = d.UUID
	}
	if err := l.uploadAll(ctx, &t, models.DraftKindParticipant, uuids, l.uploader.UploadParticipant); err != nil {
		return t.r, err
	}

	visits, err := l.drafts.ListVisitDrafts(ctx, store.DraftFilter{State: models.DraftStatePendingUpload, ExcludeBlocked: true})
	if err != nil {
		return t.r, fmt.Errorf("list pending visits: %w", err)
	}
	pendingOwners, err := l.pendingParticipants(ctx)
	if err != nil {
		return t.r, err
	}
	uuids = uuids[:0]
	for _, v := range visits {
		if pendingOwners[v.ParticipantUUID] {
			t.r.HeldBack++
			continue
		}
		uuids = append(uuids, v.UUID)
	}
	if err := l.uploadAll(ctx, &t, models.DraftKindVisit, uuids, l.uploader.UploadVisit); err != nil {
		return t.r, err
	}

	if p, v, err := l.drafts.CountPending(ctx); err == nil {
		l.metrics.SetPending(p, v)
	} else {
		slog.Warn("Loop.RunOnce: count pending failed", "error", err)
	}
	slog.Info("Loop.RunOnce: pass complete", "uploaded", t.r.Uploaded, "transient", t.r.Transient,
		"blocked", t.r.Blocked, "heldBack", t.r.HeldBack, "duration", time.Since(start))
	return t.r, nil
}

func (l *Loop) pendingParticipants(ctx context.Context) (map[string]bool, error) {
	pending, err := l.drafts.ListParticipantDrafts(ctx, store.DraftFilter{State: models.DraftStatePendingUpload})
	if err != nil {
		return nil, fmt.Errorf("list pending participants: %w", err)
	}
	out := make(map[string]bool, len(pending))
	for _, d := range pending {
		out[d.UUID] = true
	}
	return out, nil
}

// uploadAll uploads uuids with bounded concurrency. Only a missing identity aborts the pass;
// every other failure is recorded on its draft.
func (l *Loop) uploadAll(ctx context.Context, t *tally, kind models.DraftKind, uuids []string, upload func(context.Context, string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, id := range uuids {
		g.Go(func() error {
			if gctx.Err() != nil {
				t.add(func(r *Report) { r.Unprocessed++ })
				return nil
			}
			err := upload(gctx, id)
			if errors.Is(err, models.ErrMissingIdentity) {
				return err
			}
			l.handle(gctx, t, kind, id, err)
			return nil
		})
	}
	return g.Wait()
}

func (l *Loop) handle(ctx context.Context, t *tally, kind models.DraftKind, uuid string, err error) {
	switch {
	case err == nil:
		t.add(func(r *Report) { r.Uploaded++ })
		return
	case errors.Is(err, models.ErrAlreadyUploaded), errors.Is(err, models.ErrNotFound):
		// Uploaded or removed by a concurrent caller since the listing.
		slog.Debug("Loop.handle: draft no longer pending", "kind", kind, "uuid", uuid)
		return
	}

	blocked := models.IsConflict(err) || errors.Is(err, models.ErrInvalidDraft)
	if blocked {
		t.add(func(r *Report) { r.Blocked++ })
		slog.Warn("Loop.handle: draft needs an operator decision", "kind", kind, "uuid", uuid, "error", err)
	} else {
		t.add(func(r *Report) { r.Transient++ })
		slog.Debug("Loop.handle: upload deferred", "kind", kind, "uuid", uuid, "error", err)
	}
	if recErr := l.drafts.RecordUploadFailure(context.WithoutCancel(ctx), kind, uuid, err.Error(), blocked); recErr != nil {
		slog.Error("Loop.handle: failed to record upload failure", "kind", kind, "uuid", uuid, "error", recErr)
	}
}
