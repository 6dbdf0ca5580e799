// Package store provides the transactional local draft store.
//
// Every locally originated registration, update or visit is committed here before any
// network call is attempted. Drafts live in SQLite on the device (or Postgres when a site
// server hosts the store) together with a cache of participants last synced from the remote.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// ErrRevisionChanged reports that a draft was rewritten while one of its revisions was
// being uploaded.
var ErrRevisionChanged = errors.New("draft changed during upload")

// Opts holds store configuration.
type Opts struct {
	DSN string
	Now func() time.Time
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithClock overrides the clock used for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// DetectDSNType returns "postgres" for Postgres connection strings and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// DraftFilter narrows draft listings.
type DraftFilter struct {
	State           models.DraftState
	ParticipantUUID string
	ExcludeBlocked  bool
}

// DraftRepo persists draft rows. Every write runs in its own transaction scoped to one id.
type DraftRepo interface {
	// SaveParticipantDraft inserts a draft, or with overwrite replaces a pending one in place.
	// Overwriting an uploaded registration fails with ErrAlreadyUploaded, while an update
	// draft replaces an uploaded row as a new revision. An existing pending draft without
	// overwrite fails with ErrDraftExists.
	SaveParticipantDraft(ctx context.Context, d models.DraftParticipant, overwrite bool) error
	// GetParticipantDraft returns nil, nil when no draft exists.
	GetParticipantDraft(ctx context.Context, uuid string) (*models.DraftParticipant, error)
	ListParticipantDrafts(ctx context.Context, f DraftFilter) ([]models.DraftParticipant, error)
	// MarkParticipantDraftUploaded moves a pending draft at the given revision to UPLOADED;
	// already uploaded is a no-op. A draft rewritten since that revision stays pending, is
	// switched to an update, and ErrRevisionChanged is returned.
	MarkParticipantDraftUploaded(ctx context.Context, uuid string, revision int64) error

	SaveVisitDraft(ctx context.Context, d models.DraftVisit, overwrite bool) error
	GetVisitDraft(ctx context.Context, uuid string) (*models.DraftVisit, error)
	ListVisitDrafts(ctx context.Context, f DraftFilter) ([]models.DraftVisit, error)
	// MarkVisitDraftUploaded behaves like MarkParticipantDraftUploaded; a rewritten visit is
	// switched from creation to update.
	MarkVisitDraftUploaded(ctx context.Context, uuid string, revision int64) error

	// RecordUploadFailure bumps the attempt counter of a pending draft. blocked parks the
	// draft until it is overwritten.
	RecordUploadFailure(ctx context.Context, kind models.DraftKind, uuid, errMsg string, blocked bool) error
	// CountPending returns the number of pending participant and visit drafts.
	CountPending(ctx context.Context) (participants, visits int, err error)
}

// SyncedRepo caches participants as last returned by the remote.
type SyncedRepo interface {
	SaveParticipant(ctx context.Context, p models.Participant) error
	// GetParticipant returns nil, nil when the participant is not cached.
	GetParticipant(ctx context.Context, uuid string) (*models.Participant, error)
	DeleteParticipant(ctx context.Context, uuid string) error
}

// Store is a complete local store backend.
type Store interface {
	DraftRepo
	SyncedRepo
	Close() error
}
