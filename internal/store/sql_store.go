package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// maxTxAttempts bounds retries of transactions the backend aborted for contention.
const maxTxAttempts = 3

// dialect captures what differs between the SQL backends.
type dialect struct {
	name      string
	rebind    func(string) string
	txOptions *sql.TxOptions
	// retryable reports contention errors (busy database, serialization failure).
	retryable func(error) bool
}

// sqlStore implements DraftRepo and SyncedRepo on database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect, cfg Opts) sqlStore {
	clock := cfg.Now
	if clock == nil {
		clock = time.Now
	}
	return sqlStore{db: db, dialect: d, now: func() time.Time { return clock().UTC() }}
}

func (s *sqlStore) q(query string) string {
	if s.dialect.rebind == nil {
		return query
	}
	return s.dialect.rebind(query)
}

// withTx runs fn in a single transaction, retrying when the backend reports contention.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || s.dialect.retryable == nil || !s.dialect.retryable(err) {
			return err
		}
		slog.Warn("sqlStore.withTx: transaction contention, retrying", "backend", s.dialect.name, "attempt", attempt, "error", err)
	}
	return err
}

func (s *sqlStore) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.txOptions)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("sqlStore.runTx: rollback failed", "backend", s.dialect.name, "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// existingState returns the state of a draft row, or "" when there is none.
func (s *sqlStore) existingState(ctx context.Context, tx *sql.Tx, table, uuid string) (models.DraftState, error) {
	var state string
	err := tx.QueryRowContext(ctx, s.q(`SELECT state FROM `+table+` WHERE uuid = ?`), uuid).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s state: %w", table, err)
	}
	return models.DraftState(state), nil
}

// checkWritable applies the overwrite rules to an existing row state. An uploaded row may
// only be replaced by an update of the remote entity, which starts a new revision.
func checkWritable(existing models.DraftState, overwrite, revision bool, uuid string) error {
	switch {
	case existing == "":
		return nil
	case existing == models.DraftStateUploaded && revision:
		return nil
	case existing == models.DraftStateUploaded:
		return fmt.Errorf("%w: %s", models.ErrAlreadyUploaded, uuid)
	case !overwrite:
		return fmt.Errorf("%w: %s", models.ErrDraftExists, uuid)
	default:
		return nil
	}
}

func (s *sqlStore) SaveParticipantDraft(ctx context.Context, d models.DraftParticipant, overwrite bool) error {
	if err := d.Validate(); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.existingState(ctx, tx, "draft_participants", d.UUID)
		if err != nil {
			return err
		}
		if err := checkWritable(existing, overwrite, d.IsUpdate, d.UUID); err != nil {
			return err
		}
		now := s.now()
		d.State = models.DraftStatePendingUpload
		d.Upload = models.UploadStatus{}
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode participant draft: %w", err)
		}
		if existing == "" {
			_, err = tx.ExecContext(ctx, s.q(`INSERT INTO draft_participants (`+participantDraftColumns+`)
				VALUES (?, ?, ?, ?, 0, NULL, ?, 1, ?, ?)`),
				d.UUID, string(payload), d.IsUpdate, string(models.DraftStatePendingUpload), false, now, now)
		} else {
			// A pending row keeps its is_update flag: it records what the remote already holds.
			_, err = tx.ExecContext(ctx, s.q(`UPDATE draft_participants
				SET payload_json = ?, is_update = CASE WHEN state = ? THEN is_update ELSE ? END, state = ?,
					attempts = 0, last_error = NULL, blocked = ?, revision = revision + 1, updated_at = ?
				WHERE uuid = ?`),
				string(payload), string(models.DraftStatePendingUpload), d.IsUpdate, string(models.DraftStatePendingUpload), false, now, d.UUID)
		}
		if err != nil {
			return fmt.Errorf("write participant draft: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("sqlStore.SaveParticipantDraft failed", "backend", s.dialect.name, "participantUUID", d.UUID, "overwrite", overwrite, "error", err)
		return err
	}
	slog.Debug("sqlStore.SaveParticipantDraft succeeded", "backend", s.dialect.name, "participantUUID", d.UUID, "isUpdate", d.IsUpdate, "overwrite", overwrite)
	return nil
}

func (s *sqlStore) GetParticipantDraft(ctx context.Context, uuid string) (*models.DraftParticipant, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+participantDraftColumns+` FROM draft_participants WHERE uuid = ?`), uuid)
	d, err := scanParticipantDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant draft %s: %w", uuid, err)
	}
	return &d, nil
}

func (s *sqlStore) ListParticipantDrafts(ctx context.Context, f DraftFilter) ([]models.DraftParticipant, error) {
	query, args := filterClause(`SELECT `+participantDraftColumns+` FROM draft_participants WHERE 1 = 1`, f, "uuid")
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY created_at ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("list participant drafts: %w", err)
	}
	defer rows.Close()

	var out []models.DraftParticipant
	for rows.Next() {
		d, err := scanParticipantDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant draft: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant drafts: %w", err)
	}
	return out, nil
}

func filterClause(base string, f DraftFilter, participantColumn string) (string, []any) {
	query := base
	var args []any
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, string(f.State))
	}
	if f.ParticipantUUID != "" {
		query += ` AND ` + participantColumn + ` = ?`
		args = append(args, f.ParticipantUUID)
	}
	if f.ExcludeBlocked {
		query += ` AND blocked = ?`
		args = append(args, false)
	}
	return query, args
}

// existsRemotely is the column update recording that the remote holds the entity, so any
// later revision must be sent as an update.
type existsRemotely struct {
	column string
	value  bool
}

var (
	participantExists = existsRemotely{column: "is_update", value: true}
	visitExists       = existsRemotely{column: "is_new", value: false}
)

// markUploaded flips a pending row to UPLOADED when it is still at the acknowledged
// revision. The move is forward-only, so an uploaded row is left alone. A row rewritten
// since the upload read it stays pending, is marked as existing remotely, and
// ErrRevisionChanged is returned.
func (s *sqlStore) markUploaded(ctx context.Context, table, uuid string, revision int64, exists existsRemotely) error {
	var current int64
	stale := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stale = false
		var state string
		err := tx.QueryRowContext(ctx, s.q(`SELECT state, revision FROM `+table+` WHERE uuid = ?`), uuid).Scan(&state, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", table, uuid, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read %s state: %w", table, err)
		}
		if models.DraftState(state) == models.DraftStateUploaded {
			slog.Debug("sqlStore.markUploaded: already uploaded", "table", table, "uuid", uuid)
			return nil
		}
		if current != revision {
			stale = true
			_, err = tx.ExecContext(ctx, s.q(`UPDATE `+table+` SET `+exists.column+` = ? WHERE uuid = ?`), exists.value, uuid)
			if err != nil {
				return fmt.Errorf("mark %s %s as existing remotely: %w", table, uuid, err)
			}
			return nil
		}
		_, err = tx.ExecContext(ctx, s.q(`UPDATE `+table+` SET state = ?, last_error = NULL, updated_at = ?
			WHERE uuid = ? AND state = ? AND revision = ?`),
			string(models.DraftStateUploaded), s.now(), uuid, string(models.DraftStatePendingUpload), revision)
		if err != nil {
			return fmt.Errorf("mark %s uploaded: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if stale {
		slog.Info("sqlStore.markUploaded: draft rewritten during upload, newer revision stays pending",
			"table", table, "uuid", uuid, "acknowledged", revision, "current", current)
		return fmt.Errorf("%w: %s %s acknowledged revision %d, current revision %d", ErrRevisionChanged, table, uuid, revision, current)
	}
	return nil
}

func (s *sqlStore) MarkParticipantDraftUploaded(ctx context.Context, uuid string, revision int64) error {
	err := s.markUploaded(ctx, "draft_participants", uuid, revision, participantExists)
	if errors.Is(err, ErrRevisionChanged) {
		return err
	}
	if err != nil {
		slog.Error("sqlStore.MarkParticipantDraftUploaded failed", "participantUUID", uuid, "error", err)
		return err
	}
	slog.Debug("sqlStore.MarkParticipantDraftUploaded", "participantUUID", uuid)
	return nil
}

func (s *sqlStore) SaveVisitDraft(ctx context.Context, d models.DraftVisit, overwrite bool) error {
	if err := d.Validate(); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.existingState(ctx, tx, "draft_visits", d.UUID)
		if err != nil {
			return err
		}
		if err := checkWritable(existing, overwrite, !d.IsNew, d.UUID); err != nil {
			return err
		}
		now := s.now()
		d.State = models.DraftStatePendingUpload
		d.Upload = models.UploadStatus{}
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode visit draft: %w", err)
		}
		if existing == "" {
			_, err = tx.ExecContext(ctx, s.q(`INSERT INTO draft_visits (`+visitDraftColumns+`)
				VALUES (?, ?, ?, ?, ?, 0, NULL, ?, 1, ?, ?)`),
				d.UUID, d.ParticipantUUID, string(payload), d.IsNew, string(models.DraftStatePendingUpload), false, now, now)
		} else {
			_, err = tx.ExecContext(ctx, s.q(`UPDATE draft_visits
				SET participant_uuid = ?, payload_json = ?, is_new = CASE WHEN state = ? THEN is_new ELSE ? END, state = ?,
					attempts = 0, last_error = NULL, blocked = ?, revision = revision + 1, updated_at = ?
				WHERE uuid = ?`),
				d.ParticipantUUID, string(payload), string(models.DraftStatePendingUpload), d.IsNew, string(models.DraftStatePendingUpload), false, now, d.UUID)
		}
		if err != nil {
			return fmt.Errorf("write visit draft: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("sqlStore.SaveVisitDraft failed", "backend", s.dialect.name, "visitUUID", d.UUID, "overwrite", overwrite, "error", err)
		return err
	}
	slog.Debug("sqlStore.SaveVisitDraft succeeded", "backend", s.dialect.name, "visitUUID", d.UUID, "participantUUID", d.ParticipantUUID)
	return nil
}

func (s *sqlStore) GetVisitDraft(ctx context.Context, uuid string) (*models.DraftVisit, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+visitDraftColumns+` FROM draft_visits WHERE uuid = ?`), uuid)
	d, err := scanVisitDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visit draft %s: %w", uuid, err)
	}
	return &d, nil
}

func (s *sqlStore) ListVisitDrafts(ctx context.Context, f DraftFilter) ([]models.DraftVisit, error) {
	query, args := filterClause(`SELECT `+visitDraftColumns+` FROM draft_visits WHERE 1 = 1`, f, "participant_uuid")
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY created_at ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("list visit drafts: %w", err)
	}
	defer rows.Close()

	var out []models.DraftVisit
	for rows.Next() {
		d, err := scanVisitDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit draft: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visit drafts: %w", err)
	}
	return out, nil
}

func (s *sqlStore) MarkVisitDraftUploaded(ctx context.Context, uuid string, revision int64) error {
	err := s.markUploaded(ctx, "draft_visits", uuid, revision, visitExists)
	if errors.Is(err, ErrRevisionChanged) {
		return err
	}
	if err != nil {
		slog.Error("sqlStore.MarkVisitDraftUploaded failed", "visitUUID", uuid, "error", err)
		return err
	}
	slog.Debug("sqlStore.MarkVisitDraftUploaded", "visitUUID", uuid)
	return nil
}

func tableFor(kind models.DraftKind) (string, error) {
	switch kind {
	case models.DraftKindParticipant:
		return "draft_participants", nil
	case models.DraftKindVisit:
		return "draft_visits", nil
	default:
		return "", fmt.Errorf("unknown draft kind %q", kind)
	}
}

func (s *sqlStore) RecordUploadFailure(ctx context.Context, kind models.DraftKind, uuid, errMsg string, blocked bool) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE `+table+`
		SET attempts = attempts + 1, last_error = ?, blocked = ?, updated_at = ?
		WHERE uuid = ? AND state = ?`),
		nilIfEmpty(errMsg), blocked, s.now(), uuid, string(models.DraftStatePendingUpload))
	if err != nil {
		return fmt.Errorf("record upload failure for %s %s: %w", kind, uuid, err)
	}
	slog.Debug("sqlStore.RecordUploadFailure", "kind", kind, "uuid", uuid, "blocked", blocked)
	return nil
}

func (s *sqlStore) CountPending(ctx context.Context) (int, int, error) {
	var participants, visits int
	pending := string(models.DraftStatePendingUpload)
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM draft_participants WHERE state = ?`), pending).Scan(&participants); err != nil {
		return 0, 0, fmt.Errorf("count pending participant drafts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM draft_visits WHERE state = ?`), pending).Scan(&visits); err != nil {
		return 0, 0, fmt.Errorf("count pending visit drafts: %w", err)
	}
	return participants, visits, nil
}

func (s *sqlStore) SaveParticipant(ctx context.Context, p models.Participant) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE participants SET payload_json = ?, synced_at = ? WHERE uuid = ?`),
			string(payload), s.now(), p.UUID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO participants (uuid, payload_json, synced_at) VALUES (?, ?, ?)`),
			p.UUID, string(payload), s.now())
		return err
	})
	if err != nil {
		slog.Error("sqlStore.SaveParticipant failed", "participantUUID", p.UUID, "error", err)
		return fmt.Errorf("save participant %s: %w", p.UUID, err)
	}
	slog.Debug("sqlStore.SaveParticipant succeeded", "participantUUID", p.UUID, "visits", len(p.Visits))
	return nil
}

func (s *sqlStore) GetParticipant(ctx context.Context, uuid string) (*models.Participant, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT payload_json FROM participants WHERE uuid = ?`), uuid).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", uuid, err)
	}
	var p models.Participant
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode participant %s: %w", uuid, err)
	}
	return &p, nil
}

func (s *sqlStore) DeleteParticipant(ctx context.Context, uuid string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM participants WHERE uuid = ?`), uuid); err != nil {
		return fmt.Errorf("delete participant %s: %w", uuid, err)
	}
	slog.Debug("sqlStore.DeleteParticipant", "participantUUID", uuid)
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing database connection", "backend", s.dialect.name)
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close database", "backend", s.dialect.name, "error", err)
	}
	return err
}
