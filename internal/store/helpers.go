package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rebindDollar rewrites ? placeholders as $1, $2, ... for Postgres.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

const participantDraftColumns = `uuid, payload_json, is_update, state, attempts, last_error, blocked, revision, created_at, updated_at`

// scanParticipantDraft scans a participant draft row. Columns win over the payload copy.
func scanParticipantDraft(row scanner) (models.DraftParticipant, error) {
	var d models.DraftParticipant
	var uuid, payload, state string
	var lastError sql.NullString
	var isUpdate, blocked bool
	var attempts int
	var revision int64
	var createdAt, updatedAt time.Time
	if err := row.Scan(&uuid, &payload, &isUpdate, &state, &attempts, &lastError, &blocked, &revision, &createdAt, &updatedAt); err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return d, fmt.Errorf("decode participant draft %s: %w", uuid, err)
	}
	d.UUID = uuid
	d.IsUpdate = isUpdate
	d.State = models.DraftState(state)
	d.Upload = models.UploadStatus{Attempts: attempts, LastError: lastError.String, Blocked: blocked}
	d.Revision = revision
	d.CreatedAt = createdAt
	d.UpdatedAt = updatedAt
	return d, nil
}

const visitDraftColumns = `uuid, participant_uuid, payload_json, is_new, state, attempts, last_error, blocked, revision, created_at, updated_at`

// scanVisitDraft scans a visit draft row. Columns win over the payload copy.
func scanVisitDraft(row scanner) (models.DraftVisit, error) {
	var d models.DraftVisit
	var uuid, participantUUID, payload, state string
	var lastError sql.NullString
	var isNew, blocked bool
	var attempts int
	var revision int64
	var createdAt, updatedAt time.Time
	if err := row.Scan(&uuid, &participantUUID, &payload, &isNew, &state, &attempts, &lastError, &blocked, &revision, &createdAt, &updatedAt); err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return d, fmt.Errorf("decode visit draft %s: %w", uuid, err)
	}
	d.UUID = uuid
	d.ParticipantUUID = participantUUID
	d.IsNew = isNew
	d.State = models.DraftState(state)
	d.Upload = models.UploadStatus{Attempts: attempts, LastError: lastError.String, Blocked: blocked}
	d.Revision = revision
	d.CreatedAt = createdAt
	d.UpdatedAt = updatedAt
	return d, nil
}
