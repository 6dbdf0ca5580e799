package models

import (
	"fmt"
	"time"
)

// Well-known participant attribute keys.
const (
	AttrPhone        = "Telephone Number"
	AttrLocation     = "LocationAttribute"
	AttrRegimen      = "Vaccine"
	AttrLanguage     = "personLanguage"
	AttrPersonStatus = "PersonStatus"
	AttrHealthCenter = "Health Center"
)

// Address is the participant's structured address.
type Address struct {
	Country       string `json:"country,omitempty"`
	StateProvince string `json:"state_province,omitempty"`
	CityVillage   string `json:"city_village,omitempty"`
	Address1      string `json:"address1,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
}

// ParticipantBase is the read-only projection shared by synced and draft participants.
type ParticipantBase struct {
	UUID          string            `json:"uuid"`
	ParticipantID string            `json:"participant_id"`
	Gender        string            `json:"gender"`
	BirthDate     time.Time         `json:"birth_date"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Address       *Address          `json:"address,omitempty"`
}

// Attribute returns the value stored under key, or "".
func (b ParticipantBase) Attribute(key string) string {
	if b.Attributes == nil {
		return ""
	}
	return b.Attributes[key]
}

func (b ParticipantBase) Phone() string        { return b.Attribute(AttrPhone) }
func (b ParticipantBase) LocationUUID() string { return b.Attribute(AttrLocation) }
func (b ParticipantBase) Regimen() string      { return b.Attribute(AttrRegimen) }
func (b ParticipantBase) Language() string     { return b.Attribute(AttrLanguage) }
func (b ParticipantBase) PersonStatus() string { return b.Attribute(AttrPersonStatus) }

// Validate checks the identity fields every participant must carry.
func (b ParticipantBase) Validate() error {
	if b.UUID == "" {
		return fmt.Errorf("%w: participant uuid is required", ErrInvalidDraft)
	}
	if b.BirthDate.IsZero() {
		return fmt.Errorf("%w: birth date is required", ErrInvalidDraft)
	}
	return nil
}

func (b ParticipantBase) clone() ParticipantBase {
	out := b
	if b.Attributes != nil {
		out.Attributes = make(map[string]string, len(b.Attributes))
		for k, v := range b.Attributes {
			out.Attributes[k] = v
		}
	}
	if b.Address != nil {
		addr := *b.Address
		out.Address = &addr
	}
	return out
}

// Participant is the canonical record as last synced from the remote.
type Participant struct {
	ParticipantBase
	Visits []VisitDetail `json:"visits,omitempty"`
}

// AssetKind names a binary payload attached to a participant draft.
type AssetKind string

const (
	AssetPhoto             AssetKind = "photo"
	AssetBiometricTemplate AssetKind = "template"
)

// Asset is a binary payload carried in memory until the draft is committed.
type Asset struct {
	Kind  AssetKind
	Bytes []byte
}

// DraftParticipant is a locally originated registration or update.
type DraftParticipant struct {
	ParticipantBase
	IsUpdate         bool                 `json:"is_update"`
	State            DraftState           `json:"state"`
	RegistrationDate time.Time            `json:"registration_date"`
	AssetKeys        map[AssetKind]string `json:"asset_keys,omitempty"`
	Assets           []Asset              `json:"-"`
	Upload           UploadStatus         `json:"upload"`
	// Revision counts writes of the draft row; an upload acknowledges one revision.
	Revision         int64                `json:"revision"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// DraftFromParticipant builds an update draft from a synced participant.
func DraftFromParticipant(p Participant, now time.Time) DraftParticipant {
	return DraftParticipant{
		ParticipantBase:  p.ParticipantBase.clone(),
		IsUpdate:         true,
		State:            DraftStatePendingUpload,
		RegistrationDate: now,
	}
}

// ParticipantSource tags which variant a ParticipantRecord holds.
type ParticipantSource int

const (
	SourceSynced ParticipantSource = iota + 1
	SourceDraft
)

func (s ParticipantSource) String() string {
	switch s {
	case SourceSynced:
		return "synced"
	case SourceDraft:
		return "draft"
	default:
		return "unknown"
	}
}

// ParticipantRecord is either a synced participant or a draft, never both.
type ParticipantRecord struct {
	Source ParticipantSource
	Synced *Participant
	Draft  *DraftParticipant
}

// FromSynced wraps a synced participant.
func FromSynced(p Participant) ParticipantRecord {
	return ParticipantRecord{Source: SourceSynced, Synced: &p}
}

// FromDraft wraps a draft participant.
func FromDraft(d DraftParticipant) ParticipantRecord {
	return ParticipantRecord{Source: SourceDraft, Draft: &d}
}

// Base returns the shared projection of whichever variant is held.
func (r ParticipantRecord) Base() ParticipantBase {
	switch r.Source {
	case SourceSynced:
		return r.Synced.ParticipantBase
	case SourceDraft:
		return r.Draft.ParticipantBase
	default:
		return ParticipantBase{}
	}
}

// Visits returns the synced visit history; drafts carry none.
func (r ParticipantRecord) Visits() []VisitDetail {
	if r.Source == SourceSynced && r.Synced != nil {
		return r.Synced.Visits
	}
	return nil
}
