// Package remote is the client for the backend API the field tool uploads drafts to.
package remote

import (
	"context"
	"sort"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// API is the remote backend contract. Every call is safe to retry except RegisterParticipant,
// which rejects identity collisions with CategoryAlreadyExists.
type API interface {
	RegisterParticipant(ctx context.Context, req ParticipantRequest) (string, error)
	UpdateParticipant(ctx context.Context, req ParticipantRequest) error
	CreateVisit(ctx context.Context, req VisitRequest) (string, error)
	UpdateVisit(ctx context.Context, req VisitRequest) error
	GetParticipantsByUUIDs(ctx context.Context, uuids []string) ([]ParticipantResult, error)
	Ping(ctx context.Context) error
}

// Attribute is one person attribute on the wire.
type Attribute struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ParticipantRequest registers or updates a participant.
type ParticipantRequest struct {
	// RequestID is sent as the Idempotency-Key. It must be stable across retries of the
	// same draft revision.
	RequestID          string          `json:"-"`
	ParticipantUUID    string          `json:"participantUuid"`
	ParticipantID      string          `json:"participantId"`
	Gender             string          `json:"gender"`
	BirthDate          string          `json:"birthdate"`
	RegistrationDate   time.Time       `json:"registrationDate"`
	Attributes         []Attribute     `json:"attributes,omitempty"`
	Address            *models.Address `json:"address,omitempty"`
	Image              string          `json:"image,omitempty"`
	BiometricsTemplate string          `json:"biometricsTemplate,omitempty"`
	SiteUUID           string          `json:"siteUuid"`
	OperatorUUID       string          `json:"operatorUuid"`
}

// VisitRequest creates or updates a visit. Observations use the flattened wire keys.
type VisitRequest struct {
	RequestID       string            `json:"-"`
	VisitUUID       string            `json:"visitUuid"`
	ParticipantUUID string            `json:"participantUuid"`
	VisitType       string            `json:"visitType"`
	VisitStatus     string            `json:"visitStatus"`
	DoseNumber      int               `json:"doseNumber,omitempty"`
	StartDatetime   time.Time         `json:"startDatetime"`
	EndDatetime     time.Time         `json:"endDatetime"`
	Observations    map[string]string `json:"observations,omitempty"`
	SiteUUID        string            `json:"siteUuid"`
	OperatorUUID    string            `json:"operatorUuid"`
}

// ParticipantResult is one entry of a batch lookup: a record or a deleted marker.
type ParticipantResult struct {
	UUID        string
	Deleted     bool
	Participant *models.Participant
}

type participantDTO struct {
	UUID          string          `json:"uuid"`
	ParticipantID string          `json:"participantId"`
	Gender        string          `json:"gender"`
	BirthDate     string          `json:"birthdate"`
	Attributes    []Attribute     `json:"attributes"`
	Address       *models.Address `json:"address,omitempty"`
	Visits        []visitDTO      `json:"visits"`
	Deleted       bool            `json:"isDeleted"`
}

type visitDTO struct {
	UUID          string            `json:"uuid"`
	VisitType     string            `json:"visitType"`
	VisitStatus   string            `json:"visitStatus"`
	DoseNumber    int               `json:"doseNumber"`
	StartDatetime time.Time         `json:"startDatetime"`
	EndDatetime   time.Time         `json:"endDatetime"`
	Observations  map[string]string `json:"observations"`
}

func (d participantDTO) toModel() (*models.Participant, error) {
	p := &models.Participant{
		ParticipantBase: models.ParticipantBase{
			UUID:          d.UUID,
			ParticipantID: d.ParticipantID,
			Gender:        d.Gender,
			Address:       d.Address,
		},
	}
	if d.BirthDate != "" {
		birth, err := time.Parse(time.DateOnly, d.BirthDate)
		if err != nil {
			return nil, err
		}
		p.BirthDate = birth
	}
	if len(d.Attributes) > 0 {
		p.Attributes = make(map[string]string, len(d.Attributes))
		for _, a := range d.Attributes {
			p.Attributes[a.Type] = a.Value
		}
	}
	for _, v := range d.Visits {
		p.Visits = append(p.Visits, models.VisitDetail{
			UUID:         v.UUID,
			Type:         models.VisitType(v.VisitType),
			Status:       models.VisitStatus(v.VisitStatus),
			DoseNumber:   v.DoseNumber,
			StartDate:    v.StartDatetime,
			EndDate:      v.EndDatetime,
			Observations: models.DecodeObservations(v.Observations),
		})
	}
	return p, nil
}

// AttributesFrom converts an attribute map into its wire list, sorted by type.
func AttributesFrom(attrs map[string]string) []Attribute {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]Attribute, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, Attribute{Type: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
