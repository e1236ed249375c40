package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PunishmentKey identifies the single live punishment of a type for a subject in a community.
type PunishmentKey struct {
	SubjectID   uuid.UUID  `json:"subjectId" db:"subject_id"`
	CommunityID uuid.UUID  `json:"communityId" db:"community_id"`
	Type        ActionType `json:"type" db:"punishment_type"`
}

// PunishmentPayload carries what is needed to undo the punishment.
type PunishmentPayload struct {
	RoleID *uuid.UUID `json:"roleId,omitempty"`
}

func (p PunishmentPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalPunishmentPayload(data []byte) (PunishmentPayload, error) {
	var p PunishmentPayload
	if len(data) == 0 {
		return p, nil
	}
	err := json.Unmarshal(data, &p)
	return p, err
}

// ActivePunishment is a timed punishment currently in effect.
type ActivePunishment struct {
	PunishmentKey
	ExpiresAt time.Time         `json:"expiresAt" db:"expires_at"`
	CaseRef   uuid.UUID         `json:"caseRef" db:"case_ref"`
	Payload   PunishmentPayload `json:"payload" db:"payload"`
}

// Due reports whether the punishment should be reversed at now.
func (p *ActivePunishment) Due(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
