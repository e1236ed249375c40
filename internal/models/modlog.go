package models

import (
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	ActionWarn   ActionType = "warn"
	ActionKick   ActionType = "kick"
	ActionMute   ActionType = "mute"
	ActionUnmute ActionType = "unmute"
	ActionBan    ActionType = "ban"
	ActionUnban  ActionType = "unban"

	// ActionNote marks system-generated informational entries. Always pseudo.
	ActionNote ActionType = "note"
)

type CaseStatus string

const (
	CaseStatusPending CaseStatus = "pending"
	CaseStatusSuccess CaseStatus = "success"
	CaseStatusError   CaseStatus = "error"
)

// ModLogEntry is one audit record of a moderation action (a "case").
type ModLogEntry struct {
	ID          uuid.UUID  `json:"caseId" db:"id"`
	CommunityID uuid.UUID  `json:"communityId" db:"community_id"`
	SubjectID   uuid.UUID  `json:"subjectId" db:"subject_id"`
	ActorID     uuid.UUID  `json:"actorId" db:"actor_id"`
	Action      ActionType `json:"action" db:"action"`
	Reason      *string    `json:"reason,omitempty" db:"reason"`
	Duration    *int64     `json:"duration,omitempty" db:"duration"` // seconds
	Status      CaseStatus `json:"status" db:"status"`
	Pseudo      bool       `json:"pseudo" db:"pseudo"`
	Hidden      bool       `json:"hidden" db:"hidden"`
	RefCaseID   *uuid.UUID `json:"refCaseId,omitempty" db:"ref_case_id"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// DurationValue returns the entry duration, or zero for permanent actions.
func (e *ModLogEntry) DurationValue() time.Duration {
	if e.Duration == nil {
		return 0
	}
	return time.Duration(*e.Duration) * time.Second
}

// ModLogFilter narrows a mod log listing to one community.
type ModLogFilter struct {
	CommunityID   uuid.UUID
	SubjectID     *uuid.UUID
	IncludeHidden bool
	Limit         int
	Offset        int
}

func (f *ModLogFilter) Normalize() {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
