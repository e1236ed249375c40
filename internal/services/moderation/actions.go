package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zentra/warden/internal/models"
)

var (
	ErrMissingPermission = errors.New("missing platform permission")
	ErrTargetNotFound    = errors.New("target not found")
)

// Platform performs the actual enforcement in a community. Implementations
// report ErrMissingPermission and ErrTargetNotFound; any other error is
// treated as transient.
type Platform interface {
	Kick(ctx context.Context, communityID, userID uuid.UUID, reason string) error
	Ban(ctx context.Context, communityID, userID uuid.UUID, reason string, duration *time.Duration) error
	Unban(ctx context.Context, communityID, userID uuid.UUID, reason string) error
	AssignRole(ctx context.Context, communityID, userID, roleID uuid.UUID) error
	RemoveRole(ctx context.Context, communityID, userID, roleID uuid.UUID) error
	// MuteRole returns the role used to mute members, creating it if needed.
	MuteRole(ctx context.Context, communityID uuid.UUID) (uuid.UUID, error)
}

type enforcement struct {
	CommunityID uuid.UUID
	SubjectID   uuid.UUID
	Reason      string
	Duration    *time.Duration
	Payload     models.PunishmentPayload
}

type enforceFunc func(ctx context.Context, p Platform, e enforcement) (models.PunishmentPayload, error)

type action struct {
	verb     string
	inverse  models.ActionType
	reverses models.ActionType // set on unmute/unban
	// systemActs is set when the platform call is made by the system on the
	// target (role changes, removal), so the system needs standing too.
	systemActs bool
	timed      bool
	pseudo     bool
	permission int64
	enforce    enforceFunc
}

var actions = map[models.ActionType]action{
	models.ActionWarn: {
		verb:       "warned",
		permission: models.PermissionModerateMembers,
		enforce:    noop,
	},
	models.ActionKick: {
		verb:       "kicked",
		systemActs: true,
		permission: models.PermissionKickMembers,
		enforce: func(ctx context.Context, p Platform, e enforcement) (models.PunishmentPayload, error) {
			return models.PunishmentPayload{}, p.Kick(ctx, e.CommunityID, e.SubjectID, e.Reason)
		},
	},
	models.ActionMute: {
		verb:       "muted",
		inverse:    models.ActionUnmute,
		systemActs: true,
		timed:      true,
		permission: models.PermissionModerateMembers,
		enforce: func(ctx context.Context, p Platform, e enforcement) (models.PunishmentPayload, error) {
			roleID, err := p.MuteRole(ctx, e.CommunityID)
			if err != nil {
				return models.PunishmentPayload{}, err
			}
			if err := p.AssignRole(ctx, e.CommunityID, e.SubjectID, roleID); err != nil {
				return models.PunishmentPayload{}, err
			}
			return models.PunishmentPayload{RoleID: &roleID}, nil
		},
	},
	models.ActionUnmute: {
		verb:       "unmuted",
		inverse:    models.ActionMute,
		reverses:   models.ActionMute,
		systemActs: true,
		permission: models.PermissionModerateMembers,
		enforce: func(ctx context.Context, p Platform, e enforcement) (models.PunishmentPayload, error) {
			roleID := e.Payload.RoleID
			if roleID == nil {
				id, err := p.MuteRole(ctx, e.CommunityID)
				if err != nil {
					return models.PunishmentPayload{}, err
				}
				roleID = &id
			}
			return models.PunishmentPayload{}, p.RemoveRole(ctx, e.CommunityID, e.SubjectID, *roleID)
		},
	},
	models.ActionBan: {
		verb:       "banned",
		inverse:    models.ActionUnban,
		systemActs: true,
		timed:      true,
		permission: models.PermissionBanMembers,
		enforce: func(ctx context.Context, p Platform, e enforcement) (models.PunishmentPayload, error) {
			return models.PunishmentPayload{}, p.Ban(ctx, e.CommunityID, e.SubjectID, e.Reason, e.Duration)
		},
	},
	models.ActionUnban: {
		verb:       "unbanned",
		inverse:    models.ActionBan,
		reverses:   models.ActionBan,
		permission: models.PermissionBanMembers,
		enforce: func(ctx context.Context, p Platform, e enforcement) (models.PunishmentPayload, error) {
			return models.PunishmentPayload{}, p.Unban(ctx, e.CommunityID, e.SubjectID, e.Reason)
		},
	},
	models.ActionNote: {
		pseudo:  true,
		enforce: noop,
	},
}

func noop(context.Context, Platform, enforcement) (models.PunishmentPayload, error) {
	return models.PunishmentPayload{}, nil
}

// RequiredPermission returns the community permission an actor needs for a.
func RequiredPermission(a models.ActionType) (int64, bool) {
	act, ok := actions[a]
	if !ok || act.pseudo {
		return 0, false
	}
	return act.permission, true
}

// IsRevocation reports whether a ends an earlier punishment (unmute, unban).
func IsRevocation(a models.ActionType) bool {
	return actions[a].reverses != ""
}

// Timed reports whether a accepts a duration.
func Timed(a models.ActionType) bool {
	return actions[a].timed
}
