package moderation

import (
	"github.com/google/uuid"
	"github.com/zentra/warden/internal/models"
)

// Subject is a member taking part in a moderation action, with their rank
// already resolved for the community.
type Subject struct {
	ID   uuid.UUID
	Rank models.Rank
}

type DenyReason string

const (
	DenySelf   DenyReason = "cannot target self"
	DenyImmune DenyReason = "target is immune"
	DenyRank   DenyReason = "insufficient rank"
	DenySystem DenyReason = "system lacks standing"
)

var denyMessages = map[DenyReason]string{
	DenySelf:   "You cannot use this on yourself.",
	DenyImmune: "That user is protected and cannot be punished.",
	DenyRank:   "You cannot punish a member with an equal or higher rank.",
	DenySystem: "I cannot act on that member: their highest role is not below mine.",
}

type CheckRequest struct {
	Actor  Subject
	Target Subject
	System Subject
	Action models.ActionType
	// NotifyOnFailure only controls Decision.Surface.
	NotifyOnFailure bool
	// Override asks to bypass the immunity list. Honoured for superusers only.
	Override bool
}

type Decision struct {
	Allowed bool
	Reason  DenyReason
	Message string
	Surface bool
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason, surface bool) Decision {
	return Decision{Reason: reason, Message: denyMessages[reason], Surface: surface}
}

// Policy holds the process-wide lists the hierarchy check consults.
type Policy struct {
	superusers map[uuid.UUID]struct{}
	immune     map[uuid.UUID]struct{}
}

func NewPolicy(superusers, immune []uuid.UUID) *Policy {
	p := &Policy{
		superusers: make(map[uuid.UUID]struct{}, len(superusers)),
		immune:     make(map[uuid.UUID]struct{}, len(immune)),
	}
	for _, id := range superusers {
		p.superusers[id] = struct{}{}
	}
	for _, id := range immune {
		p.immune[id] = struct{}{}
	}
	return p
}

func (p *Policy) IsSuperuser(id uuid.UUID) bool {
	if p == nil {
		return false
	}
	_, ok := p.superusers[id]
	return ok
}

func (p *Policy) IsImmune(id uuid.UUID) bool {
	if p == nil {
		return false
	}
	_, ok := p.immune[id]
	return ok
}

// Check decides whether req.Actor may apply req.Action to req.Target. Rules
// are evaluated in order and the first failing rule wins.
func (p *Policy) Check(req CheckRequest) Decision {
	if req.Actor.ID == req.Target.ID {
		return deny(DenySelf, req.NotifyOnFailure)
	}

	if p.IsImmune(req.Target.ID) && !(req.Override && p.IsSuperuser(req.Actor.ID)) {
		return deny(DenyImmune, req.NotifyOnFailure)
	}

	if !req.Actor.Rank.Outranks(req.Target.Rank) {
		return deny(DenyRank, req.NotifyOnFailure)
	}

	if actions[req.Action].systemActs && !req.System.Rank.Outranks(req.Target.Rank) {
		return deny(DenySystem, req.NotifyOnFailure)
	}

	return allow()
}
